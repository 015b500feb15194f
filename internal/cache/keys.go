package cache

import "strings"

const projectPrefix = "project:"

// ProjectPrefix scopes every cached value that belongs to one project, so task
// writes can drop them together.
func ProjectPrefix(projectID string) string {
	return projectPrefix + strings.ToLower(strings.TrimSpace(projectID)) + ":"
}

func ProjectStatsKey(projectID string) string {
	return ProjectPrefix(projectID) + "stats:v1"
}
