package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/geocoder89/taskora/internal/domain/project"
)

type membershipKey struct {
	userID    string
	projectID string
}

type MembersRepo struct {
	mu    sync.RWMutex
	roles map[membershipKey]project.Role

	reads atomic.Int64
}

func NewMembersRepo() *MembersRepo {
	return &MembersRepo{
		roles: make(map[membershipKey]project.Role),
	}
}

func (r *MembersRepo) Reads() int64 {
	return r.reads.Load()
}

// Set stores a raw role without validation, so tests can plant bad data.
func (r *MembersRepo) Set(userID, projectID string, role project.Role) {
	r.mu.Lock()
	r.roles[membershipKey{userID, projectID}] = role
	r.mu.Unlock()
}

func (r *MembersRepo) Delete(_ context.Context, projectID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := membershipKey{userID, projectID}
	if _, ok := r.roles[k]; !ok {
		return project.ErrMembershipNotFound
	}
	delete(r.roles, k)
	return nil
}

func (r *MembersRepo) FindRole(_ context.Context, userID, projectID string) (project.Role, error) {
	r.reads.Add(1)

	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[membershipKey{userID, projectID}]
	if !ok {
		return "", project.ErrMembershipNotFound
	}
	return role, nil
}
