package notifications

import "context"

type EmailVerificationInput struct {
	Email           string
	Username        string
	VerificationURL string
}

type Notifier interface {
	SendEmailVerification(ctx context.Context, input EmailVerificationInput) error
}
