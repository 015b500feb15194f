package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier writes outgoing mail to the log instead of a mail provider.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendEmailVerification(ctx context.Context, in EmailVerificationInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.log.InfoContext(ctx, "notification.email_verification",
		"email", in.Email,
		"username", in.Username,
		"verification_url", in.VerificationURL,
	)
	return nil
}
