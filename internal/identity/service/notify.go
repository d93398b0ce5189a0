package service

import (
	"context"
	"log/slog"

	"github.com/fluxgate/tenancy/pkg/slogx"
)

// Notifier delivers one-time verification codes out of band. Production
// wires an email or SMS gateway; development uses LogNotifier.
type Notifier interface {
	SendCode(ctx context.Context, email, code string) error
}

// LogNotifier writes codes to the structured log instead of delivering
// them. Development and test use only.
type LogNotifier struct{}

func (LogNotifier) SendCode(ctx context.Context, email, code string) error {
	slogx.FromContext(ctx).Info("mfa code issued",
		slog.String("email", email),
		slog.String("code", code),
	)
	return nil
}
