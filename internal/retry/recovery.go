package retry

import (
	"context"
	"log/slog"
)

// SessionService is the credential collaborator used for recovery.
type SessionService interface {
	RefreshCredentials(ctx context.Context) error
	TestConnection(ctx context.Context) (bool, error)
}

// RecoverSession refreshes stored credentials and validates the session
// with a connectivity probe. It reports whether recovery succeeded.
func RecoverSession(ctx context.Context, svc SessionService) bool {
	if svc == nil {
		return false
	}

	if err := svc.RefreshCredentials(ctx); err != nil {
		slog.Error("error during session recovery", "error", err)
		return false
	}

	ok, err := svc.TestConnection(ctx)
	if err != nil {
		slog.Error("error during session recovery", "error", err)
		return false
	}
	if !ok {
		slog.Error("failed to recover session")
		return false
	}

	slog.Info("session recovered successfully")
	return true
}
