package engine

import (
	"log/slog"

	"github.com/roach88/screentime/internal/domain"
)

// logCommandError logs a failed command with its error code. Conflicts and
// invalid transitions are expected user-facing outcomes and log at warn.
func logCommandError(logger *slog.Logger, c command, err error) {
	code := domain.CodeOf(err)
	switch code {
	case domain.ErrCodeConflict, domain.ErrCodeInvalidState, domain.ErrCodeNotFound:
		logger.Warn("command rejected",
			"command", c.name,
			"code", code,
			"error", err)
	default:
		logger.Error("command failed",
			"command", c.name,
			"code", code,
			"error", err)
	}
}
