package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/screentime/internal/sharedkv"
)

// Notifier accepts a "re-read that key" signal without blocking.
type Notifier interface {
	EnqueueNotification(key string) bool
}

// Listener forwards shared-KV changes of the event key to a Notifier.
// It never touches state itself: missed notifications are lost for good, so
// nothing on this path may block.
type Listener struct {
	watcher *sharedkv.Watcher
	target  Notifier
	logger  *slog.Logger
}

// NewListener watches key in kv and forwards changes to target.
func NewListener(kv *sharedkv.Dir, key string, target Notifier, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := kv.Watch(logger, key)
	if err != nil {
		return nil, err
	}
	return &Listener{watcher: w, target: target, logger: logger}, nil
}

// Run forwards notifications until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	defer l.watcher.Close()
	err := l.watcher.Run(ctx, func(key string) {
		if !l.target.EnqueueNotification(key) {
			l.logger.Warn("threshold notification dropped: engine stopped", "key", key)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
