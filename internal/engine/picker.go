package engine

import (
	"context"
	"errors"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/selection"
)

// SelectWithPicker opens a context for category, presents it with picker
// and records the result as Pending, ready for Commit.
//
// The picker runs on the caller's goroutine, never on the command loop, so
// usage notifications keep flowing while it is on screen. A presentation is
// bounded by the picker timeout. A TRANSIENT_PICKER or PICKER_TIMEOUT
// failure resets the selection, rehydrates it from Master and retries
// exactly once; a second failure is returned and the selection is left idle.
// Cancelling ctx discards the selection.
func (e *Engine) SelectWithPicker(ctx context.Context, picker domain.Picker, category domain.Category) (selection.PendingView, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := e.OpenContext(ctx, category)
		if err != nil {
			return selection.PendingView{}, err
		}

		handles, err := e.present(ctx, picker, req)
		if err == nil {
			view, err := e.PickerReturned(ctx, handles)
			if err != nil {
				e.abandon(ctx)
				return selection.PendingView{}, err
			}
			return view, nil
		}

		e.abandon(ctx)
		if ctx.Err() != nil {
			return selection.PendingView{}, ctx.Err()
		}
		lastErr = err
		if !domain.IsTransientPickerError(err) {
			return selection.PendingView{}, err
		}
		if attempt == 1 {
			e.metrics.PickerRetry()
			e.logger.Warn("picker failed; retrying once from Master",
				"category", category,
				"code", domain.CodeOf(err),
				"error", err)
		}
	}
	return selection.PendingView{}, lastErr
}

func (e *Engine) present(ctx context.Context, picker domain.Picker, req domain.PickerRequest) ([]domain.CapabilityHandle, error) {
	pctx, cancel := context.WithTimeout(ctx, e.pickerTimeout)
	defer cancel()

	handles, err := picker.Present(pctx, req)
	if err == nil {
		return handles, nil
	}
	if ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return nil, domain.NewPickerTimeoutError(err)
	}
	return nil, err
}

// abandon resets the selection even when ctx is already cancelled.
func (e *Engine) abandon(ctx context.Context) {
	if err := e.Reset(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrStopped) {
		e.logger.Error("selection reset failed", "error", err)
	}
}
