package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// FallbackEngine tries the primary engine and, when it fails for a reason
// other than cancellation, retries the same request on the fallback engine.
type FallbackEngine struct {
	primary  Engine
	fallback Engine
	logger   *slog.Logger
}

// NewFallbackEngine wraps primary with fallback. A nil fallback disables it.
func NewFallbackEngine(primary, fallback Engine, logger *slog.Logger) *FallbackEngine {
	return &FallbackEngine{primary: primary, fallback: fallback, logger: logger}
}

func (f *FallbackEngine) Name() string {
	if f.fallback == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *FallbackEngine) Available() bool {
	return f.primary.Available() || (f.fallback != nil && f.fallback.Available())
}

func (f *FallbackEngine) Synthesize(ctx context.Context, req Request) error {
	var primaryErr error
	if f.primary.Available() {
		primaryErr = f.primary.Synthesize(ctx, req)
		if primaryErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return primaryErr
		}
	} else {
		primaryErr = fmt.Errorf("%s: %w", f.primary.Name(), ErrEngineUnavailable)
	}

	if f.fallback == nil || !f.fallback.Available() {
		return primaryErr
	}

	f.logger.Warn("primary speech engine failed, using fallback",
		"primary", f.primary.Name(),
		"fallback", f.fallback.Name(),
		"error", primaryErr,
	)
	os.Remove(req.OutPath)

	if err := f.fallback.Synthesize(ctx, req); err != nil {
		// joined in order, so apperr.KindOf reports the primary failure
		return errors.Join(primaryErr, err)
	}
	return nil
}
