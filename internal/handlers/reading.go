package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nadmax/autocourse/internal/course"
	"github.com/nadmax/autocourse/internal/platform"
)

type ReadingHandler struct {
	api         platform.ReadingAPI
	callTimeout time.Duration
	marker      string
}

func NewReadingHandler(api platform.ReadingAPI, opts Options) *ReadingHandler {
	opts = opts.withDefaults()
	return &ReadingHandler{
		api:         api,
		callTimeout: opts.CallTimeout,
		marker:      opts.ReadingMarker,
	}
}

// Complete marks a supplement read. The endpoint carries no structured
// success flag, so success is the marker literal appearing in the body.
func (h *ReadingHandler) Complete(ctx context.Context, item course.Item, s Session) error {
	body, err := platform.Call(ctx, h.callTimeout, func(ctx context.Context) (string, error) {
		return h.api.CompleteSupplement(ctx, platform.SupplementCompletion{
			UserID:   s.UserID,
			CourseID: s.CourseID,
			ItemID:   item.ID,
			Token:    s.Token,
		})
	})
	if err != nil {
		return fmt.Errorf("%w: item %s: %w", ErrReadingCompletion, item.ID, err)
	}
	if !strings.Contains(body, h.marker) {
		return fmt.Errorf("%w: item %s: response does not contain %q", ErrReadingCompletion, item.ID, h.marker)
	}

	return nil
}
