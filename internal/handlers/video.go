package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nadmax/autocourse/internal/course"
	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/platform"
)

type VideoState int

const (
	VideoNotStarted VideoState = iota
	VideoStarted
	VideoProgressUpdated
	VideoEnded
)

func (s VideoState) String() string {
	switch s {
	case VideoStarted:
		return "started"
	case VideoProgressUpdated:
		return "progress_updated"
	case VideoEnded:
		return "ended"
	default:
		return "not_started"
	}
}

type VideoHandler struct {
	api         platform.VideoAPI
	callTimeout time.Duration
	settleDelay time.Duration
	sleep       func(context.Context, time.Duration) error
	log         *logger.Logger
}

func NewVideoHandler(api platform.VideoAPI, opts Options) *VideoHandler {
	opts = opts.withDefaults()
	return &VideoHandler{
		api:         api,
		callTimeout: opts.CallTimeout,
		settleDelay: opts.SettleDelay,
		sleep:       sleepCtx,
		log:         opts.Logger.With("handler", "video"),
	}
}

func (h *VideoHandler) Complete(ctx context.Context, item course.Item, s Session) error {
	_, err := h.Watch(ctx, item, s)
	return err
}

// Watch drives the item through play, progress and end, or straight to end
// when the platform marks the video skippable. It returns the last state reached.
func (h *VideoHandler) Watch(ctx context.Context, item course.Item, s Session) (VideoState, error) {
	state := VideoNotStarted

	md, err := platform.Call(ctx, h.callTimeout, func(ctx context.Context) (*platform.VideoMetadata, error) {
		return h.api.GetVideoMetadata(ctx, s.CourseID, item.ID)
	})
	if err != nil {
		return state, fmt.Errorf("%w: metadata for item %s: %w", ErrVideoEvent, item.ID, err)
	}
	if md == nil {
		md = &platform.VideoMetadata{}
	}

	ev := platform.VideoEvent{
		UserID:     s.UserID,
		CourseID:   s.CourseID,
		ItemID:     item.ID,
		TrackingID: md.TrackingID,
		Token:      s.Token,
	}

	if md.CanSkip {
		h.log.Debug("video is skippable, sending end event only", "item_id", item.ID)
		if err := h.event(ctx, ev, platform.VideoEnd); err != nil {
			return state, err
		}
		return VideoEnded, nil
	}

	if err := h.event(ctx, ev, platform.VideoPlay); err != nil {
		return state, err
	}
	state = VideoStarted

	status, err := platform.Call(ctx, h.callTimeout, func(ctx context.Context) (int, error) {
		return h.api.UpdateVideoProgress(ctx, platform.VideoProgress{
			UserID:     s.UserID,
			CourseID:   s.CourseID,
			ItemID:     item.ID,
			TrackingID: md.TrackingID,
			Token:      s.Token,
			ViewedUpTo: item.TimeCommitment,
		})
	})
	if err != nil {
		return state, fmt.Errorf("%w: progress for item %s: %w", ErrVideoEvent, item.ID, err)
	}
	if status != http.StatusNoContent {
		return state, fmt.Errorf("%w: progress for item %s returned status %d, want %d", ErrVideoEvent, item.ID, status, http.StatusNoContent)
	}
	state = VideoProgressUpdated

	if err := h.sleep(ctx, h.settleDelay); err != nil {
		return state, fmt.Errorf("%w: settle delay for item %s: %w", ErrVideoEvent, item.ID, err)
	}

	if err := h.event(ctx, ev, platform.VideoEnd); err != nil {
		return state, err
	}

	return VideoEnded, nil
}

func (h *VideoHandler) event(ctx context.Context, ev platform.VideoEvent, kind platform.VideoEventKind) error {
	ev.Kind = kind
	status, err := platform.Call(ctx, h.callTimeout, func(ctx context.Context) (int, error) {
		return h.api.SendVideoEvent(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("%w: %s for item %s: %w", ErrVideoEvent, kind, ev.ItemID, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: %s for item %s returned status %d, want %d", ErrVideoEvent, kind, ev.ItemID, status, http.StatusOK)
	}

	return nil
}
