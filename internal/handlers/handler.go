// Package handlers implements the per-type protocols that mark one course
// item complete on the platform. A handler owns its item's call sequence and
// reports failure through the sentinel errors below; it never retries.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/nadmax/autocourse/internal/course"
	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/platform"
)

var (
	ErrVideoEvent        = errors.New("video event failed")
	ErrReadingCompletion = errors.New("reading completion not confirmed")
	ErrLaunchData        = errors.New("launch data unavailable")
	ErrGradedAssignment  = errors.New("graded assignment update failed")
)

const (
	DefaultCallTimeout   = 30 * time.Second
	DefaultSettleDelay   = 3 * time.Second
	DefaultReadingMarker = "Completed"
)

// Session is the authenticated context shared by every item of a batch.
type Session struct {
	UserID   string
	CourseID string
	Token    string
}

type Handler interface {
	Complete(ctx context.Context, item course.Item, s Session) error
}

type HandlerFunc func(ctx context.Context, item course.Item, s Session) error

func (f HandlerFunc) Complete(ctx context.Context, item course.Item, s Session) error {
	return f(ctx, item, s)
}

type Options struct {
	CallTimeout time.Duration
	SettleDelay time.Duration
	// ReadingMarker is the literal the supplement endpoint's body must contain on success.
	ReadingMarker string
	Logger        *logger.Logger
}

func DefaultOptions() Options {
	return Options{
		CallTimeout:   DefaultCallTimeout,
		SettleDelay:   DefaultSettleDelay,
		ReadingMarker: DefaultReadingMarker,
		Logger:        logger.Nop(),
	}
}

func (o Options) withDefaults() Options {
	if o.ReadingMarker == "" {
		o.ReadingMarker = DefaultReadingMarker
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// Defaults builds the handler set for every dispatchable item type.
func Defaults(p platform.Platform, opts Options) map[course.ItemType]Handler {
	return map[course.ItemType]Handler{
		course.TypeVideo:       NewVideoHandler(p, opts),
		course.TypeReading:     NewReadingHandler(p, opts),
		course.TypeProgramming: NewProgrammingHandler(p, opts),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
