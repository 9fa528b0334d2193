// Package platform declares the course-platform collaborator consumed by the
// completion engine. Implementations own transport, authentication and
// endpoint details; the engine only sees these shapes.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/autocourse/internal/course"
)

var ErrTimeout = errors.New("platform call timed out")

type VideoEventKind string

const (
	VideoPlay VideoEventKind = "play"
	VideoEnd  VideoEventKind = "end"
)

type VideoMetadata struct {
	CanSkip    bool   `json:"can_skip"`
	TrackingID string `json:"tracking_id"`
}

type VideoEvent struct {
	Kind       VideoEventKind
	UserID     string
	CourseID   string
	ItemID     string
	TrackingID string
	Token      string
}

type VideoProgress struct {
	UserID     string
	CourseID   string
	ItemID     string
	TrackingID string
	Token      string
	ViewedUpTo int64
}

type SupplementCompletion struct {
	UserID   string
	CourseID string
	ItemID   string
	Token    string
}

type LaunchRequest struct {
	UserID   string
	CourseID string
	ItemID   string
	Token    string
}

type LaunchData struct {
	URL        string            `json:"url"`
	Parameters map[string]string `json:"parameters"`
}

type ItemGrade struct {
	ItemID   string  `json:"itemId"`
	IsPassed bool    `json:"isPassed"`
	Grade    float64 `json:"grade"`
}

// GradeDocument is the learner's complete course grade record. The platform
// replaces it wholesale on PUT.
type GradeDocument struct {
	UserID       string      `json:"userId"`
	CourseID     string      `json:"courseId"`
	OverallGrade float64     `json:"overallGrade"`
	ItemGrades   []ItemGrade `json:"itemGrades"`
}

type IdentityAPI interface {
	GetUserID(ctx context.Context) (string, error)
	// RequestToken returns the request-forgery token sent with mutating calls.
	RequestToken(ctx context.Context) (string, error)
}

type CourseAPI interface {
	GetCourseData(ctx context.Context, courseSlug string) (*course.RawCourse, error)
}

type VideoAPI interface {
	GetVideoMetadata(ctx context.Context, courseID, itemID string) (*VideoMetadata, error)
	// SendVideoEvent posts a play or end event and returns the HTTP status.
	SendVideoEvent(ctx context.Context, ev VideoEvent) (int, error)
	// UpdateVideoProgress puts the watched-to marker and returns the HTTP status.
	UpdateVideoProgress(ctx context.Context, p VideoProgress) (int, error)
}

type ReadingAPI interface {
	// CompleteSupplement returns the raw response body.
	CompleteSupplement(ctx context.Context, req SupplementCompletion) (string, error)
}

type GradesAPI interface {
	GetLaunchData(ctx context.Context, req LaunchRequest) (*LaunchData, error)
	GetCourseGrades(ctx context.Context, userID, courseID string) (*GradeDocument, error)
	PutCourseGrades(ctx context.Context, doc GradeDocument) error
}

type Platform interface {
	IdentityAPI
	CourseAPI
	VideoAPI
	ReadingAPI
	GradesAPI
}

// Call runs fn under a deadline of d. A call that overruns its deadline
// returns an error wrapping ErrTimeout.
func Call[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	v, err := fn(cctx)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return v, fmt.Errorf("%w after %s: %w", ErrTimeout, d, err)
	}

	return v, err
}
