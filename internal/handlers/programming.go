package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nadmax/autocourse/internal/course"
	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/platform"
)

// ProgrammingHandler marks graded assignments passed. The platform only
// accepts whole grade documents, so the fetch, merge and save of one
// user's course document run one at a time; launch data is still
// resolved concurrently.
type ProgrammingHandler struct {
	api         platform.GradesAPI
	callTimeout time.Duration
	log         *logger.Logger
	docs        gradeLocks
}

func NewProgrammingHandler(api platform.GradesAPI, opts Options) *ProgrammingHandler {
	opts = opts.withDefaults()
	return &ProgrammingHandler{
		api:         api,
		callTimeout: opts.CallTimeout,
		log:         opts.Logger.With("handler", "programming"),
	}
}

func (h *ProgrammingHandler) Complete(ctx context.Context, item course.Item, s Session) error {
	launch, err := platform.Call(ctx, h.callTimeout, func(ctx context.Context) (*platform.LaunchData, error) {
		return h.api.GetLaunchData(ctx, platform.LaunchRequest{
			UserID:   s.UserID,
			CourseID: s.CourseID,
			ItemID:   item.ID,
			Token:    s.Token,
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %w: item %s: %w", ErrGradedAssignment, ErrLaunchData, item.ID, err)
	}
	if launch == nil {
		return fmt.Errorf("%w: %w: item %s", ErrGradedAssignment, ErrLaunchData, item.ID)
	}
	h.log.Debug("launch data resolved", "item_id", item.ID, "launch_url", launch.URL)

	release, err := h.docs.acquire(ctx, gradeKey{userID: s.UserID, courseID: s.CourseID})
	if err != nil {
		return fmt.Errorf("%w: waiting on grades for item %s: %w", ErrGradedAssignment, item.ID, err)
	}
	defer release()

	doc, err := platform.Call(ctx, h.callTimeout, func(ctx context.Context) (*platform.GradeDocument, error) {
		return h.api.GetCourseGrades(ctx, s.UserID, s.CourseID)
	})
	if err != nil {
		return fmt.Errorf("%w: fetching grades for item %s: %w", ErrGradedAssignment, item.ID, err)
	}
	if doc == nil {
		doc = &platform.GradeDocument{}
	}
	if doc.UserID == "" {
		doc.UserID = s.UserID
	}
	if doc.CourseID == "" {
		doc.CourseID = s.CourseID
	}

	merged := MergeGrade(*doc, item.ID)

	_, err = platform.Call(ctx, h.callTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.api.PutCourseGrades(ctx, merged)
	})
	if err != nil {
		return fmt.Errorf("%w: saving grades for item %s: %w", ErrGradedAssignment, item.ID, err)
	}

	return nil
}

type gradeKey struct {
	userID   string
	courseID string
}

// gradeLocks serializes grade document updates per user and course. Entries
// are dropped once nobody holds or waits on them.
type gradeLocks struct {
	mu    sync.Mutex
	locks map[gradeKey]*gradeLock
}

type gradeLock struct {
	sem  chan struct{}
	refs int
}

func (l *gradeLocks) acquire(ctx context.Context, key gradeKey) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[gradeKey]*gradeLock)
	}
	gl, ok := l.locks[key]
	if !ok {
		gl = &gradeLock{sem: make(chan struct{}, 1)}
		l.locks[key] = gl
	}
	gl.refs++
	l.mu.Unlock()

	select {
	case gl.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, gl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-gl.sem
			l.unref(key, gl)
		})
	}, nil
}

func (l *gradeLocks) unref(key gradeKey, gl *gradeLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	gl.refs--
	if gl.refs == 0 {
		delete(l.locks, key)
	}
}

// MergeGrade returns a copy of doc with itemID marked passed at grade 1.0 and
// the overall grade recomputed as passed/total over every item grade. Entries
// for other items are carried over untouched since the platform replaces the
// whole document.
func MergeGrade(doc platform.GradeDocument, itemID string) platform.GradeDocument {
	grades := make([]platform.ItemGrade, 0, len(doc.ItemGrades)+1)
	found := false
	for _, g := range doc.ItemGrades {
		if g.ItemID == itemID {
			g.IsPassed = true
			g.Grade = 1.0
			found = true
		}
		grades = append(grades, g)
	}
	if !found {
		grades = append(grades, platform.ItemGrade{ItemID: itemID, IsPassed: true, Grade: 1.0})
	}

	passed := 0
	for _, g := range grades {
		if g.IsPassed {
			passed++
		}
	}

	doc.ItemGrades = grades
	doc.OverallGrade = float64(passed) / float64(len(grades))
	return doc
}
