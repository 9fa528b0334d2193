// Package platformtest provides a recording in-memory Platform for tests.
package platformtest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/nadmax/autocourse/internal/course"
	"github.com/nadmax/autocourse/internal/platform"
)

const (
	MethodGetUserID       = "GetUserID"
	MethodRequestToken    = "RequestToken"
	MethodGetCourseData   = "GetCourseData"
	MethodVideoMetadata   = "GetVideoMetadata"
	MethodPlay            = "play"
	MethodEnd             = "end"
	MethodProgress        = "progress"
	MethodSupplement      = "CompleteSupplement"
	MethodLaunchData      = "GetLaunchData"
	MethodGetCourseGrades = "GetCourseGrades"
	MethodPutCourseGrades = "PutCourseGrades"
)

type Call struct {
	Method string
	ItemID string
	At     time.Time
}

type Fake struct {
	mu sync.Mutex

	Calls     []Call
	PutGrades []platform.GradeDocument
	Progress  []platform.VideoProgress

	UserID      string
	Token       string
	Course      *course.RawCourse
	Metadata    map[string]*platform.VideoMetadata
	ReadingBody string
	// NoLaunchData lists items whose launch data comes back empty.
	NoLaunchData map[string]bool
	Grades       *platform.GradeDocument

	// StatusOverride forces the HTTP status of a video call, keyed by Method+":"+itemID.
	StatusOverride map[string]int
	// FailCalls forces an error, keyed by Method+":"+itemID (or Method alone for item-less calls).
	FailCalls map[string]error
	// Hang makes the keyed call block until its context is done.
	Hang map[string]bool
	// GradesDelay holds GetCourseGrades between reading the document and returning it.
	GradesDelay time.Duration
}

func New() *Fake {
	return &Fake{
		UserID:         "user-1",
		Token:          "csrf-token",
		Metadata:       make(map[string]*platform.VideoMetadata),
		ReadingBody:    `{"status":"Completed"}`,
		NoLaunchData:   make(map[string]bool),
		Grades:         &platform.GradeDocument{},
		StatusOverride: make(map[string]int),
		FailCalls:      make(map[string]error),
		Hang:           make(map[string]bool),
	}
}

func key(method, itemID string) string {
	if itemID == "" {
		return method
	}
	return method + ":" + itemID
}

func (f *Fake) record(ctx context.Context, method, itemID string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Method: method, ItemID: itemID, At: time.Now()})
	err := f.FailCalls[key(method, itemID)]
	hang := f.Hang[key(method, itemID)]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	return err
}

func (f *Fake) status(method, itemID string, def int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.StatusOverride[key(method, itemID)]; ok {
		return s
	}
	return def
}

func (f *Fake) GetUserID(ctx context.Context) (string, error) {
	if err := f.record(ctx, MethodGetUserID, ""); err != nil {
		return "", err
	}
	return f.UserID, nil
}

func (f *Fake) RequestToken(ctx context.Context) (string, error) {
	if err := f.record(ctx, MethodRequestToken, ""); err != nil {
		return "", err
	}
	return f.Token, nil
}

func (f *Fake) GetCourseData(ctx context.Context, _ string) (*course.RawCourse, error) {
	if err := f.record(ctx, MethodGetCourseData, ""); err != nil {
		return nil, err
	}
	return f.Course, nil
}

func (f *Fake) GetVideoMetadata(ctx context.Context, _, itemID string) (*platform.VideoMetadata, error) {
	if err := f.record(ctx, MethodVideoMetadata, itemID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if md, ok := f.Metadata[itemID]; ok {
		cp := *md
		return &cp, nil
	}
	return &platform.VideoMetadata{TrackingID: "track-" + itemID}, nil
}

func (f *Fake) SendVideoEvent(ctx context.Context, ev platform.VideoEvent) (int, error) {
	method := string(ev.Kind)
	if err := f.record(ctx, method, ev.ItemID); err != nil {
		return 0, err
	}
	return f.status(method, ev.ItemID, http.StatusOK), nil
}

func (f *Fake) UpdateVideoProgress(ctx context.Context, p platform.VideoProgress) (int, error) {
	if err := f.record(ctx, MethodProgress, p.ItemID); err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.Progress = append(f.Progress, p)
	f.mu.Unlock()

	return f.status(MethodProgress, p.ItemID, http.StatusNoContent), nil
}

func (f *Fake) CompleteSupplement(ctx context.Context, req platform.SupplementCompletion) (string, error) {
	if err := f.record(ctx, MethodSupplement, req.ItemID); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReadingBody, nil
}

func (f *Fake) GetLaunchData(ctx context.Context, req platform.LaunchRequest) (*platform.LaunchData, error) {
	if err := f.record(ctx, MethodLaunchData, req.ItemID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NoLaunchData[req.ItemID] {
		return nil, nil
	}
	return &platform.LaunchData{URL: "https://lti.example/launch/" + req.ItemID}, nil
}

func (f *Fake) GetCourseGrades(ctx context.Context, _, _ string) (*platform.GradeDocument, error) {
	if err := f.record(ctx, MethodGetCourseGrades, ""); err != nil {
		return nil, err
	}

	f.mu.Lock()
	var cp *platform.GradeDocument
	if f.Grades != nil {
		doc := *f.Grades
		doc.ItemGrades = append([]platform.ItemGrade(nil), f.Grades.ItemGrades...)
		cp = &doc
	}
	delay := f.GradesDelay
	f.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return cp, nil
}

func (f *Fake) PutCourseGrades(ctx context.Context, doc platform.GradeDocument) error {
	if err := f.record(ctx, MethodPutCourseGrades, ""); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutGrades = append(f.PutGrades, doc)
	cp := doc
	cp.ItemGrades = append([]platform.ItemGrade(nil), doc.ItemGrades...)
	f.Grades = &cp
	return nil
}

// CallsFor returns the methods invoked for itemID, in call order.
func (f *Fake) CallsFor(itemID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, c := range f.Calls {
		if c.ItemID == itemID {
			out = append(out, c.Method)
		}
	}
	return out
}

// CallTimes returns when each call of method was made for itemID.
func (f *Fake) CallTimes(method, itemID string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []time.Time
	for _, c := range f.Calls {
		if c.Method == method && c.ItemID == itemID {
			out = append(out, c.At)
		}
	}
	return out
}

func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Methods returns every recorded method in call order.
func (f *Fake) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, c.Method)
	}
	return out
}
