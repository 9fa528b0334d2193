// Package dryrun implements platform.Platform without talking to any remote
// service. Course structure comes from a local JSON export and every mutating
// call is logged and acknowledged, so batches can be rehearsed end to end.
package dryrun

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/nadmax/autocourse/internal/course"
	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/platform"
)

const UserID = "dry-run-user"

type Platform struct {
	mu      sync.Mutex
	courses map[string]*course.RawCourse
	grades  map[string]platform.GradeDocument
	marker  string
	log     *logger.Logger
}

var _ platform.Platform = (*Platform)(nil)

func New(marker string, log *logger.Logger) *Platform {
	if log == nil {
		log = logger.Nop()
	}

	return &Platform{
		courses: make(map[string]*course.RawCourse),
		grades:  make(map[string]platform.GradeDocument),
		marker:  marker,
		log:     log.With("component", "dryrun"),
	}
}

// LoadFile registers the course export at path under its slug. When the
// export carries no slug, fallbackSlug is used.
func (p *Platform) LoadFile(path, fallbackSlug string) (*course.RawCourse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read course file: %w", err)
	}

	rc, err := course.RawCourseFromJSON(data)
	if err != nil {
		return nil, err
	}
	if rc.Slug == "" {
		rc.Slug = fallbackSlug
	}
	if rc.Slug == "" {
		return nil, fmt.Errorf("course file %s has no slug", path)
	}

	p.AddCourse(rc)
	return rc, nil
}

func (p *Platform) AddCourse(rc *course.RawCourse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.courses[rc.Slug] = rc
}

func (p *Platform) GetUserID(ctx context.Context) (string, error) {
	return UserID, ctx.Err()
}

func (p *Platform) RequestToken(ctx context.Context) (string, error) {
	return uuid.NewString(), ctx.Err()
}

func (p *Platform) GetCourseData(ctx context.Context, courseSlug string) (*course.RawCourse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rc, ok := p.courses[courseSlug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", course.ErrNoCourseData, courseSlug)
	}
	return rc, nil
}

func (p *Platform) GetVideoMetadata(ctx context.Context, courseID, itemID string) (*platform.VideoMetadata, error) {
	p.log.Debug("video metadata", "course_id", courseID, "item_id", itemID)
	return &platform.VideoMetadata{TrackingID: "dry-" + itemID}, ctx.Err()
}

func (p *Platform) SendVideoEvent(ctx context.Context, ev platform.VideoEvent) (int, error) {
	p.log.Info("video event", "kind", ev.Kind, "item_id", ev.ItemID)
	return http.StatusOK, ctx.Err()
}

func (p *Platform) UpdateVideoProgress(ctx context.Context, vp platform.VideoProgress) (int, error) {
	p.log.Info("video progress", "item_id", vp.ItemID, "viewed_up_to", vp.ViewedUpTo)
	return http.StatusNoContent, ctx.Err()
}

func (p *Platform) CompleteSupplement(ctx context.Context, req platform.SupplementCompletion) (string, error) {
	p.log.Info("supplement completed", "item_id", req.ItemID)
	return fmt.Sprintf(`{"status":%q}`, p.marker), ctx.Err()
}

func (p *Platform) GetLaunchData(ctx context.Context, req platform.LaunchRequest) (*platform.LaunchData, error) {
	return &platform.LaunchData{
		URL:        "about:blank",
		Parameters: map[string]string{"item_id": req.ItemID},
	}, ctx.Err()
}

func (p *Platform) GetCourseGrades(ctx context.Context, userID, courseID string) (*platform.GradeDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	doc, ok := p.grades[userID+"/"+courseID]
	if !ok {
		doc = platform.GradeDocument{UserID: userID, CourseID: courseID}
	}
	doc.ItemGrades = append([]platform.ItemGrade(nil), doc.ItemGrades...)
	return &doc, nil
}

func (p *Platform) PutCourseGrades(ctx context.Context, doc platform.GradeDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.grades[doc.UserID+"/"+doc.CourseID] = doc
	p.log.Info("grades stored", "course_id", doc.CourseID, "items", len(doc.ItemGrades), "overall", doc.OverallGrade)
	return nil
}
