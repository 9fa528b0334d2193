// Package batch drives classified course items through their completion
// handlers and reports progress through the task registry.
//
// Items are processed by type group in a fixed order (video, reading,
// programming). Inside a group every item runs concurrently and the group is
// joined settle-all: a failing item is logged and left out of the completed
// count, it never cancels its siblings. Only pre-flight failures (identity,
// course data) end a batch in the error state.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nadmax/autocourse/internal/course"
	"github.com/nadmax/autocourse/internal/handlers"
	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/metrics"
	"github.com/nadmax/autocourse/internal/platform"
	"github.com/nadmax/autocourse/internal/registry"
	"github.com/nadmax/autocourse/internal/task"
	"golang.org/x/sync/errgroup"
)

var (
	ErrIdentityResolution = errors.New("identity resolution failed")
	ErrDataFetch          = errors.New("course data fetch failed")
	ErrUnsupportedItem    = errors.New("item type is not dispatched")
)

var groupOrder = []course.ItemType{course.TypeVideo, course.TypeReading, course.TypeProgramming}

// Source is the part of the platform a batch needs before any handler runs.
type Source interface {
	platform.IdentityAPI
	platform.CourseAPI
}

type Processor struct {
	source      Source
	classifier  *course.Classifier
	handlers    map[course.ItemType]handlers.Handler
	callTimeout time.Duration
	log         *logger.Logger
}

func NewProcessor(source Source, classifier *course.Classifier, callTimeout time.Duration, log *logger.Logger) *Processor {
	if classifier == nil {
		classifier = course.NewClassifier()
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Processor{
		source:      source,
		classifier:  classifier,
		handlers:    make(map[course.ItemType]handlers.Handler),
		callTimeout: callTimeout,
		log:         log.With("component", "batch"),
	}
}

func (p *Processor) RegisterHandler(itemType course.ItemType, h handlers.Handler) {
	p.handlers[itemType] = h
}

// RunBatch completes items for courseID under the task behind h.
func (p *Processor) RunBatch(ctx context.Context, h *registry.Handle, courseID string, items []course.Item) {
	log := p.log.With("key", h.Key(), "course_id", courseID)

	session, err := p.preflight(ctx, courseID)
	if err != nil {
		p.fail(h, log, err)
		return
	}

	runnable := p.plan(log, &course.Module{Items: items})
	tally := newTally(h, len(runnable), 0)
	p.processItems(ctx, log, session, runnable, tally)
	p.complete(h, log, tally)
}

// RunModule classifies module n (1-indexed) of the course and completes its items.
func (p *Processor) RunModule(ctx context.Context, h *registry.Handle, courseID, courseSlug string, n int) {
	log := p.log.With("key", h.Key(), "course_id", courseID, "module", n)

	session, err := p.preflight(ctx, courseID)
	if err != nil {
		p.fail(h, log, err)
		return
	}

	raw, err := p.fetchCourse(ctx, courseSlug)
	if err != nil {
		p.fail(h, log, err)
		return
	}

	mod, err := p.classifier.ClassifyModule(raw, n)
	if err != nil {
		if !errors.Is(err, course.ErrModuleNotFound) {
			err = fmt.Errorf("%w: %w", ErrDataFetch, err)
		}
		p.fail(h, log, err)
		return
	}
	log.Info("module classified", "items", mod.Counts.Total, "video", mod.Counts.Video,
		"reading", mod.Counts.Reading, "programming", mod.Counts.Programming, "quiz", mod.Counts.Quiz)

	runnable := p.plan(log, mod)
	tally := newTally(h, len(runnable), n)
	tally.announce(fmt.Sprintf("Processing module %d", n))
	p.processItems(ctx, log, session, runnable, tally)
	p.complete(h, log, tally)
}

// RunAllModules processes every module of the course one after another under
// a single running counter. A module that fails to classify is skipped.
func (p *Processor) RunAllModules(ctx context.Context, h *registry.Handle, courseID, courseSlug string) {
	log := p.log.With("key", h.Key(), "course_id", courseID)

	session, err := p.preflight(ctx, courseID)
	if err != nil {
		p.fail(h, log, err)
		return
	}

	raw, err := p.fetchCourse(ctx, courseSlug)
	if err != nil {
		p.fail(h, log, err)
		return
	}

	modules, err := p.classifier.ClassifyAll(raw)
	for _, merr := range unjoin(err) {
		log.Warn("skipping module", "error", merr)
	}
	if len(modules) == 0 && len(raw.Modules) > 0 {
		p.fail(h, log, fmt.Errorf("%w: no module of %s could be classified", ErrDataFetch, courseSlug))
		return
	}

	plans := make([][]course.Item, len(modules))
	total := 0
	for i, mod := range modules {
		plans[i] = p.plan(log.With("module", mod.Number), mod)
		total += len(plans[i])
	}

	tally := newTally(h, total, 0)
	for i, mod := range modules {
		tally.enterModule(mod.Number)
		tally.announce(fmt.Sprintf("Processing module %d of %d", mod.Number, len(raw.Modules)))
		p.processItems(ctx, log.With("module", mod.Number), session, plans[i], tally)
	}
	p.complete(h, log, tally)
}

// RunItem completes a single item of the course.
func (p *Processor) RunItem(ctx context.Context, h *registry.Handle, courseID, courseSlug, itemID string) {
	log := p.log.With("key", h.Key(), "course_id", courseID, "item_id", itemID)

	session, err := p.preflight(ctx, courseID)
	if err != nil {
		p.fail(h, log, err)
		return
	}

	raw, err := p.fetchCourse(ctx, courseSlug)
	if err != nil {
		p.fail(h, log, err)
		return
	}

	item, err := p.classifier.FindItem(raw, itemID)
	if err != nil {
		p.fail(h, log, err)
		return
	}
	runnable := p.plan(log, &course.Module{Items: []course.Item{item}})
	if len(runnable) == 0 {
		p.fail(h, log, fmt.Errorf("%w: %s is %s", ErrUnsupportedItem, itemID, item.Type))
		return
	}

	tally := newTally(h, len(runnable), 0)
	p.processItems(ctx, log, session, runnable, tally)
	p.complete(h, log, tally)
}

// preflight resolves the acting identity once for the whole batch.
func (p *Processor) preflight(ctx context.Context, courseID string) (handlers.Session, error) {
	userID, err := platform.Call(ctx, p.callTimeout, p.source.GetUserID)
	if err != nil {
		return handlers.Session{}, fmt.Errorf("%w: %w", ErrIdentityResolution, err)
	}
	if userID == "" {
		return handlers.Session{}, fmt.Errorf("%w: empty user id", ErrIdentityResolution)
	}

	token, err := platform.Call(ctx, p.callTimeout, p.source.RequestToken)
	if err != nil {
		return handlers.Session{}, fmt.Errorf("%w: request token: %w", ErrIdentityResolution, err)
	}

	return handlers.Session{UserID: userID, CourseID: courseID, Token: token}, nil
}

func (p *Processor) fetchCourse(ctx context.Context, courseSlug string) (*course.RawCourse, error) {
	raw, err := platform.Call(ctx, p.callTimeout, func(ctx context.Context) (*course.RawCourse, error) {
		return p.source.GetCourseData(ctx, courseSlug)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDataFetch, courseSlug, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDataFetch, courseSlug, course.ErrNoCourseData)
	}

	return raw, nil
}

// plan returns the items of mod a registered handler will complete, in
// encounter order. Everything else is logged, counted as skipped and kept
// out of the batch total.
func (p *Processor) plan(log *logger.Logger, mod *course.Module) []course.Item {
	skipped := make(map[course.ItemType]int)
	for _, it := range mod.Items {
		if !it.Type.Dispatchable() {
			skipped[it.Type]++
		}
	}
	for itemType, n := range skipped {
		log.Info("items not dispatched", "type", itemType, "count", n)
		metrics.RecordItemSkipped(string(itemType), n)
	}

	dispatchable := mod.Dispatchable()
	runnable := make([]course.Item, 0, len(dispatchable))
	unhandled := make(map[course.ItemType]int)
	for _, it := range dispatchable {
		if _, ok := p.handlers[it.Type]; !ok {
			unhandled[it.Type]++
			continue
		}
		runnable = append(runnable, it)
	}
	for itemType, n := range unhandled {
		log.Warn("no handler registered, skipping items", "type", itemType, "count", n)
		metrics.RecordItemSkipped(string(itemType), n)
	}

	return runnable
}

// processItems runs planned items group by group in groupOrder.
func (p *Processor) processItems(ctx context.Context, log *logger.Logger, s handlers.Session, items []course.Item, t *tally) {
	groups := make(map[course.ItemType][]course.Item)
	for _, it := range items {
		groups[it.Type] = append(groups[it.Type], it)
	}

	for _, itemType := range groupOrder {
		group := groups[itemType]
		if len(group) == 0 {
			continue
		}

		log.Debug("processing group", "type", itemType, "count", len(group))
		p.settleAll(ctx, log, p.handlers[itemType], s, group, t)
	}
}

// settleAll runs every item of the group concurrently and waits for all of them.
func (p *Processor) settleAll(ctx context.Context, log *logger.Logger, h handlers.Handler, s handlers.Session, group []course.Item, t *tally) {
	var g errgroup.Group
	for _, item := range group {
		g.Go(func() error {
			start := time.Now()
			err := completeItem(ctx, h, item, s)
			metrics.RecordItem(string(item.Type), err, time.Since(start))

			if err != nil {
				log.Warn("item failed", "item_id", item.ID, "type", item.Type, "error", err)
				return nil
			}
			t.succeed(item)
			return nil
		})
	}
	_ = g.Wait()
}

func completeItem(ctx context.Context, h handlers.Handler, item course.Item, s handlers.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic for item %s: %v", item.ID, r)
		}
	}()

	return h.Complete(ctx, item, s)
}

func (p *Processor) fail(h *registry.Handle, log *logger.Logger, err error) {
	log.Error("batch aborted", "error", err)
	if ferr := h.Finish(task.ErrorStatus, err.Error()); ferr != nil {
		log.Debug("final status not applied", "error", ferr)
		return
	}
	metrics.RecordBatchFinished(h.Type(), task.ErrorStatus, time.Since(h.StartTime()))
}

func (p *Processor) complete(h *registry.Handle, log *logger.Logger, t *tally) {
	completed, total := t.counts()
	if total == 0 {
		_ = h.Progress(100, "", nil)
	}

	msg := fmt.Sprintf("%d/%d items processed", completed, total)
	log.Info("batch finished", "completed", completed, "total", total)

	if err := h.Finish(task.CompletedStatus, msg); err != nil {
		log.Debug("final status not applied", "error", err)
		return
	}
	metrics.RecordBatchFinished(h.Type(), task.CompletedStatus, time.Since(h.StartTime()))
}

// unjoin flattens an errors.Join result into its parts.
func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// tally is the batch's shared completed counter. Counts change under mu;
// registry updates are made outside it by whichever goroutine holds the
// publishing flag, which drains the latest pending update until none is left.
// A slow reporter never blocks an item from being counted.
type tally struct {
	mu         sync.Mutex
	h          *registry.Handle
	completed  int
	total      int
	module     int
	pending    *progressUpdate
	publishing bool
}

type progressUpdate struct {
	percent int
	message string
	data    *task.ModuleData
}

func newTally(h *registry.Handle, total, module int) *tally {
	return &tally{h: h, total: total, module: module}
}

func (t *tally) enterModule(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.module = n
}

func (t *tally) announce(message string) {
	t.mu.Lock()
	t.emit(message)
}

func (t *tally) succeed(item course.Item) {
	t.mu.Lock()
	t.completed++
	t.emit(fmt.Sprintf("Completed %s (%d/%d)", item.Name, t.completed, t.total))
}

// emit queues an update and publishes it unless another goroutine already is.
// It must be called with mu held and returns with mu released.
func (t *tally) emit(message string) {
	t.pending = &progressUpdate{percent: t.percent(), message: message, data: t.moduleData()}
	if t.publishing {
		t.mu.Unlock()
		return
	}

	t.publishing = true
	for t.pending != nil {
		u := t.pending
		t.pending = nil
		t.mu.Unlock()
		_ = t.h.Progress(u.percent, u.message, u.data)
		t.mu.Lock()
	}
	t.publishing = false
	t.mu.Unlock()
}

func (t *tally) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.total
}

func (t *tally) percent() int {
	if t.total == 0 {
		return 0
	}
	return int(math.Round(float64(t.completed) / float64(t.total) * 100))
}

func (t *tally) moduleData() *task.ModuleData {
	if t.h.Type() != task.ModuleBatchType {
		return nil
	}
	return &task.ModuleData{
		ModuleNumber:   t.module,
		TotalItems:     t.total,
		CompletedItems: t.completed,
	}
}
