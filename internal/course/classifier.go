package course

import (
	"errors"
	"fmt"
)

var (
	ErrNoCourseData   = errors.New("course data is missing")
	ErrModuleNotFound = errors.New("module not found")
	ErrMissingLesson  = errors.New("lesson record is missing")
	ErrMissingItem    = errors.New("item record is missing")
)

// Classifier is a pure function of the raw graph; it keeps no state between calls.
type Classifier struct {
	tables []Taxonomy
}

func NewClassifier(tables ...Taxonomy) *Classifier {
	if len(tables) == 0 {
		tables = []Taxonomy{ContentSummaryTaxonomy, ProgressTaxonomy}
	}

	return &Classifier{tables: tables}
}

func (c *Classifier) ClassifyItem(ri RawItem) Item {
	d := normalize(ri)
	return Item{
		ID:             d.id,
		Name:           d.name,
		Type:           classifyDescriptor(d, c.tables),
		TimeCommitment: d.timeCommitment,
		Slug:           d.slug,
	}
}

// ClassifyModule classifies module number n (1-indexed).
func (c *Classifier) ClassifyModule(rc *RawCourse, n int) (*Module, error) {
	if rc == nil {
		return nil, ErrNoCourseData
	}
	if n < 1 || n > len(rc.Modules) {
		return nil, fmt.Errorf("%w: module %d of %d", ErrModuleNotFound, n, len(rc.Modules))
	}

	lessons := make(map[string]RawLesson, len(rc.Lessons))
	for _, l := range rc.Lessons {
		lessons[l.ID] = l
	}
	items := make(map[string]RawItem, len(rc.Items))
	for _, it := range rc.Items {
		items[it.ID] = it
	}

	rm := rc.Modules[n-1]
	mod := &Module{
		Number: n,
		ID:     rm.ID,
		Name:   rm.Name,
		Items:  []Item{},
	}

	seen := make(map[string]struct{})
	for _, lessonID := range rm.LessonIDs {
		lesson, ok := lessons[lessonID]
		if !ok {
			return nil, fmt.Errorf("%w: %s in module %d", ErrMissingLesson, lessonID, n)
		}

		for _, ref := range lesson.ElementIDs {
			itemID := elementItemID(ref)
			if itemID == "" {
				continue
			}
			if _, dup := seen[itemID]; dup {
				continue
			}
			seen[itemID] = struct{}{}

			ri, ok := items[itemID]
			if !ok {
				return nil, fmt.Errorf("%w: %s in lesson %s", ErrMissingItem, itemID, lessonID)
			}

			item := c.ClassifyItem(ri)
			mod.Items = append(mod.Items, item)
			mod.Counts.add(item.Type)
		}
	}

	return mod, nil
}

// ClassifyAll classifies every module independently. Modules that fail are
// left out of the result and their errors are joined into the returned error.
func (c *Classifier) ClassifyAll(rc *RawCourse) ([]*Module, error) {
	if rc == nil {
		return nil, ErrNoCourseData
	}

	var (
		modules []*Module
		errs    []error
	)
	for n := 1; n <= len(rc.Modules); n++ {
		m, err := c.ClassifyModule(rc, n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		modules = append(modules, m)
	}

	return modules, errors.Join(errs...)
}

// FindItem locates and classifies a single item of the course by ID.
func (c *Classifier) FindItem(rc *RawCourse, itemID string) (Item, error) {
	if rc == nil {
		return Item{}, ErrNoCourseData
	}
	for _, ri := range rc.Items {
		if ri.ID == itemID {
			return c.ClassifyItem(ri), nil
		}
	}

	return Item{}, fmt.Errorf("%w: %s", ErrMissingItem, itemID)
}
