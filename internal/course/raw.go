package course

import (
	"encoding/json"
	"strings"
)

// RawCourse is the course-material graph as returned by the platform:
// modules reference lessons, lessons reference items as "itemId@version".
type RawCourse struct {
	ID      string      `json:"id"`
	Slug    string      `json:"slug"`
	Modules []RawModule `json:"modules"`
	Lessons []RawLesson `json:"lessons"`
	Items   []RawItem   `json:"items"`
}

type RawModule struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Slug      string   `json:"slug,omitempty"`
	LessonIDs []string `json:"lessonIds"`
}

type RawLesson struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ElementIDs []string `json:"elementIds"`
}

type ContentSummary struct {
	TypeName string `json:"typeName"`
}

// RawItem carries whichever type metadata the originating endpoint returned:
// a contentSummary block (lecture/supplement/exam) or a flat typeName
// (staffGraded/gradedLti/ungradedAssignment).
type RawItem struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug,omitempty"`
	TypeName       string          `json:"typeName,omitempty"`
	ContentSummary *ContentSummary `json:"contentSummary,omitempty"`
	ResourcePath   string          `json:"resourcePath,omitempty"`
	TimeCommitment int64           `json:"timeCommitment,omitempty"`
}

// descriptor is the normalized shape every raw item is reduced to before classification.
type descriptor struct {
	id             string
	name           string
	slug           string
	typeName       string
	path           string
	timeCommitment int64
}

func normalize(ri RawItem) descriptor {
	typeName := ri.TypeName
	if ri.ContentSummary != nil && ri.ContentSummary.TypeName != "" {
		typeName = ri.ContentSummary.TypeName
	}

	return descriptor{
		id:             ri.ID,
		name:           ri.Name,
		slug:           ri.Slug,
		typeName:       strings.ToLower(strings.TrimSpace(typeName)),
		path:           strings.ToLower(ri.ResourcePath),
		timeCommitment: ri.TimeCommitment,
	}
}

// elementItemID strips the "@version" suffix of a lesson element reference.
func elementItemID(ref string) string {
	id, _, _ := strings.Cut(ref, "@")
	return strings.TrimSpace(id)
}

func RawCourseFromJSON(data []byte) (*RawCourse, error) {
	var rc RawCourse
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, err
	}

	return &rc, nil
}
