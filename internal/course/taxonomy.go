package course

import "strings"

// Taxonomy maps a lower-cased platform type-name to a category.
type Taxonomy map[string]ItemType

// ContentSummaryTaxonomy covers the contentSummary.typeName values of the
// course-materials endpoint.
var ContentSummaryTaxonomy = Taxonomy{
	"lecture":    TypeVideo,
	"supplement": TypeReading,
	"exam":       TypeQuiz,
	"quiz":       TypeQuiz,
}

// ProgressTaxonomy covers the richer typeName values of the guided-progress endpoint.
var ProgressTaxonomy = Taxonomy{
	"staffgraded":        TypeQuiz,
	"gradedlti":          TypeProgramming,
	"ungradedassignment": TypeQuiz,
	"ungradedlti":        TypeProgramming,
	"phasedpeer":         TypePeerReview,
	"gradedpeer":         TypePeerReview,
}

type fragmentRule struct {
	fragment string
	itemType ItemType
}

// Checked in order after the exact tables miss.
var typeNameFragments = []fragmentRule{
	{"exam", TypeQuiz},
	{"quiz", TypeQuiz},
	{"programming", TypeProgramming},
	{"peer", TypePeerReview},
}

var pathFragments = []fragmentRule{
	{"/lecture/", TypeVideo},
	{"/supplement/", TypeReading},
	{"/exam/", TypeQuiz},
	{"/quiz/", TypeQuiz},
	{"/programming/", TypeProgramming},
	{"/gradedlti/", TypeProgramming},
	{"/peer/", TypePeerReview},
}

func matchFragments(s string, rules []fragmentRule) (ItemType, bool) {
	if s == "" {
		return TypeUnknown, false
	}
	for _, r := range rules {
		if strings.Contains(s, r.fragment) {
			return r.itemType, true
		}
	}

	return TypeUnknown, false
}

// classifyDescriptor applies the type-name rules first and falls back to the resource path.
func classifyDescriptor(d descriptor, tables []Taxonomy) ItemType {
	if d.typeName != "" {
		for _, table := range tables {
			if t, ok := table[d.typeName]; ok {
				return t
			}
		}
		if t, ok := matchFragments(d.typeName, typeNameFragments); ok {
			return t
		}
	}

	if t, ok := matchFragments(d.path, pathFragments); ok {
		return t
	}

	return TypeUnknown
}
