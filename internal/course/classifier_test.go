package course

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCourse() *RawCourse {
	return &RawCourse{
		ID:   "course-1",
		Slug: "go-basics",
		Modules: []RawModule{
			{ID: "m1", Name: "Week 1", LessonIDs: []string{"l1", "l2"}},
			{ID: "m2", Name: "Week 2", LessonIDs: []string{"l3"}},
		},
		Lessons: []RawLesson{
			{ID: "l1", ElementIDs: []string{"v1@1", "r1@3"}},
			{ID: "l2", ElementIDs: []string{"v1@2", "q1@1", "p1@1"}},
			{ID: "l3", ElementIDs: []string{"x1@1", "pr1@1", "v2@1"}},
		},
		Items: []RawItem{
			{ID: "v1", Name: "Intro", ContentSummary: &ContentSummary{TypeName: "lecture"}, TimeCommitment: 120000},
			{ID: "r1", Name: "Notes", ContentSummary: &ContentSummary{TypeName: "supplement"}},
			{ID: "q1", Name: "Check", TypeName: "staffGraded"},
			{ID: "p1", Name: "Lab", TypeName: "gradedLti"},
			{ID: "x1", Name: "Mystery", TypeName: "somethingNew"},
			{ID: "pr1", Name: "Review", TypeName: "phasedPeer"},
			{ID: "v2", Name: "Outro", ResourcePath: "/learn/go-basics/lecture/v2/outro"},
		},
	}
}

func TestClassifyItem_Taxonomy(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name string
		item RawItem
		want ItemType
	}{
		{"lecture", RawItem{ContentSummary: &ContentSummary{TypeName: "lecture"}}, TypeVideo},
		{"supplement", RawItem{ContentSummary: &ContentSummary{TypeName: "Supplement"}}, TypeReading},
		{"exam", RawItem{ContentSummary: &ContentSummary{TypeName: "exam"}}, TypeQuiz},
		{"staffGraded", RawItem{TypeName: "staffGraded"}, TypeQuiz},
		{"gradedLti", RawItem{TypeName: "GRADEDLTI"}, TypeProgramming},
		{"ungradedAssignment", RawItem{TypeName: "ungradedAssignment"}, TypeQuiz},
		{"contains quiz", RawItem{TypeName: "practiceQuiz"}, TypeQuiz},
		{"contains exam", RawItem{TypeName: "finalExamV2"}, TypeQuiz},
		{"contains programming", RawItem{TypeName: "programmingAssignment"}, TypeProgramming},
		{"contains peer", RawItem{TypeName: "peerAssignment"}, TypePeerReview},
		{"path lecture", RawItem{TypeName: "weird", ResourcePath: "/learn/x/lecture/abc"}, TypeVideo},
		{"path supplement", RawItem{ResourcePath: "/learn/x/supplement/abc"}, TypeReading},
		{"path programming", RawItem{ResourcePath: "/learn/x/programming/abc"}, TypeProgramming},
		{"unknown", RawItem{TypeName: "widget", ResourcePath: "/learn/x/widget/abc"}, TypeUnknown},
		{"empty", RawItem{}, TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ClassifyItem(tt.item).Type)
		})
	}
}

func TestClassifyItem_ContentSummaryWinsOverTypeName(t *testing.T) {
	c := NewClassifier()

	item := c.ClassifyItem(RawItem{
		ID:             "a",
		TypeName:       "staffGraded",
		ContentSummary: &ContentSummary{TypeName: "lecture"},
	})

	assert.Equal(t, TypeVideo, item.Type)
}

func TestClassifyModule(t *testing.T) {
	c := NewClassifier()

	mod, err := c.ClassifyModule(sampleCourse(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, mod.Number)
	assert.Equal(t, "Week 1", mod.Name)
	require.Len(t, mod.Items, 4, "duplicate v1 reference must collapse")
	assert.Equal(t, []string{"v1", "r1", "q1", "p1"}, []string{mod.Items[0].ID, mod.Items[1].ID, mod.Items[2].ID, mod.Items[3].ID})
	assert.Equal(t, int64(120000), mod.Items[0].TimeCommitment)

	assert.Equal(t, Counts{Video: 1, Reading: 1, Quiz: 1, Programming: 1, Total: 4}, mod.Counts)
}

func TestClassifyModule_CountInvariant(t *testing.T) {
	c := NewClassifier()
	rc := sampleCourse()

	for n := 1; n <= len(rc.Modules); n++ {
		mod, err := c.ClassifyModule(rc, n)
		require.NoError(t, err)

		cnt := mod.Counts
		sum := cnt.Video + cnt.Reading + cnt.Quiz + cnt.Programming + cnt.PeerReview + cnt.Unknown
		assert.Equal(t, cnt.Total, sum)
		assert.Equal(t, len(mod.Items), cnt.Total)
	}
}

func TestClassifyModule_UnknownCountedButNotDispatchable(t *testing.T) {
	c := NewClassifier()

	mod, err := c.ClassifyModule(sampleCourse(), 2)
	require.NoError(t, err)

	assert.Equal(t, 1, mod.Counts.Unknown)
	assert.Equal(t, 1, mod.Counts.PeerReview)
	assert.Equal(t, 1, mod.Counts.Video)
	assert.Equal(t, 3, mod.Counts.Total)

	dispatchable := mod.Dispatchable()
	require.Len(t, dispatchable, 1)
	assert.Equal(t, "v2", dispatchable[0].ID)
}

func TestClassifyModule_Idempotent(t *testing.T) {
	c := NewClassifier()
	rc := sampleCourse()

	first, err := c.ClassifyModule(rc, 1)
	require.NoError(t, err)
	second, err := c.ClassifyModule(rc, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestClassifyModule_OutOfRange(t *testing.T) {
	c := NewClassifier()
	rc := sampleCourse()

	for _, n := range []int{0, -1, 3, 100} {
		mod, err := c.ClassifyModule(rc, n)
		assert.Nil(t, mod)
		assert.ErrorIs(t, err, ErrModuleNotFound)
	}
}

func TestClassifyModule_MissingData(t *testing.T) {
	c := NewClassifier()

	mod, err := c.ClassifyModule(nil, 1)
	assert.Nil(t, mod)
	assert.ErrorIs(t, err, ErrNoCourseData)

	rc := sampleCourse()
	rc.Items = rc.Items[1:]
	mod, err = c.ClassifyModule(rc, 1)
	assert.Nil(t, mod)
	assert.ErrorIs(t, err, ErrMissingItem)

	rc = sampleCourse()
	rc.Lessons = rc.Lessons[:1]
	mod, err = c.ClassifyModule(rc, 1)
	assert.Nil(t, mod)
	assert.ErrorIs(t, err, ErrMissingLesson)
}

func TestClassifyAll_IndependentModules(t *testing.T) {
	c := NewClassifier()
	rc := sampleCourse()
	rc.Lessons = rc.Lessons[:2] // module 2 loses its lesson

	modules, err := c.ClassifyAll(rc)

	assert.ErrorIs(t, err, ErrMissingLesson)
	require.Len(t, modules, 1)
	assert.Equal(t, 1, modules[0].Number)
}

func TestFindItem(t *testing.T) {
	c := NewClassifier()

	item, err := c.FindItem(sampleCourse(), "p1")
	require.NoError(t, err)
	assert.Equal(t, TypeProgramming, item.Type)

	_, err = c.FindItem(sampleCourse(), "nope")
	assert.ErrorIs(t, err, ErrMissingItem)
}

func TestRawCourseFromJSON(t *testing.T) {
	rc, err := RawCourseFromJSON([]byte(`{
		"id": "c1",
		"modules": [{"id": "m1", "lessonIds": ["l1"]}],
		"lessons": [{"id": "l1", "elementIds": ["i1@4"]}],
		"items": [{"id": "i1", "contentSummary": {"typeName": "lecture"}, "timeCommitment": 5000}]
	}`))
	require.NoError(t, err)

	mod, err := NewClassifier().ClassifyModule(rc, 1)
	require.NoError(t, err)
	require.Len(t, mod.Items, 1)
	assert.Equal(t, TypeVideo, mod.Items[0].Type)

	_, err = RawCourseFromJSON([]byte("not json"))
	assert.Error(t, err)
}
