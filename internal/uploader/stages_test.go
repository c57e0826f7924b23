package uploader

import (
	"errors"
	"fmt"
	"testing"

	"github.com/OpenPecha/webuddhist/backend/pkg/httpapi"
	"github.com/OpenPecha/webuddhist/backend/pkg/openpecha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	root := &openpecha.Text{ID: "T1", Type: strPtr(openpecha.TypeRoot)}
	related := openpecha.RelatedWorks{
		"b": {Relation: openpecha.TypeCommentary, ExpressionIDs: []string{"C1", "C2"}},
		"a": {Relation: openpecha.TypeTranslation, ExpressionIDs: []string{"V2", "T1", ""}},
		"c": {Relation: openpecha.TypeSiblingCommentary, ExpressionIDs: []string{"C1", "C3"}},
		"d": {Relation: openpecha.TypeTranslationSource, ExpressionIDs: []string{"V3"}},
	}

	b := partition(root, related)
	assert.Equal(t, []string{"T1", "V2", "V3"}, b.versions)
	assert.Equal(t, []string{"C1", "C2", "C3"}, b.commentaries)
}

func TestPartition_CommentarySourceLeadsCommentaries(t *testing.T) {
	source := &openpecha.Text{ID: "C1", Type: strPtr(openpecha.TypeCommentary)}
	related := openpecha.RelatedWorks{
		"x": {Relation: openpecha.TypeRoot, ExpressionIDs: []string{"R1"}},
		"y": {Relation: openpecha.TypeCommentary, ExpressionIDs: []string{"C2"}},
	}

	b := partition(source, related)
	assert.Equal(t, []string{"R1"}, b.versions)
	assert.Equal(t, []string{"C1", "C2"}, b.commentaries)
}

func TestPartition_UntypedSourceIsAVersion(t *testing.T) {
	b := partition(&openpecha.Text{ID: "T1"}, nil)
	assert.Equal(t, []string{"T1"}, b.versions)
	assert.Empty(t, b.commentaries)
}

func TestBuildTableOfContent(t *testing.T) {
	annotation := []openpecha.AnnotationSegment{
		{ID: "c", Span: openpecha.Span{Start: 20, End: 30}},
		{ID: "a", Span: openpecha.Span{Start: 0, End: 10}},
		{ID: "b2", Span: openpecha.Span{Start: 10, End: 20}},
		{ID: "b1", Span: openpecha.Span{Start: 10, End: 15}},
	}

	toc := buildTableOfContent("wb-1", "sec", annotation)
	assert.Equal(t, "wb-1", toc.TextID)
	require.Len(t, toc.Sections, 1)

	var got []string
	for i, s := range toc.Sections[0].Segments {
		got = append(got, s.SegmentID)
		assert.Equal(t, i+1, s.SegmentNumber)
	}
	assert.Equal(t, []string{"a", "b2", "b1", "c"}, got)
	assert.Equal(t, "c", annotation[0].ID, "input must not be reordered")
}

func TestBuildTableOfContent_TiesKeepUpstreamOrder(t *testing.T) {
	var annotation []openpecha.AnnotationSegment
	var want []string
	// enough equal starts that an unstable sort would shuffle them
	for i := range 40 {
		id := fmt.Sprintf("tie-%02d", i)
		annotation = append(annotation, openpecha.AnnotationSegment{ID: id, Span: openpecha.Span{Start: 5, End: 100 - i}})
		want = append(want, id)
	}
	annotation = append([]openpecha.AnnotationSegment{{ID: "late", Span: openpecha.Span{Start: 50, End: 60}}}, annotation...)
	annotation = append(annotation, openpecha.AnnotationSegment{ID: "first", Span: openpecha.Span{Start: 0, End: 5}})
	want = append(append([]string{"first"}, want...), "late")

	toc := buildTableOfContent("wb-1", "sec", annotation)
	got := make([]string, 0, len(annotation))
	for _, s := range toc.Sections[0].Segments {
		got = append(got, s.SegmentID)
	}
	assert.Equal(t, want, got)
}

func TestBuildTableOfContent_Empty(t *testing.T) {
	toc := buildTableOfContent("wb-1", "sec", nil)
	require.Len(t, toc.Sections, 1)
	assert.Empty(t, toc.Sections[0].Segments)
}

func TestSliceSpan(t *testing.T) {
	tibetan := []rune("བཀྲ་ཤིས་བདེ་ལེགས།")

	tests := []struct {
		name    string
		runes   []rune
		span    openpecha.Span
		want    string
		wantErr bool
	}{
		{name: "ascii prefix", runes: []rune("abcdef"), span: openpecha.Span{Start: 0, End: 3}, want: "abc"},
		{name: "ascii suffix", runes: []rune("abcdef"), span: openpecha.Span{Start: 3, End: 6}, want: "def"},
		{name: "empty span", runes: []rune("abcdef"), span: openpecha.Span{Start: 2, End: 2}, want: ""},
		{name: "code points not bytes", runes: tibetan, span: openpecha.Span{Start: 0, End: 4}, want: string(tibetan[:4])},
		{name: "end past content", runes: []rune("abc"), span: openpecha.Span{Start: 1, End: 4}, wantErr: true},
		{name: "negative start", runes: []rune("abc"), span: openpecha.Span{Start: -1, End: 2}, wantErr: true},
		{name: "reversed", runes: []rune("abc"), span: openpecha.Span{Start: 2, End: 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sliceSpan(tt.runes, tt.span)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSpan)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Heart Sutra":         "heart-sutra",
		"  Prajñāpāramitā  ":  "prajñāpāramitā",
		"Madhyamaka / Middle": "madhyamaka-middle",
		"sutra--2":            "sutra-2",
		"":                    "",
		"---":                 "",
		"般若波羅蜜多心經":            "般若波羅蜜多心經",
	}
	for in, want := range tests {
		assert.Equal(t, want, slugify(in), "slugify(%q)", in)
	}
}

func TestCategorySlug_FallsBack(t *testing.T) {
	assert.Equal(t, "sutra", categorySlug(openpecha.Category{ID: "c1", Title: map[string]string{"en": "Sutra", "bo": "མདོ།"}}))
	assert.Equal(t, "cat-7", categorySlug(openpecha.Category{ID: "cat_7", Title: map[string]string{"en": "!!"}}))
}

func TestClassify(t *testing.T) {
	upstream := &httpapi.APIError{Service: httpapi.ServiceOpenPecha, Status: 503}
	destination := &httpapi.APIError{Service: httpapi.ServiceWeBuddhist, Status: 400}
	queue := &httpapi.APIError{Service: httpapi.ServiceMapping, Status: 500}
	transport := &httpapi.TransportError{Service: httpapi.ServiceWeBuddhist, Err: errors.New("connection refused")}

	assert.ErrorIs(t, classify(upstream), ErrUpstreamUnavailable)
	assert.ErrorIs(t, classify(destination), ErrDestinationConflict)
	assert.ErrorIs(t, classify(queue), ErrUpstreamUnavailable)
	assert.ErrorIs(t, classify(transport), ErrTransport)

	oversized := fmt.Errorf("openpecha GET /instances/I1: %w of 10 bytes", httpapi.ErrResponseTooLarge)
	assert.ErrorIs(t, classify(oversized), ErrUpstreamUnavailable)
	assert.ErrorIs(t, classify(oversized), httpapi.ErrResponseTooLarge)

	var apiErr *httpapi.APIError
	require.True(t, errors.As(classify(destination), &apiErr))
	assert.Equal(t, 400, apiErr.Status)

	once := classify(destination)
	assert.Same(t, once, classify(once))

	plain := errors.New("boom")
	assert.Same(t, plain, classify(plain))
	assert.NoError(t, classify(nil))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(&StageError{Stage: StageAccess, Err: ErrAuthorization}))
	assert.True(t, IsPermanent(fmt.Errorf("%w: x", ErrPartialSegmentUpload)))
	assert.True(t, IsPermanent(ErrMissingCollection))
	assert.False(t, IsPermanent(fmt.Errorf("%w: 503", ErrUpstreamUnavailable)))
	assert.False(t, IsPermanent(ErrTransport))
	assert.False(t, IsPermanent(ErrIngestionInProgress))
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: StageSegments, ID: "I1", Err: ErrInvalidSpan}
	assert.Equal(t, "segments I1: segment span outside content", err.Error())
	assert.ErrorIs(t, err, ErrInvalidSpan)
	assert.Equal(t, "toc: boom", (&StageError{Stage: StageTOC, Err: errors.New("boom")}).Error())
}

func TestCollectionMap_ScopedByDestination(t *testing.T) {
	m := NewCollectionMap()
	m.Store("https://a.test/", "cat-1", "wb-a")
	m.Store("https://b.test", "cat-1", "wb-b")

	id, ok := m.Lookup("https://a.test", "cat-1")
	assert.True(t, ok)
	assert.Equal(t, "wb-a", id)
	assert.Equal(t, map[string]string{"cat-1": "wb-b"}, m.Snapshot("https://b.test/"))

	_, ok = m.Lookup("https://c.test", "cat-1")
	assert.False(t, ok)
}
