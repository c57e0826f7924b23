package uploader

import (
	"context"
	"sort"

	"github.com/OpenPecha/webuddhist/backend/pkg/auth"
	"github.com/OpenPecha/webuddhist/backend/pkg/mapping"
	"github.com/OpenPecha/webuddhist/backend/pkg/openpecha"
	"github.com/OpenPecha/webuddhist/backend/pkg/webuddhist"
)

// TextUploadRequest names one upstream text and the two systems to copy
// between.
type TextUploadRequest struct {
	DestinationURL  string `json:"destination_url" validate:"required,url"`
	OpenPechaAPIURL string `json:"openpecha_api_url" validate:"required,url"`
	TextID          string `json:"text_id" validate:"required"`
}

// CollectionSyncRequest asks for the upstream category tree to be mirrored.
type CollectionSyncRequest struct {
	DestinationURL  string `json:"destination_url" validate:"required,url"`
	OpenPechaAPIURL string `json:"openpecha_api_url" validate:"required,url"`
}

// TextInstanceIds is the result of one run. NewText maps newly created
// destination ids to pecha text ids; AllText maps every upstream text id seen
// to its pecha text id.
type TextInstanceIds struct {
	NewText map[string]string `json:"new_text"`
	AllText map[string]string `json:"all_text"`
}

// Upstream is the read side of the OpenPecha API.
type Upstream interface {
	GetCategories(ctx context.Context, language, parentID string) ([]openpecha.Category, error)
	GetText(ctx context.Context, textID string) (*openpecha.Text, error)
	GetRelatedByWork(ctx context.Context, textID string) (openpecha.RelatedWorks, error)
	GetCriticalInstances(ctx context.Context, textID string) ([]openpecha.Instance, error)
	GetInstance(ctx context.Context, pechaTextID string) (*openpecha.InstanceDocument, error)
	GetAnnotation(ctx context.Context, annotationID string) ([]openpecha.AnnotationSegment, error)
}

// Destination is the write side of the WeBuddhist API.
type Destination interface {
	CreateCollection(ctx context.Context, language string, payload webuddhist.CollectionPayload) (*webuddhist.Collection, error)
	GetCollectionByPechaID(ctx context.Context, pechaCollectionID string) (*webuddhist.Collection, error)
	FindCollection(ctx context.Context, language, slug string) (*webuddhist.Collection, error)
	CreateGroup(ctx context.Context, groupType string) (*webuddhist.Group, error)
	CreateText(ctx context.Context, payload webuddhist.TextPayload) (*webuddhist.Text, error)
	ListUploadedTexts(ctx context.Context, pechaTextIDs []string) (map[string]webuddhist.Text, error)
	CountSegments(ctx context.Context, textID string) (int, error)
	CreateSegments(ctx context.Context, batch webuddhist.SegmentBatch) error
	CreateTableOfContent(ctx context.Context, toc webuddhist.TableOfContent) error
}

type MappingQueue interface {
	EnqueueTextIDs(ctx context.Context, job mapping.Job) error
}

// Authorizer is the access gate in front of every run.
type Authorizer interface {
	Authorize(token string) (*auth.User, error)
}

// TextKind is either Version or Commentary. The two differ in which group a
// text joins and what it is catalogued under.
type TextKind interface {
	String() string
	groupType() string
	textType() string
	groupID(state *runState) string
	setGroupID(state *runState, id string)
	// adoptsExistingGroup reports whether a re-run attaches new texts to the
	// group of an already uploaded sibling.
	adoptsExistingGroup() bool
}

type Version struct{}

func (Version) String() string                    { return "version" }
func (Version) groupType() string                 { return webuddhist.GroupTypeText }
func (Version) textType() string                  { return webuddhist.TextTypeVersion }
func (Version) groupID(s *runState) string        { return s.versionGroupID }
func (Version) setGroupID(s *runState, id string) { s.versionGroupID = id }
func (Version) adoptsExistingGroup() bool         { return true }

type Commentary struct{}

func (Commentary) String() string                    { return "commentary" }
func (Commentary) groupType() string                 { return webuddhist.GroupTypeCommentary }
func (Commentary) textType() string                  { return webuddhist.TextTypeCommentary }
func (Commentary) groupID(s *runState) string        { return s.commentaryGroupID }
func (Commentary) setGroupID(s *runState, id string) { s.commentaryGroupID = id }
func (Commentary) adoptsExistingGroup() bool         { return false }

// createdText is one destination text made by this run.
type createdText struct {
	DestinationID string
	PechaTextID   string
}

// runState belongs to exactly one pipeline invocation.
type runState struct {
	versionGroupID    string
	commentaryGroupID string

	// text id -> pecha text id, for every expression seen.
	allInstanceIDs map[string]string
	// pecha text id -> segmentation annotation id, filled by the segment stage.
	segmentations map[string]string

	created []createdText
}

func newRunState() *runState {
	return &runState{
		allInstanceIDs: map[string]string{},
		segmentations:  map[string]string{},
	}
}

func (s *runState) result() *TextInstanceIds {
	ids := &TextInstanceIds{
		NewText: make(map[string]string, len(s.created)),
		AllText: make(map[string]string, len(s.allInstanceIDs)),
	}
	for _, c := range s.created {
		ids.NewText[c.DestinationID] = c.PechaTextID
	}
	for textID, pechaID := range s.allInstanceIDs {
		ids.AllText[textID] = pechaID
	}
	return ids
}

// pechaTextIDs returns every pecha text id seen, sorted.
func (s *runState) pechaTextIDs() []string {
	ids := make([]string, 0, len(s.allInstanceIDs))
	for _, id := range s.allInstanceIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
