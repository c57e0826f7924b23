package webuddhist

const (
	GroupTypeText       = "text"
	GroupTypeCommentary = "commentary"

	TextTypeVersion    = "version"
	TextTypeCommentary = "commentary"

	SegmentTypeSource = "source"
	TOCTypeText       = "text"
)

// CollectionPayload mirrors one upstream category. Titles and Descriptions are
// keyed by language.
type CollectionPayload struct {
	PechaCollectionID string            `json:"pecha_collection_id"`
	Slug              string            `json:"slug"`
	Titles            map[string]string `json:"titles"`
	Descriptions      map[string]string `json:"descriptions"`
	ParentID          *string           `json:"parent_id"`
}

type Collection struct {
	ID                string  `json:"id"`
	PechaCollectionID string  `json:"pecha_collection_id,omitempty"`
	Slug              string  `json:"slug,omitempty"`
	ParentID          *string `json:"parent_id,omitempty"`
}

type collectionList struct {
	Collections []Collection `json:"collections"`
}

type groupPayload struct {
	Type string `json:"type"`
}

type Group struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// TextPayload is the body of POST /texts.
type TextPayload struct {
	PechaTextID string   `json:"pecha_text_id"`
	Title       string   `json:"title"`
	Language    string   `json:"language"`
	IsPublished bool     `json:"is_published"`
	GroupID     string   `json:"group_id"`
	Type        string   `json:"type"`
	Categories  []string `json:"categories"`
	SourceLink  string   `json:"source_link,omitempty"`
	Views       int      `json:"views"`
	Ranking     *int     `json:"ranking,omitempty"`
	License     string   `json:"license,omitempty"`
}

type Text struct {
	ID          string   `json:"id"`
	PechaTextID string   `json:"pecha_text_id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Language    string   `json:"language,omitempty"`
	GroupID     string   `json:"group_id,omitempty"`
	Type        string   `json:"type,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

type uploadedTextsRequest struct {
	PechaTextIDs []string `json:"pecha_text_ids"`
}

type Segment struct {
	PechaSegmentID string `json:"pecha_segment_id"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

// SegmentBatch is the body of POST /segments.
type SegmentBatch struct {
	TextID   string    `json:"text_id"`
	Segments []Segment `json:"segments"`
}

type segmentPage struct {
	Total    int              `json:"total"`
	Segments []map[string]any `json:"segments"`
}

type TOCSegment struct {
	SegmentID     string `json:"segment_id"`
	SegmentNumber int    `json:"segment_number"`
}

type TOCSection struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	SectionNumber int          `json:"section_number"`
	Segments      []TOCSegment `json:"segments"`
}

// TableOfContent is the body of POST /texts/table-of-content.
type TableOfContent struct {
	TextID   string       `json:"text_id"`
	Type     string       `json:"type"`
	Sections []TOCSection `json:"sections"`
}
