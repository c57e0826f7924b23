package openpecha

import "encoding/json"

// Text types reported by the catalog. A nil Type means "unspecified".
const (
	TypeTranslation       = "translation"
	TypeRoot              = "root"
	TypeTranslationSource = "translation_source"
	TypeCommentary        = "commentary"
	TypeSiblingCommentary = "sibling_commentary"
)

const AnnotationTypeSegmentation = "segmentation"

// Category is one node of the upstream collection tree. Title and Description
// are keyed by language.
type Category struct {
	ID          string            `json:"id"`
	ParentID    *string           `json:"parent_id"`
	Title       map[string]string `json:"title"`
	Description map[string]string `json:"description"`
	HasChild    *bool             `json:"has_child,omitempty"`
}

// Text is one expression of a work.
type Text struct {
	ID          string            `json:"id"`
	Language    string            `json:"language"`
	Title       map[string]string `json:"title"`
	Type        *string           `json:"type"`
	CategoryID  string            `json:"category_id"`
	IsPublished bool              `json:"is_published"`
	Views       int               `json:"views"`
	Ranking     *int              `json:"ranking"`
	License     string            `json:"license"`
}

// IsCommentary reports whether the text annotates another work.
func (t *Text) IsCommentary() bool {
	return t.Type != nil && IsCommentaryRelation(*t.Type)
}

// DisplayTitle returns the title in the text's own language, falling back to
// English.
func (t *Text) DisplayTitle() string {
	if title, ok := t.Title[t.Language]; ok {
		return title
	}
	return t.Title["en"]
}

// IsCommentaryRelation reports whether relation places an expression in the
// commentary bucket.
func IsCommentaryRelation(relation string) bool {
	return relation == TypeCommentary || relation == TypeSiblingCommentary
}

// Relation groups the expressions related to a text in the same way.
type Relation struct {
	Relation      string   `json:"relation"`
	ExpressionIDs []string `json:"expression_ids"`
}

// RelatedWorks is keyed by an opaque relation key.
type RelatedWorks map[string]Relation

// Instance is a critical instance: the canonical identity of a text.
type Instance struct {
	ID                     string              `json:"id"`
	Type                   string              `json:"type"`
	Source                 string              `json:"source"`
	BDRC                   *string             `json:"bdrc,omitempty"`
	Wiki                   *string             `json:"wiki,omitempty"`
	Colophon               *string             `json:"colophon,omitempty"`
	IncipitTitle           map[string]string   `json:"incipit_title,omitempty"`
	AltIncipitTitles       []map[string]string `json:"alt_incipit_titles,omitempty"`
	BibliographyAnnotation json.RawMessage     `json:"bibliography_annotation,omitempty"`
}

// AnnotationRef points at one annotation layer of an instance.
type AnnotationRef struct {
	ID   string `json:"annotation_id"`
	Type string `json:"type"`
}

// InstanceDocument is an instance together with its base text.
type InstanceDocument struct {
	Instance
	Content     string          `json:"content"`
	Annotations []AnnotationRef `json:"annotations"`
}

// SegmentationID returns the first segmentation annotation id.
func (d *InstanceDocument) SegmentationID() (string, bool) {
	for _, a := range d.Annotations {
		if a.Type == AnnotationTypeSegmentation && a.ID != "" {
			return a.ID, true
		}
	}
	return "", false
}

// Span is a half-open [Start, End) range over the instance content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type AnnotationSegment struct {
	ID   string `json:"id"`
	Span Span   `json:"span"`
}

type annotationResponse struct {
	Data []AnnotationSegment `json:"data"`
}
