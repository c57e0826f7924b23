package uploader

import (
	"context"
	"fmt"
	"sort"

	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
	"github.com/OpenPecha/webuddhist/backend/pkg/openpecha"
	"github.com/OpenPecha/webuddhist/backend/pkg/webuddhist"

	"github.com/google/uuid"
)

type TOCService struct {
	upstream Upstream
	dest     Destination
	newID    func() string
	log      *logger.Logger
}

func (s *TOCService) CreateAll(ctx context.Context, state *runState) error {
	for _, text := range state.created {
		if err := s.create(ctx, text, state); err != nil {
			return &StageError{Stage: StageTOC, ID: text.PechaTextID, Err: err}
		}
	}
	return nil
}

func (s *TOCService) create(ctx context.Context, text createdText, state *runState) error {
	annotationID, ok := state.segmentations[text.PechaTextID]
	if !ok {
		doc, err := s.upstream.GetInstance(ctx, text.PechaTextID)
		if err != nil {
			return classify(err)
		}
		if annotationID, ok = doc.SegmentationID(); !ok {
			return fmt.Errorf("%w: instance has no segmentation annotation", ErrEmptySegmentation)
		}
	}

	annotation, err := s.upstream.GetAnnotation(ctx, annotationID)
	if err != nil {
		return classify(err)
	}

	toc := buildTableOfContent(text.DestinationID, s.sectionID(), annotation)
	if err := s.dest.CreateTableOfContent(ctx, toc); err != nil {
		return classify(err)
	}
	s.log.Info("[TOC] Table of contents created", "destination_id", text.DestinationID, "segments", len(annotation))
	return nil
}

func (s *TOCService) sectionID() string {
	if s.newID != nil {
		return s.newID()
	}
	return uuid.NewString()
}

// buildTableOfContent numbers segments 1..N by ascending span start. Equal
// starts keep annotation order.
func buildTableOfContent(destinationID, sectionID string, annotation []openpecha.AnnotationSegment) webuddhist.TableOfContent {
	sorted := make([]openpecha.AnnotationSegment, len(annotation))
	copy(sorted, annotation)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Span.Start < sorted[j].Span.Start
	})

	ordered := make([]webuddhist.TOCSegment, 0, len(sorted))
	for i, segment := range sorted {
		ordered = append(ordered, webuddhist.TOCSegment{
			SegmentID:     segment.ID,
			SegmentNumber: i + 1,
		})
	}

	return webuddhist.TableOfContent{
		TextID: destinationID,
		Type:   webuddhist.TOCTypeText,
		Sections: []webuddhist.TOCSection{{
			ID:            sectionID,
			Title:         "1",
			SectionNumber: 1,
			Segments:      ordered,
		}},
	}
}
