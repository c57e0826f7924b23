package uploader

import (
	"context"
	"fmt"

	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
	"github.com/OpenPecha/webuddhist/backend/pkg/openpecha"
	"github.com/OpenPecha/webuddhist/backend/pkg/webuddhist"
)

// MaxSegmentBatchSize is the largest batch the destination accepts.
const MaxSegmentBatchSize = 400

type SegmentService struct {
	upstream  Upstream
	dest      Destination
	batchSize int
	log       *logger.Logger
}

// UploadAll uploads segments for every text created in this run, in creation
// order.
func (s *SegmentService) UploadAll(ctx context.Context, state *runState) error {
	for _, text := range state.created {
		if err := s.upload(ctx, text, state); err != nil {
			return &StageError{Stage: StageSegments, ID: text.PechaTextID, Err: err}
		}
	}
	return nil
}

func (s *SegmentService) upload(ctx context.Context, text createdText, state *runState) error {
	count, err := s.dest.CountSegments(ctx, text.DestinationID)
	if err != nil {
		return classify(err)
	}
	if count > 0 {
		s.log.Info("[Segments] Text already has segments, skipping", "destination_id", text.DestinationID, "segments", count)
		return nil
	}

	doc, err := s.upstream.GetInstance(ctx, text.PechaTextID)
	if err != nil {
		return classify(err)
	}
	annotationID, ok := doc.SegmentationID()
	if !ok {
		return fmt.Errorf("%w: instance has no segmentation annotation", ErrEmptySegmentation)
	}
	state.segmentations[text.PechaTextID] = annotationID

	annotation, err := s.upstream.GetAnnotation(ctx, annotationID)
	if err != nil {
		return classify(err)
	}
	if len(annotation) == 0 {
		return fmt.Errorf("%w: annotation %s is empty", ErrEmptySegmentation, annotationID)
	}

	return s.stream(ctx, text.DestinationID, doc.Content, annotation)
}

// stream slices content one batch at a time and posts each batch as soon as it
// is full, so at most one batch of segment content is held in memory.
func (s *SegmentService) stream(ctx context.Context, destinationID, content string, annotation []openpecha.AnnotationSegment) error {
	runes := []rune(content)
	size := s.batchSize
	if size <= 0 || size > MaxSegmentBatchSize {
		size = MaxSegmentBatchSize
	}

	uploaded := 0
	batchNumber := 0
	for start := 0; start < len(annotation); start += size {
		end := min(start+size, len(annotation))
		batchNumber++

		batch := webuddhist.SegmentBatch{
			TextID:   destinationID,
			Segments: make([]webuddhist.Segment, 0, end-start),
		}
		for _, a := range annotation[start:end] {
			segmentContent, err := sliceSpan(runes, a.Span)
			if err != nil {
				return fmt.Errorf("segment %s: %w", a.ID, err)
			}
			batch.Segments = append(batch.Segments, webuddhist.Segment{
				PechaSegmentID: a.ID,
				Content:        segmentContent,
				Type:           webuddhist.SegmentTypeSource,
			})
		}

		if err := s.dest.CreateSegments(ctx, batch); err != nil {
			if uploaded == 0 {
				return classify(err)
			}
			s.log.Error(
				"[Segments] Batch failed after earlier batches were stored; text needs manual reconciliation",
				"destination_id", destinationID,
				"batch_number", batchNumber,
				"batch_size", len(batch.Segments),
				"uploaded", uploaded,
				"total", len(annotation),
				"err", err,
			)
			return fmt.Errorf("%w: batch %d (%d segments) failed after %d of %d segments were stored: %w",
				ErrPartialSegmentUpload, batchNumber, len(batch.Segments), uploaded, len(annotation), classify(err))
		}
		uploaded += len(batch.Segments)
		s.log.Debug("[Segments] Batch uploaded", "destination_id", destinationID, "batch_number", batchNumber, "uploaded", uploaded)
	}

	s.log.Info("[Segments] Segments uploaded", "destination_id", destinationID, "segments", uploaded, "batches", batchNumber)
	return nil
}

// sliceSpan returns the code points in [span.Start, span.End).
func sliceSpan(runes []rune, span openpecha.Span) (string, error) {
	if span.Start < 0 || span.End < span.Start || span.End > len(runes) {
		return "", fmt.Errorf("%w: [%d,%d) over %d code points", ErrInvalidSpan, span.Start, span.End, len(runes))
	}
	return string(runes[span.Start:span.End]), nil
}
