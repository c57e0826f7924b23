package uploader

import (
	"context"
	"fmt"
	"sort"

	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
	"github.com/OpenPecha/webuddhist/backend/pkg/openpecha"
	"github.com/OpenPecha/webuddhist/backend/pkg/webuddhist"
)

// MetadataService expands one upstream text to every expression of its work
// and creates the groups and text records the destination is missing.
type MetadataService struct {
	upstream       Upstream
	dest           Destination
	collections    *CollectionMap
	destinationURL string
	log            *logger.Logger
}

// buckets holds the expression ids of a work, split by kind. Each id appears
// exactly once across both.
type buckets struct {
	versions     []string
	commentaries []string
}

// work is one upstream text expanded to every expression related to it.
type work struct {
	textID  string
	buckets buckets
	known   map[string]*openpecha.Text
}

// expressionIDs lists the requested text and every expression of the work.
func (w *work) expressionIDs() []string {
	ids := make([]string, 0, len(w.buckets.versions)+len(w.buckets.commentaries)+1)
	ids = append(ids, w.textID)
	ids = append(ids, w.buckets.versions...)
	return append(ids, w.buckets.commentaries...)
}

// expand fetches textID and its related expressions and splits them into the
// version and commentary buckets. It writes nothing.
func (s *MetadataService) expand(ctx context.Context, textID string) (*work, error) {
	source, err := s.upstream.GetText(ctx, textID)
	if err != nil {
		return nil, &StageError{Stage: StageMetadata, ID: textID, Err: classify(err)}
	}
	related, err := s.upstream.GetRelatedByWork(ctx, textID)
	if err != nil {
		return nil, &StageError{Stage: StageMetadata, ID: textID, Err: classify(err)}
	}

	b := partition(source, related)
	s.log.Info("[Uploader] Related expressions found", "versions", len(b.versions), "commentaries", len(b.commentaries))

	known := map[string]*openpecha.Text{source.ID: source}
	if source.ID != textID {
		known[textID] = source
	}
	return &work{textID: textID, buckets: b, known: known}, nil
}

// ingest creates what the destination is missing for w: the version bucket
// first, then the commentary bucket. Created texts and critical-instance ids
// are recorded in state.
func (s *MetadataService) ingest(ctx context.Context, w *work, state *runState) error {
	if err := s.ingestBucket(ctx, Version{}, w.buckets.versions, w.known, state); err != nil {
		return err
	}
	return s.ingestBucket(ctx, Commentary{}, w.buckets.commentaries, w.known, state)
}

// partition splits related expressions by relation. The source text leads the
// bucket matching its own type. Relation keys are visited in sorted order.
func partition(source *openpecha.Text, related openpecha.RelatedWorks) buckets {
	var b buckets
	seen := map[string]bool{source.ID: true}
	if source.IsCommentary() {
		b.commentaries = append(b.commentaries, source.ID)
	} else {
		b.versions = append(b.versions, source.ID)
	}

	keys := make([]string, 0, len(related))
	for key := range related {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rel := related[key]
		for _, id := range rel.ExpressionIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if openpecha.IsCommentaryRelation(rel.Relation) {
				b.commentaries = append(b.commentaries, id)
			} else {
				b.versions = append(b.versions, id)
			}
		}
	}
	return b
}

func (s *MetadataService) ingestBucket(ctx context.Context, kind TextKind, textIDs []string, known map[string]*openpecha.Text, state *runState) error {
	if len(textIDs) == 0 {
		return nil
	}

	instances := make(map[string]openpecha.Instance, len(textIDs))
	pechaIDs := make([]string, 0, len(textIDs))
	for _, textID := range textIDs {
		list, err := s.upstream.GetCriticalInstances(ctx, textID)
		if err != nil {
			return &StageError{Stage: StageMetadata, ID: textID, Err: classify(err)}
		}
		if len(list) == 0 || list[0].ID == "" {
			return &StageError{Stage: StageMetadata, ID: textID, Err: ErrMissingInstance}
		}
		instances[textID] = list[0]
		state.allInstanceIDs[textID] = list[0].ID
		pechaIDs = append(pechaIDs, list[0].ID)
	}

	uploaded, err := s.dest.ListUploadedTexts(ctx, pechaIDs)
	if err != nil {
		return &StageError{Stage: StageMetadata, ID: kind.String(), Err: classify(err)}
	}

	if kind.adoptsExistingGroup() && kind.groupID(state) == "" {
		for _, pechaID := range pechaIDs {
			if existing, ok := uploaded[pechaID]; ok && existing.GroupID != "" {
				kind.setGroupID(state, existing.GroupID)
				s.log.Info("[Uploader] Adopted existing group", "kind", kind, "group_id", existing.GroupID)
				break
			}
		}
	}

	for _, textID := range textIDs {
		instance := instances[textID]
		if _, ok := uploaded[instance.ID]; ok {
			s.log.Info("[Uploader] Text already uploaded, skipping", "text_id", textID, "pecha_text_id", instance.ID)
			continue
		}

		text, ok := known[textID]
		if !ok {
			text, err = s.upstream.GetText(ctx, textID)
			if err != nil {
				return &StageError{Stage: StageMetadata, ID: textID, Err: classify(err)}
			}
		}

		payload, err := s.buildPayload(ctx, kind, text, instance, state)
		if err != nil {
			return &StageError{Stage: StageMetadata, ID: textID, Err: err}
		}
		if err := s.ensureGroup(ctx, kind, state); err != nil {
			return &StageError{Stage: StageMetadata, ID: textID, Err: err}
		}
		payload.GroupID = kind.groupID(state)

		created, err := s.dest.CreateText(ctx, payload)
		if err != nil {
			return &StageError{Stage: StageMetadata, ID: textID, Err: classify(err)}
		}

		state.created = append(state.created, createdText{DestinationID: created.ID, PechaTextID: instance.ID})
		s.log.Info("[Uploader] Text created", "kind", kind, "text_id", textID, "pecha_text_id", instance.ID, "destination_id", created.ID)
	}
	return nil
}

// ensureGroup creates the bucket's group the first time a new text needs it.
func (s *MetadataService) ensureGroup(ctx context.Context, kind TextKind, state *runState) error {
	if kind.groupID(state) != "" {
		return nil
	}
	group, err := s.dest.CreateGroup(ctx, kind.groupType())
	if err != nil {
		return classify(err)
	}
	kind.setGroupID(state, group.ID)
	s.log.Info("[Uploader] Group created", "kind", kind, "group_id", group.ID)
	return nil
}

// buildPayload fills everything but the group id, so a text that cannot be
// catalogued never causes a group to be created.
func (s *MetadataService) buildPayload(ctx context.Context, kind TextKind, text *openpecha.Text, instance openpecha.Instance, state *runState) (webuddhist.TextPayload, error) {
	payload := webuddhist.TextPayload{
		PechaTextID: instance.ID,
		Title:       text.DisplayTitle(),
		Language:    text.Language,
		IsPublished: text.IsPublished,
		Type:        kind.textType(),
		SourceLink:  instance.Source,
		Views:       text.Views,
		Ranking:     text.Ranking,
		License:     text.License,
	}

	switch kind.(type) {
	case Version:
		collectionID, err := s.collections.Resolve(ctx, s.dest, s.destinationURL, text.CategoryID)
		if err != nil {
			return payload, err
		}
		payload.Categories = []string{collectionID}
	case Commentary:
		if state.versionGroupID == "" {
			return payload, fmt.Errorf("%w: no version of this work was uploaded", ErrMissingVersionGroup)
		}
		payload.Categories = []string{state.versionGroupID}
	}
	return payload, nil
}
