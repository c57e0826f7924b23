package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/OpenPecha/webuddhist/backend/pkg/httpapi"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
	"github.com/OpenPecha/webuddhist/backend/pkg/openpecha"
	"github.com/OpenPecha/webuddhist/backend/pkg/webuddhist"
)

// CollectionLanguages are mirrored in this order.
var CollectionLanguages = []string{"bo", "en", "zh"}

// CollectionMap remembers pecha_collection_id -> destination collection id per
// destination. It is shared by every run in the process.
type CollectionMap struct {
	mu   sync.RWMutex
	byID map[string]map[string]string
}

func NewCollectionMap() *CollectionMap {
	return &CollectionMap{byID: map[string]map[string]string{}}
}

func collectionScope(destinationURL string) string {
	return strings.TrimRight(destinationURL, "/")
}

func (m *CollectionMap) Lookup(destinationURL, pechaCollectionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byID[collectionScope(destinationURL)][pechaCollectionID]
	return id, ok
}

func (m *CollectionMap) Store(destinationURL, pechaCollectionID, destinationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := collectionScope(destinationURL)
	if m.byID[scope] == nil {
		m.byID[scope] = map[string]string{}
	}
	m.byID[scope][pechaCollectionID] = destinationID
}

func (m *CollectionMap) Snapshot(destinationURL string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.byID[collectionScope(destinationURL)]))
	for k, v := range m.byID[collectionScope(destinationURL)] {
		out[k] = v
	}
	return out
}

// Resolve returns the destination collection for an upstream category,
// asking the destination on a cache miss.
func (m *CollectionMap) Resolve(ctx context.Context, dest Destination, destinationURL, pechaCollectionID string) (string, error) {
	if pechaCollectionID == "" {
		return "", fmt.Errorf("%w: text has no category", ErrMissingCollection)
	}
	if id, ok := m.Lookup(destinationURL, pechaCollectionID); ok {
		return id, nil
	}

	collection, err := dest.GetCollectionByPechaID(ctx, pechaCollectionID)
	if httpapi.IsNotFound(err) || (err == nil && collection.ID == "") {
		return "", fmt.Errorf("%w: no collection for category %s; sync collections first", ErrMissingCollection, pechaCollectionID)
	}
	if err != nil {
		return "", classify(err)
	}

	m.Store(destinationURL, pechaCollectionID, collection.ID)
	return collection.ID, nil
}

// CollectionService mirrors the upstream category tree into the destination.
type CollectionService struct {
	upstream       Upstream
	dest           Destination
	collections    *CollectionMap
	destinationURL string
	languages      []string
}

// Sync walks each language's tree breadth-first from the roots and returns
// the resulting id map.
func (s *CollectionService) Sync(ctx context.Context) (map[string]string, error) {
	languages := s.languages
	if len(languages) == 0 {
		languages = CollectionLanguages
	}
	for _, language := range languages {
		if err := s.syncLanguage(ctx, language); err != nil {
			return nil, err
		}
	}
	return s.collections.Snapshot(s.destinationURL), nil
}

func (s *CollectionService) syncLanguage(ctx context.Context, language string) error {
	queue, err := s.upstream.GetCategories(ctx, language, "")
	if err != nil {
		return fmt.Errorf("failed to list %s root categories: %w", language, classify(err))
	}

	created := 0
	// upstream may echo a node back as its own descendant
	seen := map[string]bool{}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if seen[node.ID] {
			continue
		}
		seen[node.ID] = true

		if _, err := s.mirror(ctx, language, node); err != nil {
			return &StageError{Stage: StageCollections, ID: node.ID, Err: err}
		}
		created++

		if node.HasChild != nil && !*node.HasChild {
			continue
		}
		children, err := s.upstream.GetCategories(ctx, language, node.ID)
		if err != nil {
			return &StageError{Stage: StageCollections, ID: node.ID, Err: classify(err)}
		}
		queue = append(queue, children...)
	}

	logger.Info("[Collections] Language mirrored", "language", language, "collections", created)
	return nil
}

func (s *CollectionService) mirror(ctx context.Context, language string, node openpecha.Category) (string, error) {
	payload := webuddhist.CollectionPayload{
		PechaCollectionID: node.ID,
		Slug:              categorySlug(node),
		Titles:            node.Title,
		Descriptions:      node.Description,
	}
	if node.ParentID != nil && *node.ParentID != "" {
		parentID, ok := s.collections.Lookup(s.destinationURL, *node.ParentID)
		if !ok {
			return "", fmt.Errorf("%w: parent %s of %s was not mirrored", ErrMissingCollection, *node.ParentID, node.ID)
		}
		payload.ParentID = &parentID
	}

	created, err := s.dest.CreateCollection(ctx, language, payload)
	if err == nil {
		s.collections.Store(s.destinationURL, node.ID, created.ID)
		return created.ID, nil
	}
	if !httpapi.IsSlugExists(err) {
		return "", classify(err)
	}

	logger.Debug("[Collections] Slug exists, resolving", "pecha_collection_id", node.ID, "slug", payload.Slug, "language", language)
	id, err := s.resolveExisting(ctx, language, node.ID, payload.Slug)
	if err != nil {
		return "", err
	}
	s.collections.Store(s.destinationURL, node.ID, id)
	return id, nil
}

func (s *CollectionService) resolveExisting(ctx context.Context, language, pechaCollectionID, slug string) (string, error) {
	existing, err := s.dest.GetCollectionByPechaID(ctx, pechaCollectionID)
	if err == nil && existing.ID != "" {
		return existing.ID, nil
	}
	if err != nil && !httpapi.IsNotFound(err) {
		return "", classify(err)
	}

	found, err := s.dest.FindCollection(ctx, language, slug)
	if err != nil {
		return "", classify(err)
	}
	if found == nil || found.ID == "" {
		return "", errors.New("slug conflict reported but no collection with slug " + slug)
	}
	return found.ID, nil
}

func categorySlug(node openpecha.Category) string {
	for _, language := range []string{"en", "bo", "zh"} {
		if slug := slugify(node.Title[language]); slug != "" {
			return slug
		}
	}
	return slugify(node.ID)
}

// slugify lowercases s and joins runs of letters and digits with single
// hyphens. Non-Latin scripts are kept.
func slugify(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}
