package uploader

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/OpenPecha/webuddhist/backend/pkg/auth"
	"github.com/OpenPecha/webuddhist/backend/pkg/mapping"
	"github.com/OpenPecha/webuddhist/backend/pkg/openpecha"
	"github.com/OpenPecha/webuddhist/backend/pkg/webuddhist"
)

const (
	upstreamURL     = "https://openpecha.test"
	remoteDestURL   = "https://webuddhist.test"
	localDestURL    = "http://localhost:8000"
	mappingQueueURL = "https://mapping.test"
	adminToken      = "admin-token"
)

// world fakes the upstream catalog, the destination backend and the mapping
// queue behind one httptest server.
type world struct {
	mu sync.Mutex

	texts       map[string]openpecha.Text
	related     map[string]openpecha.RelatedWorks
	instances   map[string][]openpecha.Instance
	documents   map[string]openpecha.InstanceDocument
	annotations map[string][]openpecha.AnnotationSegment
	categories  map[string][]openpecha.Category // key: language + "/" + parent id
	upstreamErr map[string]int                  // path -> status

	collections     map[string]webuddhist.Collection // pecha collection id -> collection
	collectionPosts []string                         // pecha collection ids, in POST order
	slugs           map[string]string                // slug -> collection id
	groups          []webuddhist.Group
	destTexts       map[string]webuddhist.Text // pecha text id -> text
	postedTexts     []webuddhist.TextPayload
	segments        map[string][]webuddhist.Segment // destination text id -> segments
	segmentPosts    []webuddhist.SegmentBatch
	failSegmentAt   int // 1-based POST /segments call to fail, 0 never
	tocs            []webuddhist.TableOfContent
	mappingJobs     []mapping.Job
	requests        int

	nextID int
}

func newWorld() *world {
	return &world{
		texts:       map[string]openpecha.Text{},
		related:     map[string]openpecha.RelatedWorks{},
		instances:   map[string][]openpecha.Instance{},
		documents:   map[string]openpecha.InstanceDocument{},
		annotations: map[string][]openpecha.AnnotationSegment{},
		categories:  map[string][]openpecha.Category{},
		upstreamErr: map[string]int{},
		collections: map[string]webuddhist.Collection{},
		slugs:       map[string]string{},
		destTexts:   map[string]webuddhist.Text{},
		segments:    map[string][]webuddhist.Segment{},
	}
}

func strPtr(s string) *string { return &s }

// addText registers an upstream text with one critical instance whose content
// is segmented by spans.
func (w *world) addText(id, textType, language, categoryID, content string, spans ...openpecha.Span) {
	var typ *string
	if textType != "" {
		typ = strPtr(textType)
	}
	w.texts[id] = openpecha.Text{
		ID:          id,
		Language:    language,
		Title:       map[string]string{language: "title " + id, "en": "Title " + id},
		Type:        typ,
		CategoryID:  categoryID,
		IsPublished: true,
		License:     "CC0",
	}
	pechaID := "I_" + id
	annotationID := "seg_" + id
	w.instances[id] = []openpecha.Instance{{ID: pechaID, Type: "critical", Source: "https://source/" + id}}
	w.documents[pechaID] = openpecha.InstanceDocument{
		Instance: openpecha.Instance{ID: pechaID},
		Content:  content,
		Annotations: []openpecha.AnnotationRef{
			{ID: "align_" + id, Type: "alignment"},
			{ID: annotationID, Type: openpecha.AnnotationTypeSegmentation},
		},
	}
	segments := make([]openpecha.AnnotationSegment, 0, len(spans))
	for i, span := range spans {
		segments = append(segments, openpecha.AnnotationSegment{ID: fmt.Sprintf("%s_s%d", id, i+1), Span: span})
	}
	w.annotations[annotationID] = segments
}

func (w *world) addCollection(pechaID, slug string) string {
	id := "wb_" + pechaID
	w.collections[pechaID] = webuddhist.Collection{ID: id, PechaCollectionID: pechaID, Slug: slug}
	if slug != "" {
		w.slugs[slug] = id
	}
	return id
}

func (w *world) id(prefix string) string {
	w.nextID++
	return fmt.Sprintf("%s-%d", prefix, w.nextID)
}

func (w *world) groupsOfType(groupType string) []webuddhist.Group {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []webuddhist.Group
	for _, g := range w.groups {
		if g.Type == groupType {
			out = append(out, g)
		}
	}
	return out
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func (w *world) handler() http.Handler {
	mux := http.NewServeMux()

	// upstream
	mux.HandleFunc("GET /v2/categories", func(rw http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("language") + "/" + r.URL.Query().Get("parent_id")
		writeJSON(rw, http.StatusOK, w.categories[key])
	})
	mux.HandleFunc("GET /v2/texts/{id}", func(rw http.ResponseWriter, r *http.Request) {
		text, ok := w.texts[r.PathValue("id")]
		if !ok {
			writeJSON(rw, http.StatusNotFound, map[string]string{"detail": "text not found"})
			return
		}
		writeJSON(rw, http.StatusOK, text)
	})
	mux.HandleFunc("GET /v2/texts/{id}/related-by-work", func(rw http.ResponseWriter, r *http.Request) {
		related := w.related[r.PathValue("id")]
		if related == nil {
			related = openpecha.RelatedWorks{}
		}
		writeJSON(rw, http.StatusOK, related)
	})
	mux.HandleFunc("GET /v2/texts/{id}/instances", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, w.instances[r.PathValue("id")])
	})
	mux.HandleFunc("GET /v2/instances/{id}", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, w.documents[r.PathValue("id")])
	})
	mux.HandleFunc("GET /v2/annotations/{id}", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"data": w.annotations[r.PathValue("id")]})
	})

	// destination
	mux.HandleFunc("POST /api/v1/collections", func(rw http.ResponseWriter, r *http.Request) {
		var payload webuddhist.CollectionPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.collectionPosts = append(w.collectionPosts, payload.PechaCollectionID)
		if _, exists := w.slugs[payload.Slug]; exists {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "Collection with this slug already exists"})
			return
		}
		collection := webuddhist.Collection{ID: w.id("col"), PechaCollectionID: payload.PechaCollectionID, Slug: payload.Slug, ParentID: payload.ParentID}
		w.collections[payload.PechaCollectionID] = collection
		w.slugs[payload.Slug] = collection.ID
		writeJSON(rw, http.StatusCreated, collection)
	})
	mux.HandleFunc("GET /api/v1/collections/{id}", func(rw http.ResponseWriter, r *http.Request) {
		collection, ok := w.collections[r.PathValue("id")]
		if !ok {
			writeJSON(rw, http.StatusNotFound, map[string]string{"detail": "collection not found"})
			return
		}
		writeJSON(rw, http.StatusOK, collection)
	})
	mux.HandleFunc("GET /api/v1/collections", func(rw http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		list := []webuddhist.Collection{}
		if id, ok := w.slugs[slug]; ok {
			list = append(list, webuddhist.Collection{ID: id, Slug: slug})
		}
		writeJSON(rw, http.StatusOK, map[string]any{"collections": list})
	})
	mux.HandleFunc("POST /api/v1/groups", func(rw http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string `json:"type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		group := webuddhist.Group{ID: w.id("group"), Type: body.Type}
		w.groups = append(w.groups, group)
		writeJSON(rw, http.StatusCreated, group)
	})
	mux.HandleFunc("POST /api/v1/texts", func(rw http.ResponseWriter, r *http.Request) {
		var payload webuddhist.TextPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if _, exists := w.destTexts[payload.PechaTextID]; exists {
			writeJSON(rw, http.StatusConflict, map[string]string{"detail": "duplicate pecha_text_id"})
			return
		}
		text := webuddhist.Text{ID: w.id("text"), PechaTextID: payload.PechaTextID, Title: payload.Title, GroupID: payload.GroupID, Type: payload.Type}
		w.destTexts[payload.PechaTextID] = text
		w.postedTexts = append(w.postedTexts, payload)
		writeJSON(rw, http.StatusCreated, text)
	})
	mux.HandleFunc("POST /api/v1/text-uploader/list", func(rw http.ResponseWriter, r *http.Request) {
		var body struct {
			PechaTextIDs []string `json:"pecha_text_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		found := map[string]webuddhist.Text{}
		for _, id := range body.PechaTextIDs {
			if text, ok := w.destTexts[id]; ok {
				found[id] = text
			}
		}
		writeJSON(rw, http.StatusOK, found)
	})
	mux.HandleFunc("GET /api/v1/segments", func(rw http.ResponseWriter, r *http.Request) {
		stored := w.segments[r.URL.Query().Get("text_id")]
		page := []webuddhist.Segment{}
		if len(stored) > 0 {
			page = stored[:1]
		}
		writeJSON(rw, http.StatusOK, map[string]any{"total": len(stored), "segments": page})
	})
	mux.HandleFunc("POST /api/v1/segments", func(rw http.ResponseWriter, r *http.Request) {
		var batch webuddhist.SegmentBatch
		_ = json.NewDecoder(r.Body).Decode(&batch)
		w.segmentPosts = append(w.segmentPosts, batch)
		if w.failSegmentAt == len(w.segmentPosts) {
			writeJSON(rw, http.StatusRequestEntityTooLarge, map[string]string{"detail": "payload too large"})
			return
		}
		w.segments[batch.TextID] = append(w.segments[batch.TextID], batch.Segments...)
		writeJSON(rw, http.StatusCreated, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/v1/texts/table-of-content", func(rw http.ResponseWriter, r *http.Request) {
		var toc webuddhist.TableOfContent
		_ = json.NewDecoder(r.Body).Decode(&toc)
		w.tocs = append(w.tocs, toc)
		writeJSON(rw, http.StatusCreated, toc)
	})

	// mapping queue
	mux.HandleFunc("POST /job/text-ids", func(rw http.ResponseWriter, r *http.Request) {
		var job mapping.Job
		_ = json.NewDecoder(r.Body).Decode(&job)
		w.mappingJobs = append(w.mappingJobs, job)
		writeJSON(rw, http.StatusAccepted, map[string]string{"status": "queued"})
	})

	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.requests++
		if status, ok := w.upstreamErr[r.URL.Path]; ok {
			writeJSON(rw, status, map[string]string{"detail": "unavailable"})
			return
		}
		mux.ServeHTTP(rw, r)
	})
}

// redirectTransport sends every request to the test server whatever its host.
type redirectTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (t redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.Host = t.target.Host
	return t.base.RoundTrip(r)
}

type fakeGate struct {
	deny bool
}

func (g fakeGate) Authorize(token string) (*auth.User, error) {
	if g.deny || token != adminToken {
		return nil, auth.ErrForbidden
	}
	return &auth.User{ID: "1", Role: auth.RoleAdmin}, nil
}

type testEnv struct {
	world    *world
	pipeline *Pipeline
}

func newTestEnv(t *testing.T, w *world, mutate ...func(*NewPipelineParams)) *testEnv {
	t.Helper()
	ts := httptest.NewServer(w.handler())
	t.Cleanup(ts.Close)
	target, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}

	sections := 0
	params := NewPipelineParams{
		Config: Config{
			MappingURL: mappingQueueURL,
			HTTPClient: &http.Client{Transport: redirectTransport{target: target, base: http.DefaultTransport}},
		},
		Gate: fakeGate{},
		NewSectionID: func() string {
			sections++
			return fmt.Sprintf("section-%d", sections)
		},
	}
	for _, m := range mutate {
		m(&params)
	}
	return &testEnv{world: w, pipeline: NewPipeline(params)}
}

func request(dest, textID string) TextUploadRequest {
	return TextUploadRequest{DestinationURL: dest, OpenPechaAPIURL: upstreamURL, TextID: textID}
}

func segmentIDs(segments []webuddhist.Segment) []string {
	ids := make([]string, 0, len(segments))
	for _, s := range segments {
		ids = append(ids, s.PechaSegmentID)
	}
	return ids
}

func isStage(err error, stage Stage) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr) && stageErr.Stage == stage
}

func repeatSpans(n int) (string, []openpecha.Span) {
	var b strings.Builder
	spans := make([]openpecha.Span, 0, n)
	for i := range n {
		start := b.Len()
		fmt.Fprintf(&b, "%05d", i)
		spans = append(spans, openpecha.Span{Start: start, End: b.Len()})
	}
	return b.String(), spans
}
