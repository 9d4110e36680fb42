package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/pkg/models"
)

type extractionBackend struct {
	payload string
	err     error
}

func (b *extractionBackend) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &llm.CompletionResponse{
		Content:    []llm.ContentBlock{llm.TextBlock(b.payload)},
		StopReason: llm.StopEndTurn,
	}, nil
}

func (b *extractionBackend) Name() string { return "extraction" }

type countingStore struct {
	mu      sync.Mutex
	inserts int
	edges   int
	failAll bool
}

func (s *countingStore) InsertMemoryWithEmbedding(ctx context.Context, m *models.Memory, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store down")
	}
	s.inserts++
	return nil
}
func (s *countingStore) Recall(ctx context.Context, q models.RecallQuery) (*models.RecallResult, error) {
	return &models.RecallResult{}, nil
}
func (s *countingStore) HasVectors(ctx context.Context) bool { return false }
func (s *countingStore) InsertEdge(ctx context.Context, from, relation, to, src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges++
	return nil
}
func (s *countingStore) Close() error { return nil }

func completedSession(t *testing.T) *models.Session {
	t.Helper()
	session := models.NewSession("scratch")
	turn := session.StartTurn("I use Go and PostgreSQL")
	turn.Complete("Noted: Go with PostgreSQL.")
	return session
}

func TestIndexSessionCountsMatchInserts(t *testing.T) {
	payload := `{
		"entities": [
			{"name": "Go", "entity_type": "language", "context": "primary language"},
			{"name": "PostgreSQL", "entity_type": "database"}
		],
		"facts": [
			{"subject": "user.language", "predicate": "is", "object": "Go", "confidence": "stated"}
		],
		"relationships": [
			{"from": "user", "relation": "uses", "to": "PostgreSQL"}
		]
	}`
	store := &countingStore{}
	x := New(&extractionBackend{payload: payload}, store, nil, Config{})

	report := x.IndexSession(context.Background(), completedSession(t))
	if report.HasErrors() {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
	if report.Entities != 2 || report.Facts != 1 || report.Relationships != 1 {
		t.Fatalf("unexpected counts: %s", report)
	}
	total := report.Entities + report.Facts + report.Relationships + report.Notes
	if total != store.inserts {
		t.Fatalf("report total %d != store inserts %d", total, store.inserts)
	}
	if store.edges != 1 {
		t.Fatalf("expected 1 graph edge, got %d", store.edges)
	}
}

func TestIndexSessionMissingSectionsDefaultEmpty(t *testing.T) {
	store := &countingStore{}
	x := New(&extractionBackend{payload: `{"entities": [{"name": "Go", "entity_type": "language"}]}`}, store, nil, Config{})

	report := x.IndexSession(context.Background(), completedSession(t))
	if report.Entities != 1 || report.Facts != 0 || report.Relationships != 0 {
		t.Fatalf("unexpected counts: %s", report)
	}
}

func TestIndexSessionExtractionErrorDoesNotAbort(t *testing.T) {
	store := &countingStore{}
	x := New(&extractionBackend{err: errors.New("model unavailable")}, store, nil, Config{})

	report := x.IndexSession(context.Background(), completedSession(t))
	if !report.HasErrors() {
		t.Fatalf("expected an extract error in the report")
	}
	if store.inserts != 0 {
		t.Fatalf("nothing should be stored when extraction fails")
	}
}

func TestIndexSessionStoreErrorsCollected(t *testing.T) {
	store := &countingStore{failAll: true}
	x := New(&extractionBackend{payload: `{"entities": [{"name": "Go", "entity_type": "language"}]}`}, store, nil, Config{})

	report := x.IndexSession(context.Background(), completedSession(t))
	if !report.HasErrors() {
		t.Fatalf("expected store errors collected")
	}
	if report.Entities != 0 {
		t.Fatalf("failed inserts must not count, got %d", report.Entities)
	}
}

func TestIndexSessionToleratesFencedJSON(t *testing.T) {
	payload := "```json\n{\"entities\": [{\"name\": \"Go\", \"entity_type\": \"language\"}]}\n```"
	store := &countingStore{}
	x := New(&extractionBackend{payload: payload}, store, nil, Config{})

	report := x.IndexSession(context.Background(), completedSession(t))
	if report.Entities != 1 {
		t.Fatalf("fenced JSON should parse, got %s", report)
	}
}

func TestLinearize(t *testing.T) {
	session := models.NewSession("scratch")
	turn := session.StartTurn("hello")
	turn.Complete("hi there")

	got := Linearize(session)
	want := "user: hello\nassistant: hi there"
	if got != want {
		t.Fatalf("Linearize() = %q, want %q", got, want)
	}
}

type staticNER struct {
	entities []ExtractedEntity
}

func (n *staticNER) Recognize(ctx context.Context, text string) ([]ExtractedEntity, error) {
	return n.entities, nil
}

func TestNERSupplementCoalescesCaseInsensitive(t *testing.T) {
	store := &countingStore{}
	x := New(&extractionBackend{payload: `{"entities": [{"name": "Go", "entity_type": "language"}]}`}, store, nil, Config{NERConfidenceThreshold: 0.5})
	x = x.WithNER(&staticNER{entities: []ExtractedEntity{
		{Name: "go", EntityType: "language", Confidence: 0.9},   // duplicate, case-insensitive
		{Name: "Rust", EntityType: "language", Confidence: 0.8}, // new
		{Name: "Perl", EntityType: "language", Confidence: 0.2}, // below threshold
	}})

	report := x.IndexSession(context.Background(), completedSession(t))
	if report.Entities != 2 {
		t.Fatalf("expected Go + Rust = 2 entities, got %d", report.Entities)
	}
}

func TestExtractionResultDecoding(t *testing.T) {
	var result ExtractionResult
	if err := json.Unmarshal([]byte(`{}`), &result); err != nil {
		t.Fatalf("empty object must decode: %v", err)
	}
	if len(result.Entities)+len(result.Facts)+len(result.Relationships) != 0 {
		t.Fatalf("expected all sections empty")
	}
}

func TestIndexSessionEmptyTranscript(t *testing.T) {
	store := &countingStore{}
	x := New(&extractionBackend{payload: `{}`}, store, nil, Config{})

	report := x.IndexSession(context.Background(), models.NewSession("scratch"))
	if store.inserts != 0 || report.HasErrors() {
		t.Fatalf("empty session should be a clean noop")
	}
}
