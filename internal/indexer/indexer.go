// Package indexer converts completed session transcripts into structured,
// searchable memory: entities, facts, relationships, and notes.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/internal/memory"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// ExtractionResult is the JSON document the extraction model returns. Missing
// sections default to empty.
type ExtractionResult struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Facts         []ExtractedFact         `json:"facts"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// ExtractedEntity is a named thing mentioned in the conversation.
type ExtractedEntity struct {
	Name       string  `json:"name"`
	EntityType string  `json:"entity_type"`
	Context    string  `json:"context,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
}

// ExtractedFact is a subject/predicate/object assertion.
type ExtractedFact struct {
	Subject    string `json:"subject"`
	Predicate  string `json:"predicate"`
	Object     string `json:"object"`
	Confidence string `json:"confidence,omitempty"`
}

// ExtractedRelationship links two entities.
type ExtractedRelationship struct {
	From     string `json:"from"`
	Relation string `json:"relation"`
	To       string `json:"to"`
}

// NEREngine is an optional local named-entity recognizer that supplements LLM
// extraction with span-based entities.
type NEREngine interface {
	// Recognize returns entities found in text with confidence scores.
	Recognize(ctx context.Context, text string) ([]ExtractedEntity, error)
}

// Report summarizes one indexing run: counts per category plus a per-stage
// error list. Stage errors never abort the remaining stages.
type Report struct {
	SessionID     string   `json:"session_id"`
	Entities      int      `json:"entities"`
	Facts         int      `json:"facts"`
	Relationships int      `json:"relationships"`
	Notes         int      `json:"notes"`
	Errors        []string `json:"errors,omitempty"`
	DurationMS    int64    `json:"duration_ms"`
}

// HasErrors reports whether any stage recorded an error.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}

func (r *Report) String() string {
	return fmt.Sprintf("entities=%d facts=%d relationships=%d notes=%d errors=%d",
		r.Entities, r.Facts, r.Relationships, r.Notes, len(r.Errors))
}

// Config controls the indexing pipeline.
type Config struct {
	// Model used for extraction; a profile distinct from the conversational
	// one is common (typically cheaper and faster).
	Model string
	// NERConfidenceThreshold filters span-based entities. Default: 0.5.
	NERConfidenceThreshold float32
}

// SessionIndexer runs the extraction pipeline against closed sessions.
type SessionIndexer struct {
	backend  llm.Provider
	store    memory.Store
	embedder memory.Embedder
	ner      NEREngine
	config   Config
}

// New creates an indexer. The embedder and NER engine are optional.
func New(backend llm.Provider, store memory.Store, embedder memory.Embedder, config Config) *SessionIndexer {
	if config.NERConfidenceThreshold <= 0 {
		config.NERConfidenceThreshold = 0.5
	}
	return &SessionIndexer{
		backend:  backend,
		store:    store,
		embedder: embedder,
		config:   config,
	}
}

// WithNER attaches a local NER engine.
func (x *SessionIndexer) WithNER(ner NEREngine) *SessionIndexer {
	x.ner = ner
	return x
}

const extractionSystemPrompt = `Extract structured memory from the conversation transcript.

Return a JSON object with three arrays:
- "entities": [{"name", "entity_type", "context"}] - named things worth remembering
- "facts": [{"subject", "predicate", "object", "confidence"}] - assertions; confidence is "stated" or "inferred"
- "relationships": [{"from", "relation", "to"}] - links between entities

Return only the JSON object, no prose.`

// IndexSession runs the full pipeline for one session: linearize, extract,
// supplement with NER, embed, store. Errors are collected in the report and
// never abort later stages.
func (x *SessionIndexer) IndexSession(ctx context.Context, session *models.Session) *Report {
	start := time.Now()
	report := &Report{SessionID: session.ID}

	transcript := Linearize(session)
	if transcript == "" {
		report.DurationMS = time.Since(start).Milliseconds()
		return report
	}

	// Stage: LLM extraction.
	extraction, err := x.extract(ctx, transcript)
	if err != nil {
		report.Errors = append(report.Errors, "extract: "+err.Error())
		extraction = &ExtractionResult{}
	}

	// Stage: NER supplement.
	if x.ner != nil {
		nerEntities, err := x.ner.Recognize(ctx, transcript)
		if err != nil {
			report.Errors = append(report.Errors, "ner: "+err.Error())
		} else {
			extraction.Entities = mergeEntities(extraction.Entities, nerEntities, x.config.NERConfidenceThreshold)
		}
	}

	// Stage: embed + store.
	for _, entity := range extraction.Entities {
		content := entity.Name
		if entity.Context != "" {
			content = entity.Name + ": " + entity.Context
		}
		mem := &models.Memory{
			Content:         content,
			Kind:            models.MemoryEntity,
			SourceSessionID: session.ID,
			CreatedAt:       time.Now(),
		}
		if err := x.insert(ctx, mem, content); err != nil {
			report.Errors = append(report.Errors, "store entity: "+err.Error())
			continue
		}
		report.Entities++
	}

	for _, fact := range extraction.Facts {
		confidence := models.FactConfidence(fact.Confidence)
		if confidence == "" {
			confidence = models.ConfidenceInferred
		}
		content := fmt.Sprintf("%s %s %s", fact.Subject, fact.Predicate, fact.Object)
		mem := &models.Memory{
			Content:         content,
			Kind:            models.MemoryFact,
			SourceSessionID: session.ID,
			Subject:         fact.Subject,
			Predicate:       fact.Predicate,
			Object:          fact.Object,
			Confidence:      confidence,
			CreatedAt:       time.Now(),
		}
		if err := x.insert(ctx, mem, content); err != nil {
			report.Errors = append(report.Errors, "store fact: "+err.Error())
			continue
		}
		report.Facts++
	}

	for _, rel := range extraction.Relationships {
		content := fmt.Sprintf("%s %s %s", rel.From, rel.Relation, rel.To)
		mem := &models.Memory{
			Content:         content,
			Kind:            models.MemoryRelationship,
			SourceSessionID: session.ID,
			FromEntity:      rel.From,
			Relation:        rel.Relation,
			ToEntity:        rel.To,
			CreatedAt:       time.Now(),
		}
		if err := x.insert(ctx, mem, content); err != nil {
			report.Errors = append(report.Errors, "store relationship: "+err.Error())
			continue
		}
		if err := x.store.InsertEdge(ctx, rel.From, rel.Relation, rel.To, session.ID); err != nil {
			report.Errors = append(report.Errors, "store edge: "+err.Error())
		}
		report.Relationships++
	}

	report.DurationMS = time.Since(start).Milliseconds()
	slog.Info("session indexed", "session_id", session.ID, "report", report.String())
	return report
}

// insert embeds content when an embedder is available, then stores the memory.
func (x *SessionIndexer) insert(ctx context.Context, mem *models.Memory, content string) error {
	var vec []float32
	if x.embedder != nil {
		embedded, err := x.embedder.Embed(ctx, content)
		if err != nil {
			slog.Debug("indexer: embedding failed, storing without vector", "error", err)
		} else {
			vec = embedded
		}
	}
	mem.Embedding = vec
	return x.store.InsertMemoryWithEmbedding(ctx, mem, vec)
}

// extract sends the transcript to the extraction model and decodes the JSON
// document from its response.
func (x *SessionIndexer) extract(ctx context.Context, transcript string) (*ExtractionResult, error) {
	resp, err := x.backend.Complete(ctx, &llm.CompletionRequest{
		Model:     x.config.Model,
		Messages:  []llm.Message{llm.UserMessage(transcript)},
		System:    extractionSystemPrompt,
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Text())
	// Tolerate fenced output.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var result ExtractionResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &result); err != nil {
		return nil, fmt.Errorf("extraction output was not valid JSON: %w", err)
	}
	return &result, nil
}

// Linearize flattens a session transcript to ordered "role: content" lines.
func Linearize(session *models.Session) string {
	var b strings.Builder
	for _, turn := range session.Turns {
		if turn.UserMessage != "" {
			b.WriteString("user: ")
			b.WriteString(turn.UserMessage)
			b.WriteString("\n")
		}
		if turn.AssistantResponse != "" {
			b.WriteString("assistant: ")
			b.WriteString(turn.AssistantResponse)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// mergeEntities coalesces NER entities into the LLM set, deduplicating by
// case-insensitive name and dropping spans below the confidence threshold.
func mergeEntities(base []ExtractedEntity, supplement []ExtractedEntity, threshold float32) []ExtractedEntity {
	seen := make(map[string]bool, len(base))
	for _, e := range base {
		seen[strings.ToLower(e.Name)] = true
	}
	for _, e := range supplement {
		if e.Confidence < threshold {
			continue
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		base = append(base, e)
	}
	return base
}
