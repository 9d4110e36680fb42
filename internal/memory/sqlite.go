package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/dylanbstorey/arawn/pkg/models"
)

// SQLiteStore implements Store on a SQLite database. Embeddings are stored as
// little-endian float32 blobs; cosine similarity is computed in Go so the
// store works without a native vector extension.
type SQLiteStore struct {
	db      *sql.DB
	graphDB *sql.DB
}

// SQLiteConfig configures the store.
type SQLiteConfig struct {
	// Path to the memory database. Empty means in-memory.
	Path string
	// GraphPath to the knowledge-graph database. Empty reuses the memory
	// database.
	GraphPath string
}

// NewSQLiteStore opens (or creates) the memory database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to open database: %w", err)
	}

	graphDB := db
	if cfg.GraphPath != "" {
		graphDB, err = sql.Open("sqlite", cfg.GraphPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("memory: failed to open graph database: %w", err)
		}
	}

	s := &SQLiteStore{db: db, graphDB: graphDB}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			source_session_id TEXT,
			subject TEXT,
			predicate TEXT,
			object TEXT,
			confidence TEXT,
			from_entity TEXT,
			relation TEXT,
			to_entity TEXT,
			embedding BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("memory: failed to create memories table: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind)",
		"CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(source_session_id)",
		"CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)",
	} {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("memory: failed to create index: %w", err)
		}
	}

	if _, err := s.graphDB.Exec(`
		CREATE TABLE IF NOT EXISTS edges (
			id TEXT PRIMARY KEY,
			from_entity TEXT NOT NULL,
			relation TEXT NOT NULL,
			to_entity TEXT NOT NULL,
			source_session_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("memory: failed to create edges table: %w", err)
	}
	return nil
}

// InsertMemoryWithEmbedding persists a memory and its embedding.
func (s *SQLiteStore) InsertMemoryWithEmbedding(ctx context.Context, memory *models.Memory, vec []float32) error {
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now()
	}

	var blob []byte
	if len(vec) > 0 {
		blob = encodeVector(vec)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, content, kind, source_session_id,
			subject, predicate, object, confidence,
			from_entity, relation, to_entity,
			embedding, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		memory.ID, memory.Content, string(memory.Kind), memory.SourceSessionID,
		memory.Subject, memory.Predicate, memory.Object, string(memory.Confidence),
		memory.FromEntity, memory.Relation, memory.ToEntity,
		blob, memory.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("memory: insert failed: %w", err)
	}
	return nil
}

// Recall scans embedded memories and ranks them by cosine similarity.
func (s *SQLiteStore) Recall(ctx context.Context, query models.RecallQuery) (*models.RecallResult, error) {
	start := time.Now()
	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, kind, source_session_id,
		       subject, predicate, object, confidence,
		       from_entity, relation, to_entity,
		       embedding, created_at
		FROM memories WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("memory: recall query failed: %w", err)
	}
	defer rows.Close()

	var matches []models.RecallMatch
	for rows.Next() {
		var m models.Memory
		var kind, confidence string
		var blob []byte
		if err := rows.Scan(
			&m.ID, &m.Content, &kind, &m.SourceSessionID,
			&m.Subject, &m.Predicate, &m.Object, &confidence,
			&m.FromEntity, &m.Relation, &m.ToEntity,
			&blob, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("memory: recall scan failed: %w", err)
		}
		m.Kind = models.MemoryKind(kind)
		m.Confidence = models.FactConfidence(confidence)

		vec := decodeVector(blob)
		score := cosineSimilarity(query.Vector, vec)
		if score < query.MinScore {
			continue
		}
		matches = append(matches, models.RecallMatch{Memory: m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: recall iteration failed: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	return &models.RecallResult{
		Matches:     matches,
		QueryTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// HasVectors reports whether any embedded memories exist.
func (s *SQLiteStore) HasVectors(ctx context.Context) bool {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM memories WHERE embedding IS NOT NULL`).Scan(&count)
	return err == nil && count > 0
}

// InsertEdge records a knowledge-graph relationship edge.
func (s *SQLiteStore) InsertEdge(ctx context.Context, from, relation, to, sourceSessionID string) error {
	_, err := s.graphDB.ExecContext(ctx, `
		INSERT INTO edges (id, from_entity, relation, to_entity, source_session_id)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), from, relation, to, sourceSessionID,
	)
	if err != nil {
		return fmt.Errorf("memory: edge insert failed: %w", err)
	}
	return nil
}

// Close closes the underlying databases.
func (s *SQLiteStore) Close() error {
	var firstErr error
	if s.graphDB != nil && s.graphDB != s.db {
		firstErr = s.graphDB.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeVector(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
