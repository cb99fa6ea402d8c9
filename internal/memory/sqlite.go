package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	type       TEXT NOT NULL,
	content    TEXT NOT NULL,
	importance TEXT NOT NULL,
	metadata   TEXT,
	created_at INTEGER NOT NULL,
	expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id);
CREATE INDEX IF NOT EXISTS idx_memories_expiry ON memories(expires_at);
`

// SQLiteStore implements Store on a local SQLite database, with a chromem
// in-process vector index shadowing records that carry embeddings. All data
// stays on the hosting node.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	vectors *chromem.DB // lazy per-agent collections
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for tests.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// modernc sqlite is single-writer; serialize access at the pool level.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return &SQLiteStore{
		db:      db,
		logger:  logger.With("component", "memory"),
		vectors: chromem.NewDB(),
	}, nil
}

// noEmbed is installed as the collection embedding func; the store never
// computes embeddings, so reaching it means a caller forgot to supply one.
func noEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings are caller-supplied; none available")
}

func (s *SQLiteStore) collection(agentID string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vectors.GetOrCreateCollection("agent:"+agentID, nil, noEmbed)
}

// Store persists a record and, when an embedding is supplied, mirrors it
// into the vector index.
func (s *SQLiteStore) Store(ctx context.Context, rec Record, embedding []float32) (string, error) {
	if rec.AgentID == "" {
		return "", fmt.Errorf("record requires an agent id")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ExpiresAt == nil {
		if ttl := rec.Importance.Retention(); ttl > 0 {
			t := rec.CreatedAt.Add(ttl)
			rec.ExpiresAt = &t
		}
	}

	var metaJSON []byte
	if rec.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
	}
	var expires any
	if rec.ExpiresAt != nil {
		expires = rec.ExpiresAt.Unix()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories (id, agent_id, type, content, importance, metadata, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AgentID, string(rec.Type), rec.Content, string(rec.Importance),
		string(metaJSON), rec.CreatedAt.Unix(), expires)
	if err != nil {
		return "", fmt.Errorf("store record: %w", err)
	}

	if len(embedding) > 0 {
		col, err := s.collection(rec.AgentID)
		if err != nil {
			return "", fmt.Errorf("vector collection: %w", err)
		}
		doc := chromem.Document{ID: rec.ID, Content: rec.Content, Embedding: embedding}
		if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
			// The durable record exists; losing the vector mirror is
			// recoverable, so log rather than fail the write.
			s.logger.Warn("vector index add failed", "record", rec.ID, "error", err)
		}
	}

	s.logger.Debug("record stored", "agent", rec.AgentID, "type", rec.Type, "id", rec.ID)
	return rec.ID, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var metaJSON sql.NullString
		var created int64
		var expires sql.NullInt64
		var typ, imp string
		if err := rows.Scan(&rec.ID, &rec.AgentID, &typ, &rec.Content, &imp, &metaJSON, &created, &expires); err != nil {
			return nil, err
		}
		rec.Type = Type(typ)
		rec.Importance = Importance(imp)
		rec.CreatedAt = time.Unix(created, 0)
		if expires.Valid {
			t := time.Unix(expires.Int64, 0)
			rec.ExpiresAt = &t
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Search scores records by query-term overlap in the content. Simple and
// local; callers needing semantic recall supply embeddings and use
// SearchEmbedding.
func (s *SQLiteStore) Search(ctx context.Context, agentID, query string, recType Type, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	q := `SELECT id, agent_id, type, content, importance, metadata, created_at, expires_at
	      FROM memories WHERE agent_id = ?`
	args := []any{agentID}
	if recType != "" {
		q += ` AND type = ?`
		args = append(args, string(recType))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	terms := strings.Fields(strings.ToLower(query))
	var hits []SearchHit
	for _, rec := range records {
		score := termOverlap(strings.ToLower(rec.Content), terms)
		if score > 0 {
			hits = append(hits, SearchHit{Record: rec, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// termOverlap returns the fraction of query terms present in content.
func termOverlap(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, t := range terms {
		if strings.Contains(content, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// SearchEmbedding queries the vector index with a caller-supplied embedding
// and resolves hits back to their durable records.
func (s *SQLiteStore) SearchEmbedding(ctx context.Context, agentID string, embedding []float32, k int) ([]SearchHit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is required")
	}
	if k <= 0 {
		k = 10
	}
	col, err := s.collection(agentID)
	if err != nil {
		return nil, fmt.Errorf("vector collection: %w", err)
	}
	if col.Count() == 0 {
		return nil, nil
	}
	if k > col.Count() {
		k = col.Count()
	}

	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	var hits []SearchHit
	for _, res := range results {
		rec, ok, err := s.get(ctx, agentID, res.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, SearchHit{Record: rec, Score: float64(res.Similarity)})
		}
	}
	return hits, nil
}

func (s *SQLiteStore) get(ctx context.Context, agentID, id string) (Record, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, type, content, importance, metadata, created_at, expires_at
		 FROM memories WHERE agent_id = ? AND id = ?`, agentID, id)
	if err != nil {
		return Record{}, false, err
	}
	defer rows.Close()
	records, err := scanRecords(rows)
	if err != nil || len(records) == 0 {
		return Record{}, false, err
	}
	return records[0], true, nil
}

// Summary reports stored-memory statistics for an agent.
func (s *SQLiteStore) Summary(ctx context.Context, agentID string) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*), MIN(created_at), MAX(created_at) FROM memories WHERE agent_id = ? GROUP BY type`, agentID)
	if err != nil {
		return Stats{}, fmt.Errorf("summary query: %w", err)
	}
	defer rows.Close()

	stats := Stats{AgentID: agentID, ByType: make(map[Type]int)}
	for rows.Next() {
		var typ string
		var count int
		var oldest, newest int64
		if err := rows.Scan(&typ, &count, &oldest, &newest); err != nil {
			return Stats{}, err
		}
		stats.ByType[Type(typ)] = count
		stats.TotalRecords += count
		o, n := time.Unix(oldest, 0), time.Unix(newest, 0)
		if stats.OldestRecord == nil || o.Before(*stats.OldestRecord) {
			stats.OldestRecord = &o
		}
		if stats.NewestRecord == nil || n.After(*stats.NewestRecord) {
			stats.NewestRecord = &n
		}
	}
	return stats, rows.Err()
}

// Delete removes one record from both stores.
func (s *SQLiteStore) Delete(ctx context.Context, agentID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE agent_id = ? AND id = ?`, agentID, id)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	n, _ := res.RowsAffected()
	if col, err := s.collection(agentID); err == nil && col.Count() > 0 {
		_ = col.Delete(ctx, nil, nil, id)
	}
	return n > 0, nil
}

// CleanupExpired removes records past their retention tier.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("expired memories removed", "count", n)
	}
	return int(n), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
