package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
)

type memoryRepository struct {
	db *sql.DB
}

func newMemoryRepository(db *sql.DB) *memoryRepository {
	return &memoryRepository{db: db}
}

const memoryColumns = `m.id, m.campaign_id, m.memory_type, m.content, m.summary, m.embedding,
	m.session_number, m.turn_number, m.tags, m.source_ref, m.created_at, COALESCE(i.importance, 0)`

const memoryFrom = `FROM memories m LEFT JOIN memory_importance i ON i.memory_id = m.id`

func encodeEmbedding(e model.Embedding) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, []float32(e)); err != nil {
		return nil, goerr.Wrap(err, "failed to encode embedding")
	}
	return buf.Bytes(), nil
}

func decodeEmbedding(blob []byte) (model.Embedding, error) {
	if len(blob)%4 != 0 {
		return nil, goerr.New("embedding blob has invalid length", goerr.V("length", len(blob)))
	}
	vector := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vector); err != nil {
		return nil, goerr.Wrap(err, "failed to decode embedding")
	}
	return model.Embedding(vector), nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	var (
		m                 model.Memory
		memType, tagsJSON string
		createdAt         string
		blob              []byte
		session, turn     sql.NullInt64
		sourceRef         sql.NullString
		importance        int
	)
	if err := row.Scan(&m.ID, &m.CampaignID, &memType, &m.Content, &m.Summary, &blob,
		&session, &turn, &tagsJSON, &sourceRef, &createdAt, &importance); err != nil {
		return nil, err
	}

	embedding, err := decodeEmbedding(blob)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode memory", goerr.V(model.MemoryIDKey, m.ID))
	}
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return nil, goerr.Wrap(err, "failed to decode memory tags", goerr.V(model.MemoryIDKey, m.ID))
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse memory timestamp", goerr.V(model.MemoryIDKey, m.ID))
	}

	m.Type = types.MemoryType(memType)
	m.Embedding = embedding
	m.CreatedAt = ts
	m.SourceRef = sourceRef.String
	m.Importance = types.Importance(importance).Clamp()
	if session.Valid {
		m.SessionNumber = model.IntPtr(int(session.Int64))
	}
	if turn.Valid {
		m.TurnNumber = model.IntPtr(int(turn.Int64))
	}
	return &m, nil
}

// checkOwner returns ErrNotFound or ErrOwnership when memoryID is not a
// memory of campaignID
func checkOwner(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, campaignID int64, memoryID model.MemoryID) error {
	var owner int64
	err := q.QueryRowContext(ctx, `SELECT campaign_id FROM memories WHERE id = ?`, string(memoryID)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return goerr.Wrap(model.ErrNotFound, "memory not found",
			goerr.V(model.MemoryIDKey, memoryID),
			goerr.V(model.CampaignIDKey, campaignID))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to look up memory owner", goerr.V(model.MemoryIDKey, memoryID))
	}
	if owner != campaignID {
		return goerr.Wrap(model.ErrOwnership, "memory is not owned by campaign",
			goerr.V(model.MemoryIDKey, memoryID),
			goerr.V(model.CampaignIDKey, campaignID))
	}
	return nil
}

func (r *memoryRepository) Create(ctx context.Context, campaignID int64, mem *model.Memory) (*model.Memory, error) {
	created := mem.Clone()
	created.CampaignID = campaignID
	if err := created.Validate(); err != nil {
		return nil, err
	}
	if created.ID == "" {
		created.ID = model.NewMemoryID()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	tags, err := model.NormalizeTags(created.Tags)
	if err != nil {
		return nil, err
	}
	created.Tags = tags

	blob, err := encodeEmbedding(created.Embedding)
	if err != nil {
		return nil, err
	}
	tagsJSON, err := json.Marshal(created.Tags)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode memory tags")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var dimension int
	err = tx.QueryRowContext(ctx, `SELECT dimension FROM campaigns WHERE id = ?`, campaignID).Scan(&dimension)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO campaigns (id, dimension) VALUES (?, ?)`,
			campaignID, created.Embedding.Dimension()); err != nil {
			return nil, goerr.Wrap(err, "failed to register campaign", goerr.V(model.CampaignIDKey, campaignID))
		}
	case err != nil:
		return nil, goerr.Wrap(err, "failed to read campaign", goerr.V(model.CampaignIDKey, campaignID))
	case dimension != created.Embedding.Dimension():
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "embedding dimension differs from campaign",
			goerr.V(model.CampaignIDKey, campaignID),
			goerr.V(model.DimensionKey, created.Embedding.Dimension()),
			goerr.V("campaign_dimension", dimension))
	}

	if created.SourceRef != "" {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE campaign_id = ? AND source_ref = ?`,
			campaignID, created.SourceRef).Scan(&existing)
		if err == nil {
			return nil, goerr.Wrap(model.ErrDuplicateSource, "source already recorded",
				goerr.V(model.CampaignIDKey, campaignID),
				goerr.V(model.SourceRefKey, created.SourceRef),
				goerr.V(model.MemoryIDKey, existing))
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(err, "failed to check memory source", goerr.V(model.SourceRefKey, created.SourceRef))
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO memories
		(id, campaign_id, memory_type, content, summary, embedding, session_number, turn_number, tags, source_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(created.ID), campaignID, created.Type.String(), created.Content, created.Summary, blob,
		nullInt(created.SessionNumber), nullInt(created.TurnNumber), string(tagsJSON),
		nullString(created.SourceRef), formatTime(created.CreatedAt),
	); err != nil {
		return nil, goerr.Wrap(err, "failed to insert memory", goerr.V(model.MemoryIDKey, created.ID))
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO memory_importance (memory_id, importance, version, updated_at) VALUES (?, ?, 1, ?)`,
		string(created.ID), created.Importance.Int(), formatTime(time.Now())); err != nil {
		return nil, goerr.Wrap(err, "failed to insert memory importance", goerr.V(model.MemoryIDKey, created.ID))
	}

	if err := tx.Commit(); err != nil {
		return nil, goerr.Wrap(err, "failed to commit memory", goerr.V(model.MemoryIDKey, created.ID))
	}
	return created, nil
}

func (r *memoryRepository) Get(ctx context.Context, campaignID int64, memoryID model.MemoryID) (*model.Memory, error) {
	if err := checkOwner(ctx, r.db, campaignID, memoryID); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` `+memoryFrom+` WHERE m.id = ? AND m.campaign_id = ?`,
		string(memoryID), campaignID)
	mem, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V(model.MemoryIDKey, memoryID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V(model.MemoryIDKey, memoryID))
	}
	return mem, nil
}

func (r *memoryRepository) listCampaign(ctx context.Context, campaignID int64) ([]*model.Memory, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+memoryColumns+` `+memoryFrom+`
		WHERE m.campaign_id = ? ORDER BY m.created_at DESC, m.id ASC`, campaignID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories", goerr.V(model.CampaignIDKey, campaignID))
	}
	defer rows.Close()

	memories := make([]*model.Memory, 0)
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory", goerr.V(model.CampaignIDKey, campaignID))
		}
		memories = append(memories, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memories", goerr.V(model.CampaignIDKey, campaignID))
	}
	return memories, nil
}

func (r *memoryRepository) List(ctx context.Context, campaignID int64) ([]*model.Memory, error) {
	return r.listCampaign(ctx, campaignID)
}

func (r *memoryRepository) Count(ctx context.Context, campaignID int64) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE campaign_id = ?`, campaignID).Scan(&count); err != nil {
		return 0, goerr.Wrap(err, "failed to count memories", goerr.V(model.CampaignIDKey, campaignID))
	}
	return count, nil
}

func (r *memoryRepository) Delete(ctx context.Context, campaignID int64, memoryID model.MemoryID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := checkOwner(ctx, tx, campaignID, memoryID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_importance WHERE memory_id = ?`, string(memoryID)); err != nil {
		return goerr.Wrap(err, "failed to delete memory importance", goerr.V(model.MemoryIDKey, memoryID))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND campaign_id = ?`, string(memoryID), campaignID); err != nil {
		return goerr.Wrap(err, "failed to delete memory", goerr.V(model.MemoryIDKey, memoryID))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ? AND NOT EXISTS (SELECT 1 FROM memories WHERE campaign_id = ?)`,
		campaignID, campaignID); err != nil {
		return goerr.Wrap(err, "failed to release campaign dimension", goerr.V(model.CampaignIDKey, campaignID))
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit memory deletion", goerr.V(model.MemoryIDKey, memoryID))
	}
	return nil
}

func (r *memoryRepository) SetImportance(ctx context.Context, campaignID int64, memoryID model.MemoryID, importance types.Importance) error {
	if err := importance.Validate(); err != nil {
		return goerr.Wrap(model.ErrValidation, err.Error(), goerr.V(model.MemoryIDKey, memoryID))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := checkOwner(ctx, tx, campaignID, memoryID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO memory_importance (memory_id, importance, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (memory_id) DO UPDATE SET importance = excluded.importance, version = memory_importance.version + 1, updated_at = excluded.updated_at`,
		string(memoryID), importance.Int(), formatTime(time.Now())); err != nil {
		return goerr.Wrap(err, "failed to update memory importance", goerr.V(model.MemoryIDKey, memoryID))
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit memory importance", goerr.V(model.MemoryIDKey, memoryID))
	}
	return nil
}

func (r *memoryRepository) HasSource(ctx context.Context, campaignID int64, sourceRef string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE campaign_id = ? AND source_ref = ?`, campaignID, sourceRef).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to check memory source", goerr.V(model.SourceRefKey, sourceRef))
	}
	return true, nil
}

// FindByEmbedding loads the campaign's memories and ranks them in process.
// Campaign memory sets stay in the low thousands, so a full scan is fine.
func (r *memoryRepository) FindByEmbedding(ctx context.Context, campaignID int64, embedding model.Embedding, limit int) ([]*model.ScoredMemory, error) {
	var dimension int
	err := r.db.QueryRowContext(ctx, `SELECT dimension FROM campaigns WHERE id = ?`, campaignID).Scan(&dimension)
	if errors.Is(err, sql.ErrNoRows) {
		return []*model.ScoredMemory{}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read campaign", goerr.V(model.CampaignIDKey, campaignID))
	}
	if dimension != embedding.Dimension() {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "query dimension differs from campaign",
			goerr.V(model.CampaignIDKey, campaignID),
			goerr.V(model.DimensionKey, embedding.Dimension()),
			goerr.V("campaign_dimension", dimension))
	}

	memories, err := r.listCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	candidates := make([]*model.ScoredMemory, 0, len(memories))
	for _, m := range memories {
		candidates = append(candidates, model.NewScoredMemory(m, model.CosineSimilarity(embedding, m.Embedding)))
	}

	// Ties on score are cut by importance and recency, not by scan order
	model.SortScored(candidates)

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
