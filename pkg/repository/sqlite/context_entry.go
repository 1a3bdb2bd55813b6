package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
)

type contextEntryRepository struct {
	db *sql.DB
}

func newContextEntryRepository(db *sql.DB) *contextEntryRepository {
	return &contextEntryRepository{db: db}
}

func (r *contextEntryRepository) Put(ctx context.Context, entry *model.ContextEntry) error {
	if entry.ID == "" {
		return goerr.Wrap(model.ErrValidation, "context entry ID is required")
	}
	if entry.CampaignID <= 0 {
		return goerr.Wrap(model.ErrValidation, "campaign ID must be positive", goerr.V("entryID", entry.ID))
	}

	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return goerr.Wrap(err, "failed to encode context entry tags", goerr.V("entryID", entry.ID))
	}
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `INSERT INTO context_entries (campaign_id, id, kind, title, content, tags, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (campaign_id, id) DO UPDATE SET
			kind = excluded.kind, title = excluded.title, content = excluded.content,
			tags = excluded.tags, updated_at = excluded.updated_at`,
		entry.CampaignID, string(entry.ID), entry.Kind, entry.Title, entry.Content, string(tagsJSON),
		formatTime(updatedAt)); err != nil {
		return goerr.Wrap(err, "failed to put context entry", goerr.V("entryID", entry.ID))
	}
	return nil
}

func (r *contextEntryRepository) List(ctx context.Context, campaignID int64) ([]*model.ContextEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, kind, title, content, tags, updated_at
		FROM context_entries WHERE campaign_id = ? ORDER BY id`, campaignID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list context entries", goerr.V(model.CampaignIDKey, campaignID))
	}
	defer rows.Close()

	entries := make([]*model.ContextEntry, 0)
	for rows.Next() {
		var (
			e         model.ContextEntry
			id        string
			tagsJSON  string
			updatedAt string
		)
		if err := rows.Scan(&id, &e.Kind, &e.Title, &e.Content, &tagsJSON, &updatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan context entry", goerr.V(model.CampaignIDKey, campaignID))
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return nil, goerr.Wrap(err, "failed to decode context entry tags", goerr.V("entryID", id))
		}
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse context entry timestamp", goerr.V("entryID", id))
		}
		e.ID = model.ContextEntryID(id)
		e.CampaignID = campaignID
		e.UpdatedAt = ts
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate context entries", goerr.V(model.CampaignIDKey, campaignID))
	}
	return entries, nil
}
