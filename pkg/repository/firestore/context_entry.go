package firestore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"google.golang.org/api/iterator"
)

type contextEntryDoc struct {
	ID        model.ContextEntryID `firestore:"ID"`
	Kind      string               `firestore:"Kind"`
	Title     string               `firestore:"Title"`
	Content   string               `firestore:"Content"`
	Tags      []string             `firestore:"Tags"`
	UpdatedAt time.Time            `firestore:"UpdatedAt"`
}

type contextEntryRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newContextEntryRepository(client *firestore.Client) *contextEntryRepository {
	return &contextEntryRepository{
		client:           client,
		collectionPrefix: "",
	}
}

// entriesCollection returns campaigns/{campaignID}/context_entries
func (r *contextEntryRepository) entriesCollection(campaignID int64) *firestore.CollectionRef {
	return r.client.Collection(prefixed(r.collectionPrefix, "campaigns")).
		Doc(campaignDocID(campaignID)).
		Collection("context_entries")
}

func (r *contextEntryRepository) Put(ctx context.Context, entry *model.ContextEntry) error {
	if entry.ID == "" {
		return goerr.Wrap(model.ErrValidation, "context entry ID is required")
	}
	if entry.CampaignID <= 0 {
		return goerr.Wrap(model.ErrValidation, "campaign ID must be positive", goerr.V("entryID", entry.ID))
	}

	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	doc := &contextEntryDoc{
		ID:        entry.ID,
		Kind:      entry.Kind,
		Title:     entry.Title,
		Content:   entry.Content,
		Tags:      entry.Tags,
		UpdatedAt: updatedAt,
	}
	if _, err := r.entriesCollection(entry.CampaignID).Doc(string(entry.ID)).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put context entry", goerr.V("entryID", entry.ID))
	}
	return nil
}

func (r *contextEntryRepository) List(ctx context.Context, campaignID int64) ([]*model.ContextEntry, error) {
	iter := r.entriesCollection(campaignID).Documents(ctx)
	defer iter.Stop()

	entries := make([]*model.ContextEntry, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate context entries", goerr.V(model.CampaignIDKey, campaignID))
		}

		var d contextEntryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal context entry", goerr.V(model.CampaignIDKey, campaignID))
		}
		tags := d.Tags
		if tags == nil {
			tags = []string{}
		}
		entries = append(entries, &model.ContextEntry{
			ID:         d.ID,
			CampaignID: campaignID,
			Kind:       d.Kind,
			Title:      d.Title,
			Content:    d.Content,
			Tags:       tags,
			UpdatedAt:  d.UpdatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}
