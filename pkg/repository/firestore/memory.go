package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// maxNearestLimit is the upper bound Firestore accepts for FindNearest
	maxNearestLimit = 1000

	distanceField = "VectorDistance"

	firestoreGetAllLimit = 100
)

// memoryDoc is the Firestore document representation of model.Memory.
// Embedding is stored as firestore.Vector32 for FindNearest vector search.
// Importance lives in its own document so the memory itself is never rewritten.
type memoryDoc struct {
	ID            model.MemoryID     `firestore:"ID"`
	CampaignID    int64              `firestore:"CampaignID"`
	Type          string             `firestore:"Type"`
	Content       string             `firestore:"Content"`
	Summary       string             `firestore:"Summary"`
	Embedding     firestore.Vector32 `firestore:"Embedding"`
	SessionNumber *int64             `firestore:"SessionNumber"`
	TurnNumber    *int64             `firestore:"TurnNumber"`
	Tags          []string           `firestore:"Tags"`
	SourceRef     string             `firestore:"SourceRef"`
	CreatedAt     time.Time          `firestore:"CreatedAt"`
}

type importanceDoc struct {
	Importance int64     `firestore:"Importance"`
	Version    int64     `firestore:"Version"`
	UpdatedAt  time.Time `firestore:"UpdatedAt"`
}

type campaignDoc struct {
	Dimension   int64 `firestore:"Dimension"`
	MemoryCount int64 `firestore:"MemoryCount"`
}

type ownerDoc struct {
	CampaignID int64 `firestore:"CampaignID"`
}

type sourceDoc struct {
	SourceRef string         `firestore:"SourceRef"`
	MemoryID  model.MemoryID `firestore:"MemoryID"`
}

func toInt64Ptr(v *int) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func toIntPtr(v *int64) *int {
	if v == nil {
		return nil
	}
	return model.IntPtr(int(*v))
}

func toMemoryDoc(m *model.Memory) *memoryDoc {
	return &memoryDoc{
		ID:            m.ID,
		CampaignID:    m.CampaignID,
		Type:          m.Type.String(),
		Content:       m.Content,
		Summary:       m.Summary,
		Embedding:     firestore.Vector32(m.Embedding),
		SessionNumber: toInt64Ptr(m.SessionNumber),
		TurnNumber:    toInt64Ptr(m.TurnNumber),
		Tags:          m.Tags,
		SourceRef:     m.SourceRef,
		CreatedAt:     m.CreatedAt,
	}
}

func fromMemoryDoc(d *memoryDoc, importance types.Importance) *model.Memory {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return &model.Memory{
		ID:            d.ID,
		CampaignID:    d.CampaignID,
		Type:          types.MemoryType(d.Type),
		Content:       d.Content,
		Summary:       d.Summary,
		Embedding:     model.Embedding(d.Embedding),
		SessionNumber: toIntPtr(d.SessionNumber),
		TurnNumber:    toIntPtr(d.TurnNumber),
		Tags:          tags,
		Importance:    importance,
		SourceRef:     d.SourceRef,
		CreatedAt:     d.CreatedAt,
	}
}

type memoryRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newMemoryRepository(client *firestore.Client) *memoryRepository {
	return &memoryRepository{
		client:           client,
		collectionPrefix: "",
	}
}

func campaignDocID(campaignID int64) string {
	return fmt.Sprintf("%d", campaignID)
}

func sourceDocID(sourceRef string) string {
	sum := sha256.Sum256([]byte(sourceRef))
	return hex.EncodeToString(sum[:])
}

// campaignRef returns campaigns/{campaignID}, which carries the dimension
// recorded by the first memory of the campaign
func (r *memoryRepository) campaignRef(campaignID int64) *firestore.DocumentRef {
	return r.client.Collection(prefixed(r.collectionPrefix, "campaigns")).Doc(campaignDocID(campaignID))
}

func (r *memoryRepository) memoriesCollection(campaignID int64) *firestore.CollectionRef {
	return r.campaignRef(campaignID).Collection("memories")
}

func (r *memoryRepository) importanceRef(campaignID int64, memoryID model.MemoryID) *firestore.DocumentRef {
	return r.campaignRef(campaignID).Collection("memory_importance").Doc(string(memoryID))
}

func (r *memoryRepository) sourceRef(campaignID int64, sourceRef string) *firestore.DocumentRef {
	return r.campaignRef(campaignID).Collection("memory_sources").Doc(sourceDocID(sourceRef))
}

// ownerRef returns memory_owners/{memoryID}, used to tell a missing memory
// apart from a memory of another campaign
func (r *memoryRepository) ownerRef(memoryID model.MemoryID) *firestore.DocumentRef {
	return r.client.Collection(prefixed(r.collectionPrefix, "memory_owners")).Doc(string(memoryID))
}

func (r *memoryRepository) checkOwner(owner *firestore.DocumentSnapshot, err error, campaignID int64, memoryID model.MemoryID) error {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrNotFound, "memory not found",
				goerr.V(model.MemoryIDKey, memoryID),
				goerr.V(model.CampaignIDKey, campaignID))
		}
		return goerr.Wrap(err, "failed to get memory owner", goerr.V(model.MemoryIDKey, memoryID))
	}

	var d ownerDoc
	if err := owner.DataTo(&d); err != nil {
		return goerr.Wrap(err, "failed to unmarshal memory owner", goerr.V(model.MemoryIDKey, memoryID))
	}
	if d.CampaignID != campaignID {
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

	campaignRef := r.campaignRef(campaignID)
	memoryRef := r.memoriesCollection(campaignID).Doc(string(created.ID))
	ownerRef := r.ownerRef(created.ID)
	dimension := int64(created.Embedding.Dimension())

	err = r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// all reads precede writes inside a Firestore transaction
		campaignSnap, err := tx.Get(campaignRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get campaign", goerr.V(model.CampaignIDKey, campaignID))
		}
		var campaign campaignDoc
		if err == nil {
			if err := campaignSnap.DataTo(&campaign); err != nil {
				return goerr.Wrap(err, "failed to unmarshal campaign", goerr.V(model.CampaignIDKey, campaignID))
			}
			if campaign.MemoryCount > 0 && campaign.Dimension != dimension {
				return goerr.Wrap(model.ErrDimensionMismatch, "embedding dimension differs from campaign",
					goerr.V(model.CampaignIDKey, campaignID),
					goerr.V(model.DimensionKey, dimension),
					goerr.V("campaign_dimension", campaign.Dimension))
			}
		}

		if _, err := tx.Get(ownerRef); err == nil {
			return goerr.New("memory ID already exists", goerr.V(model.MemoryIDKey, created.ID))
		} else if status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to check memory ID", goerr.V(model.MemoryIDKey, created.ID))
		}

		var srcRef *firestore.DocumentRef
		if created.SourceRef != "" {
			srcRef = r.sourceRef(campaignID, created.SourceRef)
			snap, err := tx.Get(srcRef)
			if err == nil {
				var existing sourceDoc
				_ = snap.DataTo(&existing)
				return goerr.Wrap(model.ErrDuplicateSource, "source already recorded",
					goerr.V(model.CampaignIDKey, campaignID),
					goerr.V(model.SourceRefKey, created.SourceRef),
					goerr.V(model.MemoryIDKey, existing.MemoryID))
			}
			if status.Code(err) != codes.NotFound {
				return goerr.Wrap(err, "failed to check memory source", goerr.V(model.SourceRefKey, created.SourceRef))
			}
		}

		now := time.Now().UTC()
		if err := tx.Set(memoryRef, toMemoryDoc(created)); err != nil {
			return err
		}
		if err := tx.Set(r.importanceRef(campaignID, created.ID), &importanceDoc{
			Importance: int64(created.Importance),
			Version:    1,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
		if err := tx.Set(ownerRef, &ownerDoc{CampaignID: campaignID}); err != nil {
			return err
		}
		if srcRef != nil {
			if err := tx.Set(srcRef, &sourceDoc{SourceRef: created.SourceRef, MemoryID: created.ID}); err != nil {
				return err
			}
		}
		return tx.Set(campaignRef, &campaignDoc{
			Dimension:   dimension,
			MemoryCount: campaign.MemoryCount + 1,
		})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create memory",
			goerr.V(model.CampaignIDKey, campaignID),
			goerr.V(model.MemoryIDKey, created.ID))
	}

	return created, nil
}

func (r *memoryRepository) Get(ctx context.Context, campaignID int64, memoryID model.MemoryID) (*model.Memory, error) {
	owner, err := r.ownerRef(memoryID).Get(ctx)
	if err := r.checkOwner(owner, err, campaignID, memoryID); err != nil {
		return nil, err
	}

	doc, err := r.memoriesCollection(campaignID).Doc(string(memoryID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V(model.MemoryIDKey, memoryID))
		}
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V(model.MemoryIDKey, memoryID))
	}

	var d memoryDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal memory", goerr.V(model.MemoryIDKey, memoryID))
	}

	importance, err := r.loadImportance(ctx, campaignID, []model.MemoryID{memoryID})
	if err != nil {
		return nil, err
	}

	return fromMemoryDoc(&d, importance[memoryID]), nil
}

// loadImportance reads the importance facts for ids in batches. Missing facts
// are reported as zero.
func (r *memoryRepository) loadImportance(ctx context.Context, campaignID int64, ids []model.MemoryID) (map[model.MemoryID]types.Importance, error) {
	result := make(map[model.MemoryID]types.Importance, len(ids))

	for i := 0; i < len(ids); i += firestoreGetAllLimit {
		end := min(i+firestoreGetAllLimit, len(ids))

		refs := make([]*firestore.DocumentRef, 0, end-i)
		for _, id := range ids[i:end] {
			refs = append(refs, r.importanceRef(campaignID, id))
		}

		docs, err := r.client.GetAll(ctx, refs)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get memory importance", goerr.V(model.CampaignIDKey, campaignID))
		}

		for _, doc := range docs {
			if !doc.Exists() {
				continue
			}
			var d importanceDoc
			if err := doc.DataTo(&d); err != nil {
				return nil, goerr.Wrap(err, "failed to unmarshal memory importance", goerr.V(model.MemoryIDKey, doc.Ref.ID))
			}
			result[model.MemoryID(doc.Ref.ID)] = types.Importance(d.Importance).Clamp()
		}
	}

	return result, nil
}

func (r *memoryRepository) List(ctx context.Context, campaignID int64) ([]*model.Memory, error) {
	iter := r.memoriesCollection(campaignID).
		OrderBy("CreatedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	docs := make([]*memoryDoc, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memories", goerr.V(model.CampaignIDKey, campaignID))
		}

		var d memoryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal memory", goerr.V(model.CampaignIDKey, campaignID))
		}
		docs = append(docs, &d)
	}

	ids := make([]model.MemoryID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	importance, err := r.loadImportance(ctx, campaignID, ids)
	if err != nil {
		return nil, err
	}

	memories := make([]*model.Memory, 0, len(docs))
	for _, d := range docs {
		memories = append(memories, fromMemoryDoc(d, importance[d.ID]))
	}

	// CreatedAt ties are broken by ID to keep the order stable
	sort.SliceStable(memories, func(i, j int) bool {
		if !memories[i].CreatedAt.Equal(memories[j].CreatedAt) {
			return memories[i].CreatedAt.After(memories[j].CreatedAt)
		}
		return memories[i].ID < memories[j].ID
	})

	return memories, nil
}

func (r *memoryRepository) Count(ctx context.Context, campaignID int64) (int, error) {
	results, err := r.memoriesCollection(campaignID).NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count memories", goerr.V(model.CampaignIDKey, campaignID))
	}

	count, ok := results["all"]
	if !ok {
		return 0, goerr.New("count result is missing", goerr.V(model.CampaignIDKey, campaignID))
	}
	value, ok := count.(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("count result has unexpected type", goerr.V("value", count))
	}

	return int(value.GetIntegerValue()), nil
}

func (r *memoryRepository) Delete(ctx context.Context, campaignID int64, memoryID model.MemoryID) error {
	campaignRef := r.campaignRef(campaignID)
	ownerRef := r.ownerRef(memoryID)
	memoryRef := r.memoriesCollection(campaignID).Doc(string(memoryID))

	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		owner, err := tx.Get(ownerRef)
		if err := r.checkOwner(owner, err, campaignID, memoryID); err != nil {
			return err
		}

		memorySnap, err := tx.Get(memoryRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V(model.MemoryIDKey, memoryID))
			}
			return goerr.Wrap(err, "failed to get memory", goerr.V(model.MemoryIDKey, memoryID))
		}
		var d memoryDoc
		if err := memorySnap.DataTo(&d); err != nil {
			return goerr.Wrap(err, "failed to unmarshal memory", goerr.V(model.MemoryIDKey, memoryID))
		}

		campaignSnap, err := tx.Get(campaignRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get campaign", goerr.V(model.CampaignIDKey, campaignID))
		}
		var campaign campaignDoc
		if err == nil {
			if err := campaignSnap.DataTo(&campaign); err != nil {
				return goerr.Wrap(err, "failed to unmarshal campaign", goerr.V(model.CampaignIDKey, campaignID))
			}
		}

		if err := tx.Delete(memoryRef); err != nil {
			return err
		}
		if err := tx.Delete(r.importanceRef(campaignID, memoryID)); err != nil {
			return err
		}
		if err := tx.Delete(ownerRef); err != nil {
			return err
		}
		if d.SourceRef != "" {
			if err := tx.Delete(r.sourceRef(campaignID, d.SourceRef)); err != nil {
				return err
			}
		}

		// an emptied campaign forgets its dimension
		if campaign.MemoryCount <= 1 {
			return tx.Delete(campaignRef)
		}
		return tx.Update(campaignRef, []firestore.Update{
			{Path: "MemoryCount", Value: campaign.MemoryCount - 1},
		})
	})
}

func (r *memoryRepository) SetImportance(ctx context.Context, campaignID int64, memoryID model.MemoryID, importance types.Importance) error {
	if err := importance.Validate(); err != nil {
		return goerr.Wrap(model.ErrValidation, err.Error(), goerr.V(model.MemoryIDKey, memoryID))
	}

	ownerRef := r.ownerRef(memoryID)
	importanceRef := r.importanceRef(campaignID, memoryID)

	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		owner, err := tx.Get(ownerRef)
		if err := r.checkOwner(owner, err, campaignID, memoryID); err != nil {
			return err
		}

		var current importanceDoc
		snap, err := tx.Get(importanceRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get memory importance", goerr.V(model.MemoryIDKey, memoryID))
		}
		if err == nil {
			if err := snap.DataTo(&current); err != nil {
				return goerr.Wrap(err, "failed to unmarshal memory importance", goerr.V(model.MemoryIDKey, memoryID))
			}
		}

		return tx.Set(importanceRef, &importanceDoc{
			Importance: int64(importance),
			Version:    current.Version + 1,
			UpdatedAt:  time.Now().UTC(),
		})
	})
}

func (r *memoryRepository) HasSource(ctx context.Context, campaignID int64, sourceRef string) (bool, error) {
	_, err := r.sourceRef(campaignID, sourceRef).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to check memory source", goerr.V(model.SourceRefKey, sourceRef))
	}
	return true, nil
}

func (r *memoryRepository) FindByEmbedding(ctx context.Context, campaignID int64, embedding model.Embedding, limit int) ([]*model.ScoredMemory, error) {
	campaignSnap, err := r.campaignRef(campaignID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []*model.ScoredMemory{}, nil
		}
		return nil, goerr.Wrap(err, "failed to get campaign", goerr.V(model.CampaignIDKey, campaignID))
	}
	var campaign campaignDoc
	if err := campaignSnap.DataTo(&campaign); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal campaign", goerr.V(model.CampaignIDKey, campaignID))
	}
	if campaign.Dimension != int64(embedding.Dimension()) {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "query dimension differs from campaign",
			goerr.V(model.CampaignIDKey, campaignID),
			goerr.V(model.DimensionKey, embedding.Dimension()),
			goerr.V("campaign_dimension", campaign.Dimension))
	}

	if limit <= 0 || limit > maxNearestLimit {
		limit = maxNearestLimit
	}

	vq := r.memoriesCollection(campaignID).
		FindNearest("Embedding", firestore.Vector32(embedding), limit, firestore.DistanceMeasureCosine,
			&firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	type hit struct {
		doc      *memoryDoc
		distance float64
	}
	hits := make([]hit, 0, limit)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memory vector search results", goerr.V(model.CampaignIDKey, campaignID))
		}

		var d memoryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal memory from vector search")
		}
		distance, err := doc.DataAt(distanceField)
		if err != nil {
			return nil, goerr.Wrap(err, "vector distance is missing", goerr.V(model.MemoryIDKey, d.ID))
		}
		value, ok := distance.(float64)
		if !ok {
			return nil, goerr.New("vector distance has unexpected type", goerr.V("value", distance))
		}
		hits = append(hits, hit{doc: &d, distance: value})
	}

	ids := make([]model.MemoryID, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.doc.ID)
	}
	importance, err := r.loadImportance(ctx, campaignID, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*model.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		// cosine distance is 1 - cosine similarity
		similarity := max(-1, min(1, 1-h.distance))
		results = append(results, model.NewScoredMemory(fromMemoryDoc(h.doc, importance[h.doc.ID]), similarity))
	}

	return results, nil
}
