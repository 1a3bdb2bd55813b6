package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/usecase"
	"github.com/secmon-lab/loremind/pkg/utils/async"
)

// memoryResponse is the wire form of a memory. The embedding is not exposed.
type memoryResponse struct {
	ID            string    `json:"id"`
	CampaignID    int64     `json:"campaign_id"`
	Type          string    `json:"type"`
	Content       string    `json:"content"`
	Summary       string    `json:"summary,omitempty"`
	SessionNumber *int      `json:"session_number,omitempty"`
	TurnNumber    *int      `json:"turn_number,omitempty"`
	Tags          []string  `json:"tags"`
	Importance    int       `json:"importance"`
	SourceRef     string    `json:"source_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toMemoryResponse(m *model.Memory) memoryResponse {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return memoryResponse{
		ID:            m.ID.String(),
		CampaignID:    m.CampaignID,
		Type:          m.Type.String(),
		Content:       m.Content,
		Summary:       m.Summary,
		SessionNumber: m.SessionNumber,
		TurnNumber:    m.TurnNumber,
		Tags:          tags,
		Importance:    m.Importance.Int(),
		SourceRef:     m.SourceRef,
		CreatedAt:     m.CreatedAt,
	}
}

type scoredMemoryResponse struct {
	memoryResponse
	Score      int     `json:"score"`
	Similarity float64 `json:"similarity"`
}

func campaignIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "campaignID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, goerr.Wrap(model.ErrValidation, "campaign ID must be an integer", goerr.V(model.CampaignIDKey, raw))
	}
	return id, nil
}

func memoryIDParam(r *http.Request) model.MemoryID {
	return model.MemoryID(chi.URLParam(r, "memoryID"))
}

func (s *Server) getMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := campaignIDParam(r)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	memories, err := s.memoryUC.GetMemories(ctx, campaignID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	resp := make([]memoryResponse, len(memories))
	for i, m := range memories {
		resp[i] = toMemoryResponse(m)
	}
	writeJSON(ctx, w, http.StatusOK, map[string]any{"memories": resp})
}

type addMemoryRequest struct {
	Type          string   `json:"type" validate:"max=64"`
	Content       string   `json:"content" validate:"required,max=20000"`
	Summary       string   `json:"summary" validate:"max=2000"`
	SessionNumber *int     `json:"session_number"`
	TurnNumber    *int     `json:"turn_number"`
	Tags          []string `json:"tags"`
	Importance    int      `json:"importance"`
}

func (s *Server) addMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := campaignIDParam(r)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	var req addMemoryRequest
	if err := s.decode(w, r, &req); err != nil {
		handleError(ctx, w, err)
		return
	}

	created, err := s.memoryUC.AddMemory(ctx, usecase.AddMemoryInput{
		CampaignID:    campaignID,
		Type:          types.ParseMemoryType(req.Type),
		Content:       req.Content,
		Summary:       req.Summary,
		SessionNumber: req.SessionNumber,
		TurnNumber:    req.TurnNumber,
		Tags:          req.Tags,
		Importance:    types.Importance(req.Importance),
	})
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, toMemoryResponse(created))
}

func (s *Server) getMemoryCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := campaignIDParam(r)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	count, err := s.memoryUC.GetMemoryCount(ctx, campaignID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]int{"count": count})
}

type searchRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
	TopK  int    `json:"top_k" validate:"gte=0,lte=100"`
}

func (s *Server) searchMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := campaignIDParam(r)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	var req searchRequest
	if err := s.decode(w, r, &req); err != nil {
		handleError(ctx, w, err)
		return
	}

	results, err := s.memoryUC.SearchMemories(ctx, campaignID, req.Query, req.TopK)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	resp := make([]scoredMemoryResponse, len(results))
	for i, res := range results {
		resp[i] = scoredMemoryResponse{
			memoryResponse: toMemoryResponse(res.Memory),
			Score:          res.Score,
			Similarity:     res.Similarity,
		}
	}
	writeJSON(ctx, w, http.StatusOK, map[string]any{"results": resp})
}

func (s *Server) getMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := campaignIDParam(r)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	m, err := s.memoryUC.GetMemory(ctx, campaignID, memoryIDParam(r))
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toMemoryResponse(m))
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := campaignIDParam(r)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	if err := s.memoryUC.DeleteMemory(ctx, campaignID, memoryIDParam(r)); err != nil {
		handleError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importanceRequest struct {
	Importance *int `json:"importance" validate:"required"`
}

func (s *Server) updateImportance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := campaignIDParam(r)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	var req importanceRequest
	if err := s.decode(w, r, &req); err != nil {
		handleError(ctx, w, err)
		return
	}

	memoryID := memoryIDParam(r)
	if err := s.memoryUC.UpdateMemoryImportance(ctx, campaignID, memoryID, *req.Importance); err != nil {
		handleError(ctx, w, err)
		return
	}

	m, err := s.memoryUC.GetMemory(ctx, campaignID, memoryID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toMemoryResponse(m))
}

type initializeResponse struct {
	CampaignID int64 `json:"campaign_id"`
	Total      int   `json:"total"`
	Created    int   `json:"created"`
	Skipped    int   `json:"skipped"`
	Failed     int   `json:"failed"`
	Count      int   `json:"count"`
}

func (s *Server) initializeMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := campaignIDParam(r)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	result, err := s.memoryUC.InitializeMemories(ctx, campaignID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, initializeResponse{
		CampaignID: result.CampaignID,
		Total:      result.Total,
		Created:    result.Created,
		Skipped:    result.Skipped,
		Failed:     result.Failed,
		Count:      result.Count,
	})
}

type turnRequest struct {
	SessionNumber *int     `json:"session_number"`
	TurnNumber    *int     `json:"turn_number"`
	Kind          string   `json:"kind" validate:"max=32"`
	Text          string   `json:"text" validate:"max=20000"`
	Tags          []string `json:"tags"`
}

type turnResponse struct {
	Status    string          `json:"status"`
	SourceRef string          `json:"source_ref,omitempty"`
	Memory    *memoryResponse `json:"memory,omitempty"`
}

func (s *Server) ingestTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := campaignIDParam(r)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	var req turnRequest
	if err := s.decode(w, r, &req); err != nil {
		handleError(ctx, w, err)
		return
	}
	kind, err := types.ParseTurnKind(req.Kind)
	if err != nil {
		handleError(ctx, w, goerr.Wrap(model.ErrValidation, err.Error()))
		return
	}

	input := usecase.TurnInput{
		CampaignID:    campaignID,
		SessionNumber: req.SessionNumber,
		TurnNumber:    req.TurnNumber,
		Kind:          kind,
		Text:          req.Text,
		Tags:          req.Tags,
	}

	if isAsync, _ := strconv.ParseBool(r.URL.Query().Get("async")); isAsync {
		s.dispatchTurn(ctx, input)
		writeJSON(ctx, w, http.StatusAccepted, turnResponse{Status: "accepted"})
		return
	}

	result, err := s.ingestUC.IngestTurn(ctx, input)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	resp := turnResponse{
		Status:    string(result.Status),
		SourceRef: result.SourceRef,
	}
	status := http.StatusOK
	if result.Memory != nil {
		m := toMemoryResponse(result.Memory)
		resp.Memory = &m
		status = http.StatusCreated
	}
	writeJSON(ctx, w, status, resp)
}

func (s *Server) dispatchTurn(ctx context.Context, input usecase.TurnInput) {
	async.Dispatch(ctx, func(ctx context.Context) error {
		s.ingestUC.RecordTurn(ctx, input)
		return nil
	})
}
