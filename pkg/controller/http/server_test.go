package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	httpctrl "github.com/secmon-lab/loremind/pkg/controller/http"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/repository/memory"
	"github.com/secmon-lab/loremind/pkg/service/embedding"
	"github.com/secmon-lab/loremind/pkg/usecase"
	"github.com/secmon-lab/loremind/pkg/utils/async"
)

type switchEmbedder struct {
	embedding.Service
	fail atomic.Bool
}

func (s *switchEmbedder) Embed(ctx context.Context, text string) (model.Embedding, error) {
	if s.fail.Load() {
		return nil, errors.New("quota exceeded")
	}
	return s.Service.Embed(ctx, text)
}

func newTestServer(t *testing.T) (*httpctrl.Server, *switchEmbedder) {
	t.Helper()
	base, err := embedding.NewHash(model.EmbeddingDimension)
	gt.NoError(t, err).Required()
	emb := &switchEmbedder{Service: base}

	uc, err := usecase.New(memory.New(), emb)
	gt.NoError(t, err).Required()
	return httpctrl.New(uc.Memory, uc.Ingest), emb
}

func doRequest(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		gt.NoError(t, json.NewEncoder(&buf).Encode(body)).Required()
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

type memoryBody struct {
	ID         string   `json:"id"`
	CampaignID int64    `json:"campaign_id"`
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Importance int      `json:"importance"`
	Score      int      `json:"score"`
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &v)).Required()
	return v
}

func TestServer_MemoryLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/campaigns/1/memories", map[string]any{
		"type":       "npc_interaction",
		"content":    "Garrick the blacksmith owes the party a favour",
		"tags":       []string{"Garrick"},
		"importance": 3,
	})
	gt.Number(t, w.Code).Equal(http.StatusCreated)
	created := decodeBody[memoryBody](t, w)
	gt.String(t, created.ID).NotEqual("")
	gt.Value(t, created.Type).Equal("npc_interaction")
	gt.Array(t, created.Tags).Equal([]string{"Garrick"})
	gt.Bool(t, strings.Contains(w.Body.String(), "embedding")).False()

	w = doRequest(t, srv, http.MethodGet, "/api/campaigns/1/memories/"+created.ID, nil)
	gt.Number(t, w.Code).Equal(http.StatusOK)

	w = doRequest(t, srv, http.MethodGet, "/api/campaigns/1/memories", nil)
	gt.Number(t, w.Code).Equal(http.StatusOK)
	list := decodeBody[struct {
		Memories []memoryBody `json:"memories"`
	}](t, w)
	gt.Array(t, list.Memories).Length(1)

	w = doRequest(t, srv, http.MethodPost, "/api/campaigns/1/memories/search", map[string]any{
		"query": "blacksmith favour",
		"top_k": 5,
	})
	gt.Number(t, w.Code).Equal(http.StatusOK)
	search := decodeBody[struct {
		Results []memoryBody `json:"results"`
	}](t, w)
	gt.Array(t, search.Results).Length(1)
	gt.Number(t, search.Results[0].Score).Greater(0)

	w = doRequest(t, srv, http.MethodPut, "/api/campaigns/1/memories/"+created.ID+"/importance", map[string]any{"importance": 9})
	gt.Number(t, w.Code).Equal(http.StatusOK)
	gt.Number(t, decodeBody[memoryBody](t, w).Importance).Equal(9)

	w = doRequest(t, srv, http.MethodGet, "/api/campaigns/1/memories/count", nil)
	gt.Number(t, w.Code).Equal(http.StatusOK)
	gt.Number(t, decodeBody[map[string]int](t, w)["count"]).Equal(1)

	w = doRequest(t, srv, http.MethodDelete, "/api/campaigns/1/memories/"+created.ID, nil)
	gt.Number(t, w.Code).Equal(http.StatusNoContent)

	w = doRequest(t, srv, http.MethodGet, "/api/campaigns/1/memories/"+created.ID, nil)
	gt.Number(t, w.Code).Equal(http.StatusNotFound)
}

func TestServer_ErrorMapping(t *testing.T) {
	srv, emb := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/campaigns/1/memories", map[string]any{"content": "The seal is broken"})
	gt.Number(t, w.Code).Equal(http.StatusCreated)
	id := decodeBody[memoryBody](t, w).ID

	testCases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"non-numeric campaign", http.MethodGet, "/api/campaigns/abc/memories", nil, http.StatusBadRequest},
		{"zero campaign", http.MethodGet, "/api/campaigns/0/memories/count", nil, http.StatusBadRequest},
		{"empty content", http.MethodPost, "/api/campaigns/1/memories", map[string]any{"content": "  "}, http.StatusBadRequest},
		{"importance out of range", http.MethodPut, "/api/campaigns/1/memories/" + id + "/importance", map[string]any{"importance": 11}, http.StatusBadRequest},
		{"importance missing", http.MethodPut, "/api/campaigns/1/memories/" + id + "/importance", map[string]any{}, http.StatusBadRequest},
		{"unknown memory", http.MethodGet, "/api/campaigns/1/memories/missing", nil, http.StatusNotFound},
		{"other campaign get", http.MethodGet, "/api/campaigns/2/memories/" + id, nil, http.StatusForbidden},
		{"other campaign delete", http.MethodDelete, "/api/campaigns/2/memories/" + id, nil, http.StatusForbidden},
		{"top_k too large", http.MethodPost, "/api/campaigns/1/memories/search", map[string]any{"query": "seal", "top_k": 500}, http.StatusBadRequest},
		{"missing query", http.MethodPost, "/api/campaigns/1/memories/search", map[string]any{"top_k": 5}, http.StatusBadRequest},
		{"unknown turn kind", http.MethodPost, "/api/campaigns/1/turns", map[string]any{"kind": "dice", "text": "rolled"}, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, srv, tc.method, tc.path, tc.body)
			gt.Number(t, w.Code).Equal(tc.status)
			gt.String(t, decodeBody[map[string]string](t, w)["error"]).NotEqual("")
		})
	}

	t.Run("embedding provider failure", func(t *testing.T) {
		emb.fail.Store(true)
		defer emb.fail.Store(false)

		w := doRequest(t, srv, http.MethodPost, "/api/campaigns/1/memories", map[string]any{"content": "A new omen"})
		gt.Number(t, w.Code).Equal(http.StatusBadGateway)

		w = doRequest(t, srv, http.MethodGet, "/api/campaigns/1/memories/count", nil)
		gt.Number(t, decodeBody[map[string]int](t, w)["count"]).Equal(1)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/campaigns/1/memories/search", strings.NewReader("{"))
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		gt.Number(t, w.Code).Equal(http.StatusBadRequest)
	})
}

func TestServer_Turns(t *testing.T) {
	srv, _ := newTestServer(t)

	turn := map[string]any{
		"session_number": 1,
		"turn_number":    4,
		"kind":           "narration",
		"text":           "The dragon attacked the caravan at dawn",
	}

	w := doRequest(t, srv, http.MethodPost, "/api/campaigns/5/turns", turn)
	gt.Number(t, w.Code).Equal(http.StatusCreated)
	resp := decodeBody[struct {
		Status string      `json:"status"`
		Memory *memoryBody `json:"memory"`
	}](t, w)
	gt.Value(t, resp.Status).Equal("ingested")
	gt.Value(t, resp.Memory).NotNil()
	gt.Value(t, resp.Memory.Type).Equal("combat_event")

	w = doRequest(t, srv, http.MethodPost, "/api/campaigns/5/turns", turn)
	gt.Number(t, w.Code).Equal(http.StatusOK)
	gt.Value(t, decodeBody[map[string]any](t, w)["status"]).Equal("duplicate")

	t.Run("async", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodPost, "/api/campaigns/6/turns?async=true", map[string]any{
			"kind": "action",
			"text": "I open the iron door",
		})
		gt.Number(t, w.Code).Equal(http.StatusAccepted)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gt.NoError(t, async.Wait(ctx)).Required()

		w = doRequest(t, srv, http.MethodGet, "/api/campaigns/6/memories/count", nil)
		gt.Number(t, decodeBody[map[string]int](t, w)["count"]).Equal(1)
	})

	w = doRequest(t, srv, http.MethodGet, "/api/stats", nil)
	gt.Number(t, w.Code).Equal(http.StatusOK)
	stats := decodeBody[usecase.IngestStats](t, w)
	gt.Number(t, stats.Ingested).Equal(int64(2))
	gt.Number(t, stats.Duplicates).Equal(int64(1))
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/health", nil)
	gt.Number(t, w.Code).Equal(http.StatusOK)
	gt.Value(t, decodeBody[map[string]string](t, w)["status"]).Equal("ok")
}

func TestServer_InitializeMemories(t *testing.T) {
	repo := memory.New()
	base, err := embedding.NewHash(model.EmbeddingDimension)
	gt.NoError(t, err).Required()
	uc, err := usecase.New(repo, base)
	gt.NoError(t, err).Required()
	srv := httpctrl.New(uc.Memory, uc.Ingest)

	ctx := context.Background()
	gt.NoError(t, repo.ContextEntry().Put(ctx, &model.ContextEntry{ID: "npc-1", CampaignID: 9, Title: "Mira", Content: "A travelling bard"})).Required()

	for _, created := range []int{1, 0} {
		w := doRequest(t, srv, http.MethodPost, "/api/campaigns/9/memories/initialize", nil)
		gt.Number(t, w.Code).Equal(http.StatusOK)
		body := decodeBody[map[string]int](t, w)
		gt.Number(t, body["created"]).Equal(created)
		gt.Number(t, body["count"]).Equal(1)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/campaigns/1/turns", map[string]any{"text": "Thunder rolls over the hills"})
	gt.Number(t, w.Code).Equal(http.StatusCreated)
	w = doRequest(t, srv, http.MethodGet, "/api/campaigns/1/memories/unknown", nil)
	gt.Number(t, w.Code).Equal(http.StatusNotFound)

	w = doRequest(t, srv, http.MethodGet, "/metrics", nil)
	gt.Number(t, w.Code).Equal(http.StatusOK)
	body := w.Body.String()
	gt.String(t, body).Contains("loremind_ingest_turns_ingested_total 1")
	gt.String(t, body).Contains(`route="/api/campaigns/{campaignID}/memories/{memoryID}",status="404"`)
}
