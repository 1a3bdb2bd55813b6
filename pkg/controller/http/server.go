package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/usecase"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
	"github.com/secmon-lab/loremind/pkg/utils/safe"
)

// MemoryUseCase is the lifecycle surface served under /api/campaigns
type MemoryUseCase interface {
	AddMemory(ctx context.Context, input usecase.AddMemoryInput) (*model.Memory, error)
	SearchMemories(ctx context.Context, campaignID int64, query string, topK int) ([]*model.ScoredMemory, error)
	GetMemories(ctx context.Context, campaignID int64) ([]*model.Memory, error)
	GetMemory(ctx context.Context, campaignID int64, memoryID model.MemoryID) (*model.Memory, error)
	GetMemoryCount(ctx context.Context, campaignID int64) (int, error)
	DeleteMemory(ctx context.Context, campaignID int64, memoryID model.MemoryID) error
	UpdateMemoryImportance(ctx context.Context, campaignID int64, memoryID model.MemoryID, boost int) error
	InitializeMemories(ctx context.Context, campaignID int64) (*usecase.InitializeResult, error)
}

// IngestUseCase accepts gameplay turns
type IngestUseCase interface {
	IngestTurn(ctx context.Context, input usecase.TurnInput) (*usecase.IngestResult, error)
	RecordTurn(ctx context.Context, input usecase.TurnInput)
	Stats() usecase.IngestStats
}

type Server struct {
	router   *chi.Mux
	memoryUC MemoryUseCase
	ingestUC IngestUseCase
	maxBody  int64
	metrics  *metrics
}

type Options func(*Server)

// WithMaxBodySize limits request bodies, in bytes
func WithMaxBodySize(n int64) Options {
	return func(s *Server) {
		s.maxBody = n
	}
}

const defaultMaxBodySize = 1 << 20

func New(memoryUC MemoryUseCase, ingestUC IngestUseCase, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:   r,
		memoryUC: memoryUC,
		ingestUC: ingestUC,
		maxBody:  defaultMaxBodySize,
		metrics:  newMetrics(ingestUC),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.middleware)

	r.Get("/health", s.health)
	r.Handle("/metrics", s.metrics.handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.stats)

		r.Route("/campaigns/{campaignID}", func(r chi.Router) {
			r.Post("/turns", s.ingestTurn)

			r.Route("/memories", func(r chi.Router) {
				r.Get("/", s.getMemories)
				r.Post("/", s.addMemory)
				r.Get("/count", s.getMemoryCount)
				r.Post("/search", s.searchMemories)
				r.Post("/initialize", s.initializeMemories)
				r.Get("/{memoryID}", s.getMemory)
				r.Delete("/{memoryID}", s.deleteMemory)
				r.Put("/{memoryID}/importance", s.updateImportance)
			})
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests. The request logger
// carries the request ID and is put into the request context.
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		logger := logging.Default().With("request_id", middleware.GetReqID(r.Context()))
		ctx := logging.With(r.Context(), logger)

		defer func() {
			logger.Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(ctx, w, data)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.ingestUC.Stats())
}
