package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/chat"
	"github.com/Keyring-Network/keyring-helix/internal/config"
	"github.com/Keyring-Network/keyring-helix/internal/events"
	"github.com/Keyring-Network/keyring-helix/internal/store"
)

type Server struct {
	store      store.Store
	broker     Broker
	chat       ChatService
	research   ResearchService
	cfg        config.Config
	logger     *zap.Logger
	httpClient *http.Client
}

type Broker interface {
	Publish(event events.ChatEvent)
	Subscribe(ctx context.Context, chatID string) <-chan events.ChatEvent
}

type ChatService interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Turn, error)
}

// ResearchService starts and stops background research reports. It is nil
// when no Temporal frontend is configured.
type ResearchService interface {
	StartResearch(ctx context.Context, reportID string, query string, enhanced bool) error
	CancelResearch(ctx context.Context, reportID string) error
}

func NewServer(store store.Store, broker Broker, chatService ChatService, research ResearchService, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:      store,
		broker:     broker,
		chat:       chatService,
		research:   research,
		cfg:        cfg,
		logger:     logger.Named("api"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/chats", s.createChat)
	r.Get("/chats", s.listChats)
	r.Get("/chats/{id}", s.getChat)
	r.Delete("/chats/{id}", s.deleteChat)
	r.Get("/chats/{id}/messages", s.listMessages)
	r.Post("/chats/{id}/messages", s.postMessage)
	r.Get("/chats/{id}/events", s.streamEvents)
	r.Get("/chats/{id}/sources", s.listSources)
	r.Post("/research", s.startResearch)
	r.Get("/research/{id}", s.getResearch)
	r.Post("/research/{id}/cancel", s.cancelResearch)
	r.Post("/classify", s.classify)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSuppressRequestLog(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	if method == http.MethodGet && strings.HasPrefix(cleanPath, "/research/") {
		return true
	}
	return method == http.MethodOptions
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListChats(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	for name, baseURL := range map[string]string{
		"reader":   s.cfg.ReaderBaseURL,
		"research": s.cfg.ResearchBaseURL,
	} {
		status := s.probeDependency(ctx, baseURL)
		if status.Status == "error" {
			overall = http.StatusServiceUnavailable
		}
		subsystems[name] = status
	}

	if s.research == nil {
		subsystems["workflows"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["workflows"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

// probeDependency only fails on transport errors and 5xx: hosted readers
// answer a bare GET with 4xx.
func (s *Server) probeDependency(ctx context.Context, baseURL string) subsystemStatus {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return subsystemStatus{Status: "skipped"}
	}
	resp, err := s.probeHTTP(ctx, strings.TrimRight(baseURL, "/"))
	if err != nil {
		return subsystemStatus{Status: "error", Error: err.Error()}
	}
	if resp.StatusCode >= 500 {
		return subsystemStatus{Status: "error", Error: fmt.Sprintf("health status %d", resp.StatusCode)}
	}
	return subsystemStatus{Status: "ok"}
}

func (s *Server) probeHTTP(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Body.Close()
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Chat-Intent")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}
