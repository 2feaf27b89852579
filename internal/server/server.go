// Package server is the thin, out-of-scope HTTP routing shell around the
// core orchestrator: chi route registration, request decoding, and the
// ingress auth middleware. None of the gateway's translation or streaming
// logic lives here.
package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vandamme/llm-gateway/internal/alias"
	"github.com/vandamme/llm-gateway/internal/orchestrator"
	"github.com/vandamme/llm-gateway/internal/registry"
	"github.com/vandamme/llm-gateway/internal/translate"
)

// Server wires the orchestrator behind chi routes.
type Server struct {
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	aliases  alias.Table
	log      *zap.Logger
}

func New(orch *orchestrator.Orchestrator, reg *registry.Registry, aliases alias.Table, proxyAPIKey string, log *zap.Logger) http.Handler {
	s := &Server{orch: orch, registry: reg, aliases: aliases, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(middleware.RequestID)

	r.Get("/v1/models", s.handleModels)
	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ingressAuth(proxyAPIKey, log))
		r.Post("/v1/messages", s.handleAnthropicMessages)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Post("/v1/messages/count_tokens", s.handleCountTokens)
	})

	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func clientAPIKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func disconnectWatcher(r *http.Request) func() bool {
	ctx := r.Context()
	return func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}
}

func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	var req translate.AnthropicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	s.orch.HandleAnthropicMessages(r.Context(), w, req, clientAPIKeyFromRequest(r), disconnectWatcher(r))
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req translate.OpenAIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	s.orch.HandleOpenAIChatCompletions(r.Context(), w, req, clientAPIKeyFromRequest(r), disconnectWatcher(r))
}

func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req translate.AnthropicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	tokens := s.orch.HandleCountTokens(req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"input_tokens": tokens})
}

// handleModels is the supplemented GET /v1/models endpoint: a synchronous,
// in-memory enumeration with one "provider:alias" entry per configured
// alias, replacing the source's on-disk models cache (out of scope). Alias
// targets are not resolved, and provider models that no alias names are
// not listed.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}

	var entries []modelEntry
	for providerName, aliases := range s.aliases {
		for name := range aliases {
			entries = append(entries, modelEntry{
				ID:      providerName + ":" + name,
				Object:  "model",
				OwnedBy: providerName,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   entries,
	})
}

func writeDecodeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    "VALIDATION",
			"message": "invalid request body: " + err.Error(),
		},
	})
}
