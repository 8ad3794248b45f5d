// Package api exposes the priority queue service over HTTP: one fixed
// two-segment resource tree, `/v1/queues/{name}[/op]`, in place of the
// teacher's arbitrary-depth database/document/collection path walk —
// nothing in this domain needs that depth. Method dispatch, CORS headers,
// and the respondWithError idiom are kept from handlers.go's V1Handler.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jlinden-labs/prioq/internal/broadcast"
	"github.com/jlinden-labs/prioq/internal/payload"
	"github.com/jlinden-labs/prioq/internal/queueset"
	"github.com/jlinden-labs/prioq/internal/registry"
)

// Server serves the priority-queue HTTP operations API.
type Server struct {
	queues    *queueset.Set
	hub       *broadcast.Hub
	leases    *registry.Registry
	validator payload.Validator
}

// NewServer wires a Server from its collaborators.
func NewServer(queues *queueset.Set, hub *broadcast.Hub, leases *registry.Registry, validator payload.Validator) *Server {
	return &Server{queues: queues, hub: hub, leases: leases, validator: validator}
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errJSON, _ := json.Marshal(map[string]string{"error": message})
	w.Write(errJSON)
}

func respondWithJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: failed to encode response", "error", err)
	}
}

// ServeHTTP dispatches /v1/queues/{name}[/op] requests by method and path
// segment, mirroring handlers.go's CORS + method-switch idiom.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "OPTIONS, GET, PUT, POST, DELETE, PATCH")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/queues"), "/")
	path = strings.TrimPrefix(path, "/")
	segments := strings.Split(path, "/")
	if segments[0] == "" {
		respondWithError(w, http.StatusBadRequest, "queue name required")
		return
	}
	name := segments[0]
	op := ""
	if len(segments) > 1 {
		op = segments[1]
	}

	switch {
	case op == "" && r.Method == http.MethodPut:
		s.createQueue(w, r, name)
	case op == "" && r.Method == http.MethodDelete:
		s.deleteQueue(w, r, name)
	case op == "" && r.Method == http.MethodGet:
		s.getQueue(w, r, name)
	case op == "insert" && r.Method == http.MethodPost:
		s.insert(w, r, name)
	case op == "extract" && r.Method == http.MethodPost:
		s.extract(w, r, name)
	case op == "update" && r.Method == http.MethodPatch:
		s.update(w, r, name)
	case op == "stats" && r.Method == http.MethodGet:
		s.stats(w, r, name)
	default:
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed for this resource")
	}
}

func (s *Server) createQueue(w http.ResponseWriter, r *http.Request, name string) {
	createdBy, _ := registryUsername(r)
	if _, err := s.queues.Create(name, createdBy); err != nil {
		respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (s *Server) deleteQueue(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.queues.Delete(name); err != nil {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request, name string) {
	if r.URL.Query().Get("mode") == "subscribe" {
		token := r.Header.Get("Authorization")
		s.hub.ServeSSE(w, r, name, token)
		return
	}

	entry, found := s.queues.Find(name)
	if !found {
		respondWithError(w, http.StatusNotFound, "queue not found")
		return
	}
	tid, ok := registry.TidFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing tid lease")
		return
	}
	respondWithJSON(w, http.StatusOK, entry.Queue.Snapshot(tid))
}

type insertRequest struct {
	Key   int64           `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (s *Server) insert(w http.ResponseWriter, r *http.Request, name string) {
	entry, found := s.queues.Find(name)
	if !found {
		respondWithError(w, http.StatusNotFound, "queue not found")
		return
	}
	tid, ok := registry.TidFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing tid lease")
		return
	}

	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ok, err := s.validator.Validate(req.Value); !ok {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("payload rejected: %v", err))
		return
	}

	entry.Queue.Insert(tid, req.Key, []byte(req.Value))
	s.hub.Notify(name, "insert", strconv.FormatInt(req.Key, 10))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request, name string) {
	entry, found := s.queues.Find(name)
	if !found {
		respondWithError(w, http.StatusNotFound, "queue not found")
		return
	}
	tid, ok := registry.TidFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing tid lease")
		return
	}

	key, value, ok := entry.Queue.ExtractMin(tid)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.hub.Notify(name, "extract", strconv.FormatInt(key, 10))
	respondWithJSON(w, http.StatusOK, map[string]any{"key": key, "value": json.RawMessage(value)})
}

type updateRequest struct {
	NewKey   int64           `json:"newKey"`
	NewValue json.RawMessage `json:"newValue"`
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, name string) {
	entry, found := s.queues.Find(name)
	if !found {
		respondWithError(w, http.StatusNotFound, "queue not found")
		return
	}
	tid, ok := registry.TidFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing tid lease")
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ok, err := s.validator.Validate(req.NewValue); !ok {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("payload rejected: %v", err))
		return
	}

	oldValue, had := entry.Queue.Update(tid, req.NewKey, []byte(req.NewValue))
	if !had {
		respondWithError(w, http.StatusConflict, "queue was empty at update time")
		return
	}
	s.hub.Notify(name, "update", strconv.FormatInt(req.NewKey, 10))
	respondWithJSON(w, http.StatusOK, map[string]any{"oldValue": json.RawMessage(oldValue)})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request, name string) {
	entry, found := s.queues.Find(name)
	if !found {
		respondWithError(w, http.StatusNotFound, "queue not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"name":      entry.Metadata.Name,
		"createdAt": entry.Metadata.CreatedAt,
		"reclaimed": entry.Queue.NumReclaimed(),
	})
}

func registryUsername(r *http.Request) (string, bool) {
	tid, ok := registry.TidFromContext(r.Context())
	if !ok {
		return "", false
	}
	return fmt.Sprintf("tid-%d", tid), true
}
