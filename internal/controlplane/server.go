package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	"github.com/marimax/cloudanchor/internal/models"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server provides the HTTP API of the shared store daemon.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
	router  *mux.Router
	log     logr.Logger
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, log logr.Logger) *Server {
	s := &Server{
		service: service,
		addr:    addr,
		log:     log.WithName("http"),
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth)

	// Versioned key-value endpoints used by remote backends
	r.HandleFunc("/kv/{key:.+}", s.getKV).Methods(http.MethodGet)
	r.HandleFunc("/kv/{key:.+}", s.putKV).Methods(http.MethodPut)

	// Short code endpoints
	r.HandleFunc("/codes", s.allocateCode).Methods(http.MethodPost)
	r.HandleFunc("/anchors/{code:[0-9]+}", s.storeAnchor).Methods(http.MethodPut)
	r.HandleFunc("/anchors/{code:[0-9]+}", s.lookupAnchor).Methods(http.MethodGet)

	r.HandleFunc("/audit", s.listAudit).Methods(http.MethodGet)
	return r
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("Starting shared store HTTP API", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Health(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- KV Handlers ---

type putKVRequest struct {
	Value string `json:"value"`
}

func (s *Server) getKV(w http.ResponseWriter, r *http.Request) {
	key, err := CleanKey(mux.Vars(r)["key"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := s.service.GetKV(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("ETag", FormatETag(entry.Version))
	writeJSON(w, http.StatusOK, entry)
}

// putKV honours If-Match: "<version>" and If-None-Match: * as conditions;
// without either header the write is unconditional.
func (s *Server) putKV(w http.ResponseWriter, r *http.Request) {
	key, err := CleanKey(mux.Vars(r)["key"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req putKVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var entry models.Versioned
	switch {
	case r.Header.Get("If-None-Match") == "*":
		entry, err = s.service.CompareAndSwapKV(r.Context(), key, 0, req.Value)
	case r.Header.Get("If-Match") != "":
		expected, perr := ParseETag(r.Header.Get("If-Match"))
		if perr != nil {
			http.Error(w, "invalid If-Match", http.StatusBadRequest)
			return
		}
		entry, err = s.service.CompareAndSwapKV(r.Context(), key, expected, req.Value)
	default:
		entry, err = s.service.PutKV(r.Context(), key, req.Value)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("ETag", FormatETag(entry.Version))
	writeJSON(w, http.StatusOK, entry)
}

// --- Short Code Handlers ---

type codeResponse struct {
	Code models.Code `json:"code"`
}

type storeAnchorRequest struct {
	AnchorID string `json:"anchor_id"`
}

func (s *Server) allocateCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.service.AllocateCode(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, codeResponse{Code: code})
}

func (s *Server) storeAnchor(w http.ResponseWriter, r *http.Request) {
	code, err := models.ParseCode(mux.Vars(r)["code"])
	if err != nil {
		http.Error(w, "invalid code", http.StatusBadRequest)
		return
	}

	var req storeAnchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := s.service.StoreAnchor(r.Context(), code, req.AnchorID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.AnchorRecord{Code: code, AnchorID: req.AnchorID})
}

func (s *Server) lookupAnchor(w http.ResponseWriter, r *http.Request) {
	code, err := models.ParseCode(mux.Vars(r)["code"])
	if err != nil {
		http.Error(w, "invalid code", http.StatusBadRequest)
		return
	}

	anchorID, found, err := s.service.LookupAnchor(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "anchor not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, models.AnchorRecord{Code: code, AnchorID: anchorID})
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.service.Audit(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrVersionConflict):
		status = http.StatusPreconditionFailed
	case errors.Is(err, ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.log.Error(err, "Request failed", "status", status)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// FormatETag renders a version as a strong ETag.
func FormatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// ParseETag parses an ETag produced by FormatETag. Weak validators are accepted.
func ParseETag(tag string) (int64, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	return strconv.ParseInt(strings.Trim(tag, `"`), 10, 64)
}
