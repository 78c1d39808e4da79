package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/bdobrica/memu-wrapper/internal/memory"
	"github.com/bdobrica/memu-wrapper/internal/observability"
)

const (
	detailUnavailable = "MemoryService not initialized"
	detailNoSource    = "Either resource_url or content must be provided"

	defaultFileModality = "document"
)

type healthResponse struct {
	Status          string `json:"status"`
	MemuInitialized bool   `json:"memu_initialized"`
}

type retrieveRequest struct {
	Queries []memory.Query `json:"queries"`
	UserID  string         `json:"user_id"`
}

type retrievedItem struct {
	Summary  string         `json:"summary"`
	Category string         `json:"category"`
	Metadata map[string]any `json:"metadata"`
}

type retrieveResponse struct {
	Items []retrievedItem `json:"items"`
}

type memorizeRequest struct {
	ResourceURL *string `json:"resource_url"`
	Content     *string `json:"content"`
	UserID      string  `json:"user_id"`
	Modality    *string `json:"modality"`
}

type memorizeResponse struct {
	Success  bool    `json:"success"`
	MemoryID *string `json:"memory_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		MemuInitialized: s.engine != nil,
	})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decodeBody(w, r, retrieveSchema, &req); err != nil {
		writeRequestError(w, err)
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, detailUnavailable)
		return
	}

	ctx := r.Context()
	logger := observability.WithTrace(ctx)
	logger.Debug("retrieve", "user_id", req.UserID, "queries", len(req.Queries))

	result, err := s.engine.Retrieve(ctx, req.Queries, map[string]string{"user_id": req.UserID})
	if err != nil {
		logger.Error("retrieve failed", "user_id", req.UserID, "err", err)
		writeJSON(w, http.StatusOK, retrieveResponse{Items: []retrievedItem{}})
		return
	}

	items := []retrievedItem{}
	if result != nil {
		items = make([]retrievedItem, 0, len(result.Items))
		for i, it := range result.Items {
			item := normalizeItem(it)
			logger.Debug("retrieved item", "index", i, "score", it.Score, "summary", truncate(item.Summary, 50))
			items = append(items, item)
		}
	}
	logger.Info("retrieve done", "user_id", req.UserID, "items", len(items))
	writeJSON(w, http.StatusOK, retrieveResponse{Items: items})
}

// normalizeItem fills the defaults callers rely on.
func normalizeItem(it memory.Item) retrievedItem {
	out := retrievedItem{
		Summary:  it.Summary,
		Category: it.Category,
		Metadata: it.Metadata,
	}
	if out.Summary == "" {
		out.Summary = "No summary"
	}
	if out.Category == "" {
		out.Category = "unknown"
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out
}

func (s *Server) handleMemorize(w http.ResponseWriter, r *http.Request) {
	var req memorizeRequest
	if err := decodeBody(w, r, memorizeSchema, &req); err != nil {
		writeRequestError(w, err)
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, detailUnavailable)
		return
	}

	logger := observability.WithTrace(r.Context())
	resourceURL := deref(req.ResourceURL)
	if content := deref(req.Content); content != "" && resourceURL == "" {
		if len(content) > memory.MaxResourceBytes {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("content exceeds %d bytes", memory.MaxResourceBytes))
			return
		}
		path, err := writeTempResource(s.cfg.TempDir, content)
		if err != nil {
			logger.Error("memorize: temp file", "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resourceURL = path
	}
	if resourceURL == "" {
		writeError(w, http.StatusBadRequest, detailNoSource)
		return
	}

	modality := memory.DefaultModality
	if req.Modality != nil {
		modality = *req.Modality
	}
	s.memorize(w, r, resourceURL, modality, req.UserID)
}

func (s *Server) handleMemorizeFile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, name := range []string{"user_id", "file_path"} {
		if !q.Has(name) {
			writeError(w, http.StatusUnprocessableEntity, "missing query parameter: "+name)
			return
		}
	}
	userID, filePath := q.Get("user_id"), q.Get("file_path")
	modality := defaultFileModality
	if q.Has("modality") {
		modality = q.Get("modality")
	}

	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, detailUnavailable)
		return
	}
	if _, err := os.Stat(filePath); err != nil {
		writeError(w, http.StatusBadRequest, "File not found: "+filePath)
		return
	}
	s.memorize(w, r, filePath, modality, userID)
}

// memorize hands a resolved resource to the engine and writes the outcome.
// Engine failures surface as 500 carrying the error text.
func (s *Server) memorize(w http.ResponseWriter, r *http.Request, resourceURL, modality, userID string) {
	ctx := r.Context()
	logger := observability.WithTrace(ctx)

	locator, err := resolveLocator(resourceURL)
	if err != nil {
		logger.Error("memorize: resolve resource", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("memorize", "user_id", userID, "modality", modality, "resource_url", locator)

	result, err := s.engine.Memorize(ctx, locator, modality, map[string]string{"user_id": userID})
	if err != nil {
		logger.Error("memorize failed", "user_id", userID, "resource_url", locator, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := memorizeResponse{Success: true}
	if result != nil {
		logger.Info("memorize done", "user_id", userID, "memory_id", result.MemoryID, "items", len(result.Items))
		if result.MemoryID != "" {
			id := result.MemoryID
			resp.MemoryID = &id
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeRequestError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		writeError(w, re.status, re.detail)
		return
	}
	writeError(w, http.StatusUnprocessableEntity, err.Error())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
