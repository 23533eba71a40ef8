package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/requestspec"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/services"
)

// FileFieldsHeader declares which body fields carry base64 file contents, e.g. "upload=csv,scan".
const FileFieldsHeader = "X-File-Fields"

// maxBodyBytes bounds request bodies; file fields arrive base64-encoded inside them.
const maxBodyBytes = 32 << 20

// QuerySummary is one entry of the query listing.
type QuerySummary struct {
	Key         string `json:"key"`
	Shape       string `json:"shape"`
	Database    string `json:"database"`
	Parameters  string `json:"parameters,omitempty"`
	Description string `json:"description,omitempty"`
	Cached      bool   `json:"cached"`
	Processor   string `json:"processor,omitempty"`
	Mailed      bool   `json:"mailed"`
}

// ListQueriesResponse is the data of GET /api/queries.
type ListQueriesResponse struct {
	Queries []QuerySummary `json:"queries"`
}

// InvalidateCacheResponse is the data of the cache invalidation endpoints.
type InvalidateCacheResponse struct {
	Removed int `json:"removed"`
}

// QueriesHandler exposes configured queries over HTTP.
type QueriesHandler struct {
	engine services.QueryEngine
	logger *zap.Logger
}

// NewQueriesHandler creates a new queries handler.
func NewQueriesHandler(engine services.QueryEngine, logger *zap.Logger) *QueriesHandler {
	return &QueriesHandler{
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes registers the query endpoints with authentication.
func (h *QueriesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/queries/{key}"

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		mux.HandleFunc(method+" "+base, authMiddleware.RequireAuth(h.Execute))
		mux.HandleFunc(method+" "+base+"/as/{format}", authMiddleware.RequireAuth(h.Execute))
	}

	mux.HandleFunc("GET /api/queries", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("DELETE /api/cache", authMiddleware.RequireAuth(h.ClearCache))
	mux.HandleFunc("DELETE /api/cache/{key}", authMiddleware.RequireAuth(h.InvalidateCache))
}

// Execute handles /api/queries/{key} and /api/queries/{key}/as/{format} for every method.
// GET binds the query string only; other methods bind the JSON body followed by the query string.
func (h *QueriesHandler) Execute(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	output, err := models.ParseOutputShape(r.PathValue("format"))
	if err != nil {
		h.badRequest(w, "invalid_format", err.Error())
		return
	}

	fileFields, err := requestspec.ParseFileFields(r.Header.Get(FileFieldsHeader))
	if err != nil {
		h.badRequest(w, "invalid_file_fields", err.Error())
		return
	}

	var body []byte
	if r.Method != http.MethodGet {
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				if err := ErrorResponse(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large"); err != nil {
					h.logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}
			h.badRequest(w, "invalid_request", "Failed to read request body")
			return
		}
	}

	specs, err := requestspec.Extract(body, requestspec.ParseQueryString(r.URL.RawQuery), requestspec.Options{FileFields: fileFields})
	if err != nil {
		h.badRequest(w, "invalid_request", err.Error())
		return
	}

	result, err := h.engine.Execute(r.Context(), key, specs, models.ShapeUnknown, output)
	if err != nil {
		h.writeEngineError(w, "Failed to execute query", key, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	if output != models.OutputJSON && result.FileName != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.FileName))
	}
	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Body); err != nil {
		h.logger.Error("Failed to write query result", zap.String("query_key", key), zap.Error(err))
	}
}

// List handles GET /api/queries
func (h *QueriesHandler) List(w http.ResponseWriter, r *http.Request) {
	queries, err := h.engine.ListQueries(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list queries", "", err)
		return
	}

	data := ListQueriesResponse{Queries: make([]QuerySummary, 0, len(queries))}
	for _, q := range queries {
		s := QuerySummary{
			Key:         q.Key,
			Shape:       q.Shape.String(),
			Database:    q.Database,
			Parameters:  q.Parameters,
			Description: q.Description,
			Cached:      q.CacheApplicable(),
			Mailed:      q.SendOutputViaEmail,
		}
		if q.Processor != nil {
			s.Processor = q.Processor.Name
		}
		data.Queries = append(data.Queries, s)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ClearCache handles DELETE /api/cache
func (h *QueriesHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	removed := h.engine.ClearCache()
	h.logger.Info("Result cache cleared",
		zap.Int("removed", removed),
		zap.String("user_id", auth.GetUserIDFromContext(r.Context())))

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: InvalidateCacheResponse{Removed: removed}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// InvalidateCache handles DELETE /api/cache/{key}
func (h *QueriesHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.PathValue("key"))
	removed := h.engine.InvalidateQuery(key)
	h.logger.Info("Query cache invalidated",
		zap.String("query_key", key),
		zap.Int("removed", removed),
		zap.String("user_id", auth.GetUserIDFromContext(r.Context())))

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: InvalidateCacheResponse{Removed: removed}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *QueriesHandler) writeEngineError(w http.ResponseWriter, msg, key string, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("query_key", key),
			zap.String("error", message))
	} else {
		h.logger.Debug(msg,
			zap.String("query_key", key),
			zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *QueriesHandler) badRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
