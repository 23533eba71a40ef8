package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/services"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/testhelpers"
)

// fakeEngine records the last Execute call.
type fakeEngine struct {
	result  *services.ExecuteResult
	err     error
	queries []*models.QuerySpecification

	key         string
	specs       []models.RequestSpecification
	shape       models.ExecutionShape
	output      models.OutputShape
	userID      string
	invalidated string
	cleared     bool
}

func (f *fakeEngine) Execute(ctx context.Context, key string, specs []models.RequestSpecification, shape models.ExecutionShape, output models.OutputShape) (*services.ExecuteResult, error) {
	f.key, f.specs, f.shape, f.output = key, specs, shape, output
	f.userID = auth.GetUserIDFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeEngine) ListQueries(ctx context.Context) ([]*models.QuerySpecification, error) {
	return f.queries, f.err
}

func (f *fakeEngine) InvalidateQuery(key string) int {
	f.invalidated = key
	return 2
}

func (f *fakeEngine) ClearCache() int {
	f.cleared = true
	return 5
}

func (f *fakeEngine) CacheStats() services.CacheStats { return services.CacheStats{} }

func newTestMux(t *testing.T, engine services.QueryEngine) *http.ServeMux {
	t.Helper()

	jwks, err := auth.NewJWKSClient(context.Background(), &auth.JWKSConfig{})
	require.NoError(t, err)
	middleware := auth.NewMiddleware(auth.NewAuthService(jwks, zap.NewNop()), true, zap.NewNop())

	mux := http.NewServeMux()
	NewQueriesHandler(engine, zap.NewNop()).RegisterRoutes(mux, middleware)
	return mux
}

func jsonResult(body string) *services.ExecuteResult {
	return &services.ExecuteResult{ContentType: "application/json", FileName: "orders.json", Body: []byte(body)}
}

func TestQueriesHandler_Execute_GetBindsQueryString(t *testing.T) {
	engine := &fakeEngine{result: jsonResult(`[{"id":1}]`)}
	mux := newTestMux(t, engine)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queries/open_orders?region=EU&limit=5", strings.NewReader(`{"ignored":1}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, `[{"id":1}]`, rec.Body.String())

	assert.Equal(t, "open_orders", engine.key)
	assert.Equal(t, models.ShapeUnknown, engine.shape)
	assert.Equal(t, models.OutputJSON, engine.output)
	require.Len(t, engine.specs, 2)
	assert.Equal(t, "region", engine.specs[0].Name)
	assert.Equal(t, models.OriginQuery, engine.specs[0].Origin)
	assert.Equal(t, "limit", engine.specs[1].Name)
}

func TestQueriesHandler_Execute_BodyThenQueryString(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			engine := &fakeEngine{result: jsonResult(`1`)}
			mux := newTestMux(t, engine)

			req := httptest.NewRequest(method, "/api/queries/orders?tag=x", strings.NewReader(`{"customer":42,"since":"2024-01-31"}`))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, engine.specs, 3)
			assert.Equal(t, []string{"customer", "since", "tag"}, []string{engine.specs[0].Name, engine.specs[1].Name, engine.specs[2].Name})
			assert.Equal(t, models.OriginBody, engine.specs[0].Origin)
			assert.Equal(t, models.OriginQuery, engine.specs[2].Origin)
		})
	}
}

func TestQueriesHandler_Execute_Formats(t *testing.T) {
	tests := []struct {
		format      string
		output      models.OutputShape
		disposition bool
	}{
		{"json", models.OutputJSON, false},
		{"csv", models.OutputCSV, true},
		{"excel", models.OutputExcel, true},
		{"pdf", models.OutputPDF, true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			engine := &fakeEngine{result: &services.ExecuteResult{ContentType: "application/octet-stream", FileName: "orders." + tt.format, Body: []byte("x"), Cached: true}}
			mux := newTestMux(t, engine)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/queries/orders/as/"+tt.format, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.output, engine.output)
			assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
			if tt.disposition {
				assert.Equal(t, fmt.Sprintf("attachment; filename=%q", "orders."+tt.format), rec.Header().Get("Content-Disposition"))
			} else {
				assert.Empty(t, rec.Header().Get("Content-Disposition"))
			}
		})
	}
}

func TestQueriesHandler_Execute_UnknownFormat(t *testing.T) {
	engine := &fakeEngine{}
	mux := newTestMux(t, engine)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queries/orders/as/xml", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_format")
	assert.Empty(t, engine.key, "engine should not be called")
}

func TestQueriesHandler_Execute_FileFieldsHeader(t *testing.T) {
	engine := &fakeEngine{result: jsonResult(`0`)}
	mux := newTestMux(t, engine)

	// "id,name\n1,Ana\n" base64-encoded
	req := httptest.NewRequest(http.MethodPost, "/api/queries/import_customers", strings.NewReader(`{"rows":"aWQsbmFtZQoxLEFuYQo="}`))
	req.Header.Set(FileFieldsHeader, "rows=csv")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.specs, 1)
	assert.Equal(t, models.TypeTable, engine.specs[0].Type)

	req = httptest.NewRequest(http.MethodPost, "/api/queries/import_customers", strings.NewReader(`{}`))
	req.Header.Set(FileFieldsHeader, "rows=parquet")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_file_fields")
}

func TestQueriesHandler_Execute_InvalidBody(t *testing.T) {
	engine := &fakeEngine{}
	mux := newTestMux(t, engine)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/queries/orders", strings.NewReader(`[1,2,3]`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.key)
}

func TestQueriesHandler_Execute_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown query", fmt.Errorf("query %q: %w", "nope", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{"illegal output", apperrors.Validation("DataSet results cannot be rendered as csv"), http.StatusBadRequest, "invalid_request"},
		{"unsupported", apperrors.ErrNotImplemented, http.StatusNotImplemented, "not_implemented"},
		{"backend", apperrors.Wrap(apperrors.KindBackend, "fill table failed", fmt.Errorf("timeout")), http.StatusInternalServerError, "internal_error"},
		{"database not mapped", fmt.Errorf("database %q: %w", "ghost", apperrors.ErrDatabaseNotMapped), http.StatusBadRequest, "database_not_mapped"},
		{"impersonation without token", fmt.Errorf("database %q: %w", "sales", apperrors.ErrAccessTokenRequired), http.StatusUnauthorized, "unauthorized"},
		{"processor missing", apperrors.Wrap(apperrors.KindPlugin, "processor \"audit\"", apperrors.ErrNotFound), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t, &fakeEngine{err: tt.err})

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queries/nope", nil))

			require.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestQueriesHandler_Execute_PassesCallerIdentity(t *testing.T) {
	engine := &fakeEngine{result: jsonResult(`[]`)}
	mux := newTestMux(t, engine)

	req := httptest.NewRequest(http.MethodGet, "/api/queries/orders", nil)
	req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer("ana@example.com", "", "aad-token"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ana@example.com", engine.userID)
}

func TestQueriesHandler_Execute_RejectsMalformedToken(t *testing.T) {
	engine := &fakeEngine{result: jsonResult(`[]`)}
	mux := newTestMux(t, engine)

	req := httptest.NewRequest(http.MethodGet, "/api/queries/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, engine.key)
}

func TestQueriesHandler_List(t *testing.T) {
	engine := &fakeEngine{queries: []*models.QuerySpecification{
		{Key: "open_orders", Shape: models.ShapeDataTableText, Database: "erp", Parameters: "region$NVarChar", Cache: models.CachePolicy{Enabled: true, TTLSeconds: 60}},
		{Key: "refresh", Shape: models.ShapeNonQueryProcedure, Database: "erp", Processor: &models.PluginReference{Name: "audit"}, SendOutputViaEmail: true, Mailer: "ops"},
	}}
	mux := newTestMux(t, engine)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queries", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                `json:"success"`
		Data    ListQueriesResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data.Queries, 2)
	assert.Equal(t, "DataTableText", resp.Data.Queries[0].Shape)
	assert.True(t, resp.Data.Queries[0].Cached)
	assert.Equal(t, "audit", resp.Data.Queries[1].Processor)
	assert.True(t, resp.Data.Queries[1].Mailed)
	assert.False(t, resp.Data.Queries[1].Cached)
}

func TestQueriesHandler_Cache(t *testing.T) {
	engine := &fakeEngine{}
	mux := newTestMux(t, engine)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/cache/open_orders", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "open_orders", engine.invalidated)
	assert.JSONEq(t, `{"success":true,"data":{"removed":2}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, engine.cleared)
	assert.JSONEq(t, `{"success":true,"data":{"removed":5}}`, rec.Body.String())
}
