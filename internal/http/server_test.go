package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chimeradb/pkg/config"
	"chimeradb/pkg/db"
	"chimeradb/pkg/dberrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxValue = 1 << 10

func newTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	cfg := config.Default()
	cfg.DB.DataDir = t.TempDir()
	cfg.DB.Limits.MaxValueSize = testMaxValue

	database, err := db.Open(cfg.DB, nil)
	require.NoError(t, err)
	require.NoError(t, database.Startup(context.Background()))
	t.Cleanup(func() { _ = database.Shutdown(context.Background()) })

	return NewServer(database, cfg.Server, testMaxValue, nil), database
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var resp Response
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), contentTypeJSON) {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	}
	return rr, resp
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rr, resp := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestHealthReportsDegraded(t *testing.T) {
	s, database := newTestServer(t)
	require.NoError(t, database.Shutdown(context.Background()))

	rr, resp := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, StatusError, resp.Status)
}

func TestKeyValueFlow(t *testing.T) {
	s, _ := newTestServer(t)

	rr, resp := do(t, s, http.MethodPut, "/api/kv/cache/greeting", "hello")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, StatusSuccess, resp.Status)

	rr, resp = do(t, s, http.MethodGet, "/api/kv/cache/greeting", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []byte("hello"), resp.Value)
	assert.Contains(t, rr.Body.String(), `"value":"aGVsbG8="`)

	rr, resp = do(t, s, http.MethodGet, "/api/kv/collections", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{"cache"}, resp.Data)

	rr, _ = do(t, s, http.MethodDelete, "/api/kv/cache/greeting", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, resp = do(t, s, http.MethodGet, "/api/kv/cache/greeting", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, resp.Error, dberrors.ErrKeyNotFound.Error())

	rr, _ = do(t, s, http.MethodDelete, "/api/kv/cache/greeting", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = do(t, s, http.MethodDelete, "/api/kv/cache", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = do(t, s, http.MethodDelete, "/api/kv/cache", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestKeyValueBinaryRoundTrip(t *testing.T) {
	s, database := newTestServer(t)
	blob := string([]byte{0xff, 0xfe, 0x00, 0x80})

	rr, _ := do(t, s, http.MethodPut, "/api/kv/blobs/b1", blob)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	kv, err := database.KeyValue()
	require.NoError(t, err)
	stored, err := kv.Get("blobs", "b1")
	require.NoError(t, err)
	assert.Equal(t, []byte(blob), stored)

	rr, resp := do(t, s, http.MethodGet, "/api/kv/blobs/b1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []byte(blob), resp.Value)
}

func TestDocumentFlow(t *testing.T) {
	s, _ := newTestServer(t)

	for key, body := range map[string]string{
		"alice": `{"name":"Alice","age":30}`,
		"bob":   `{"name":"Bob","age":25}`,
	} {
		rr, _ := do(t, s, http.MethodPut, "/api/document/users/"+key, body)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rr, resp := do(t, s, http.MethodGet, "/api/document/users/alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	doc, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", doc["name"])
	assert.Equal(t, "alice", doc["_id"])

	rr, resp = do(t, s, http.MethodPost, "/api/document/users/_query", `{"age":{"$gte":26}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	results, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].(map[string]any)["key"])

	rr, resp = do(t, s, http.MethodPost, "/api/document/users/_query", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, resp.Data, 2)
}

func TestSnapshotAndStats(t *testing.T) {
	s, _ := newTestServer(t)
	rr, _ := do(t, s, http.MethodPut, "/api/kv/c/k", "v")
	require.Equal(t, http.StatusOK, rr.Code)

	rr, resp := do(t, s, http.MethodPost, "/api/kv/_snapshot", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, resp.Data.(map[string]any)["snapshot"])

	rr, resp = do(t, s, http.MethodGet, "/api/kv/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	stats := resp.Data.(map[string]any)
	assert.Equal(t, "kv", stats["kind"])
	assert.Equal(t, true, stats["ready"])
	assert.Equal(t, float64(1), stats["snapshot_watermark"])
}

func TestErrorStatusMapping(t *testing.T) {
	s, _ := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid document", http.MethodPut, "/api/document/users/x", `[1]`, http.StatusBadRequest},
		{"too large", http.MethodPut, "/api/kv/c/k", strings.Repeat("x", testMaxValue+1), http.StatusRequestEntityTooLarge},
		{"far too large", http.MethodPut, "/api/kv/c/k", strings.Repeat("x", 4*testMaxValue), http.StatusRequestEntityTooLarge},
		{"long key", http.MethodPut, "/api/kv/c/" + strings.Repeat("k", 300), "v", http.StatusBadRequest},
		{"unknown kind", http.MethodGet, "/api/sql/c/k", "", http.StatusNotFound},
		{"unconfigured kind", http.MethodGet, "/api/graph/c/k", "", http.StatusNotFound},
		{"kv query", http.MethodPost, "/api/kv/c/_query", `{}`, http.StatusNotImplemented},
		{"bad filter", http.MethodPost, "/api/document/c/_query", `{"a":{"$regex":"x"}}`, http.StatusBadRequest},
		{"method not allowed", http.MethodPost, "/health", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, _ := do(t, s, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}
}

func TestStatusForClosedEngine(t *testing.T) {
	s, database := newTestServer(t)
	require.NoError(t, database.Shutdown(context.Background()))

	rr, _ := do(t, s, http.MethodPut, "/api/kv/c/k", "v")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
