package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/atvirokodosprendimai/curator/internal/adapters/db/sqldb"
	"github.com/atvirokodosprendimai/curator/internal/application"
	"github.com/atvirokodosprendimai/curator/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.Open("sqlite", filepath.Join(t.TempDir(), "router_test.db"))
	require.NoError(t, err)
	require.NoError(t, sqldb.RunMigrations(ctx, db))

	svc := application.NewCurationService(sqldb.NewCurationRepository(db))
	require.NoError(t, svc.BootstrapAdmin(ctx, "root@example.com", "secret"))
	_, err = svc.CreateUser(ctx, "alice@example.com", "pw", false)
	require.NoError(t, err)

	ts := &testServer{t: t, handler: NewRouter(svc, nil, metrics.Handler())}
	ts.token = ts.login("alice@example.com", "pw")
	return ts
}

func (ts *testServer) login(email, password string) string {
	rec := ts.do(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, "")
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Token
}

func (ts *testServer) do(method, path string, body any, token string, headers ...string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into), rec.Body.String())
}

func TestSchemaLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/schema", map[string]any{"name": "sample", "related": []any{map[string]any{"name": "child"}}}, ts.token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		UUID string `json:"uuid"`
	}
	decodeInto(t, rec, &created)
	require.NotEmpty(t, created.UUID)

	rec = ts.do(http.MethodGet, "/schema/"+created.UUID+"/draft", nil, ts.token)
	require.Equal(t, http.StatusOK, rec.Code)
	var draft map[string]any
	decodeInto(t, rec, &draft)
	assert.Equal(t, "sample", draft["name"])

	rec = ts.do(http.MethodGet, "/schema/"+created.UUID+"/last_update", nil, ts.token)
	require.Equal(t, http.StatusOK, rec.Code)
	var lastUpdate string
	decodeInto(t, rec, &lastUpdate)

	rec = ts.do(http.MethodPost, "/schema/"+created.UUID+"/persist", map[string]any{"last_update": lastUpdate}, ts.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/schema/"+created.UUID+"/latest_persisted", nil, ts.token)
	require.Equal(t, http.StatusOK, rec.Code)
	var persisted map[string]any
	decodeInto(t, rec, &persisted)
	assert.NotEmpty(t, persisted["id"])

	rec = ts.do(http.MethodGet, "/schema/"+created.UUID+"/1999-01-01T00:00:00Z", nil, ts.token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(http.MethodGet, "/schema/"+created.UUID+"/yesterday", nil, ts.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/schema/"+created.UUID+"/draft_existing", nil, ts.token)
	require.Equal(t, http.StatusOK, rec.Code)
	var exists bool
	decodeInto(t, rec, &exists)
	assert.False(t, exists)

	rec = ts.do(http.MethodPost, "/schema/"+created.UUID+"/persist", map[string]any{"last_update": lastUpdate}, ts.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/permission/"+created.UUID+"/admin", nil, ts.token)
	require.Equal(t, http.StatusOK, rec.Code)
	var perms struct {
		Users []string `json:"users"`
	}
	decodeInto(t, rec, &perms)
	assert.Equal(t, []string{"alice@example.com"}, perms.Users)

	rec = ts.do(http.MethodGet, "/permission/"+created.UUID+"/owner", nil, ts.token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthAndRoutingErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/schema", map[string]any{"name": "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/widget", map[string]any{"name": "x"}, ts.token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/schema/import", map[string]any{"name": "no external id"}, ts.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/auth/whoami", nil, ts.token, actAsHeader, "root@example.com")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rootToken := ts.login("root@example.com", "secret")
	rec = ts.do(http.MethodGet, "/api/auth/whoami", nil, rootToken, actAsHeader, "alice@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	var who map[string]any
	decodeInto(t, rec, &who)
	assert.Equal(t, "alice@example.com", who["acting_as"])

	rec = ts.do(http.MethodGet, "/api/audit/logs", nil, ts.token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(http.MethodGet, "/api/audit/logs", nil, rootToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
