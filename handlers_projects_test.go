package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"projectmanager/models"
	"projectmanager/store"
	"projectmanager/store/storetest"
)

func testConfig() Config {
	cfg := Config{Mongo: MongoConfig{URL: "mongodb://storage1:27017"}}
	applyDefaults(&cfg)
	cfg.HTTP.JWTSecret = "test-secret"
	return cfg
}

type apiClient struct {
	t     *testing.T
	h     http.Handler
	token string
}

func (c *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	return rec
}

// setupAPI returns a logged-in client over an App backed by srv.
func setupAPI(t *testing.T, srv *storetest.Server) (*App, *apiClient) {
	t.Helper()
	return setupAPIWithLogger(t, srv, zap.NewNop())
}

func setupAPIWithLogger(t *testing.T, srv *storetest.Server, log *zap.Logger) (*App, *apiClient) {
	t.Helper()
	a, err := newApp(testConfig(), log, store.WithDialer(srv.Dial))
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.init(ctx))

	c := &apiClient{t: t, h: a.routes()}
	rec := c.do(http.MethodPost, "/api/auth/register", registerReq{Username: "ops", Email: "Ops@Studio.test", Password: "pw"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/auth/login", loginReq{Email: "ops@studio.test", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok tokenResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.Token)
	c.token = tok.Token
	return a, c
}

func decodeProject(t *testing.T, rec *httptest.ResponseRecorder) models.Project {
	t.Helper()
	var p models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestAPI_RequiresToken(t *testing.T) {
	_, c := setupAPI(t, storetest.NewServer())
	c.token = ""

	rec := c.do(http.MethodGet, "/api/projects/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c.token = "garbage"
	rec = c.do(http.MethodGet, "/api/projects/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_Auth(t *testing.T) {
	_, c := setupAPI(t, storetest.NewServer())

	rec := c.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"ops@studio.test"`)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	rec = c.do(http.MethodPost, "/api/auth/register", registerReq{Username: "x", Email: "ops@studio.test", Password: "pw"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodPost, "/api/auth/login", loginReq{Email: "ops@studio.test", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_UsersStayOutOfProjectDatabase(t *testing.T) {
	srv := storetest.NewServer()
	setupAPI(t, srv)

	assert.True(t, srv.DB("avalon_auth").Has("users"))
	assert.False(t, srv.DB("avalon").Has("users"))
}

func TestAPI_ProjectLifecycle(t *testing.T) {
	_, c := setupAPI(t, storetest.NewServer())

	rec := c.do(http.MethodGet, "/api/projects/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/projects/", createProjectReq{Name: "tvc_2018"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeProject(t, rec)
	assert.Equal(t, "tvc_2018", created.Name)
	assert.Equal(t, models.ProjectSchema, created.Schema)
	assert.False(t, created.ID.IsZero())
	assert.True(t, created.HasTask("modeling"), "seeded from the base template")

	rec = c.do(http.MethodPost, "/api/projects/", createProjectReq{Name: "tvc_2018"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodPost, "/api/projects/", createProjectReq{Name: "tvc_2019", CloneFrom: "tvc_2018"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	clone := decodeProject(t, rec)
	assert.NotEqual(t, created.ID, clone.ID)
	assert.Equal(t, created.Config.Tasks, clone.Config.Tasks)

	rec = c.do(http.MethodPost, "/api/projects/", createProjectReq{Name: "scratch", Empty: true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, decodeProject(t, rec).Config.Tasks)

	rec = c.do(http.MethodGet, "/api/projects/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 3)
	assert.Equal(t, "scratch", list[0].Name)
	assert.Equal(t, "tvc_2018", list[1].Name)
	assert.Equal(t, "tvc_2019", list[2].Name)

	rec = c.do(http.MethodGet, "/api/projects/tvc_2019", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, clone.ID, decodeProject(t, rec).ID)

	rec = c.do(http.MethodGet, "/api/projects/tvc_2018/template", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tmpl map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tmpl))
	assert.NotContains(t, tmpl, "name")
	assert.NotContains(t, tmpl, "id")
	assert.Equal(t, "project", tmpl["type"])

	rec = c.do(http.MethodGet, "/api/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = c.do(http.MethodGet, "/api/projects/missing/template", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodGet, "/api/database", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"avalon"}`, rec.Body.String())
}

func TestAPI_ForeignKeysReachJSON(t *testing.T) {
	srv := storetest.NewServer()
	_, c := setupAPI(t, srv)

	require.NoError(t, srv.DB("avalon").Coll("legacy").Insert(bson.M{
		"name":      "legacy",
		"type":      models.TypeProject,
		"schema":    models.ProjectSchema,
		"data":      bson.M{},
		"config":    bson.M{"template": bson.M{}, "tasks": bson.A{}, "apps": bson.A{}},
		"parent":    "abc",
		"locations": bson.A{"a"},
	}))

	for _, path := range []string{"/api/projects/legacy", "/api/projects/legacy/template"} {
		rec := c.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "abc", got["parent"], path)
		assert.Equal(t, []any{"a"}, got["locations"], path)
	}
}

func TestAPI_CreateProjectValidation(t *testing.T) {
	srv := storetest.NewServer()
	_, c := setupAPI(t, srv)

	tests := []struct {
		name string
		body any
		code int
	}{
		{name: "blank name", body: createProjectReq{Name: "  "}, code: http.StatusBadRequest},
		{name: "clone and empty", body: createProjectReq{Name: "a", CloneFrom: "b", Empty: true}, code: http.StatusBadRequest},
		{name: "clone of missing project", body: createProjectReq{Name: "a", CloneFrom: "b"}, code: http.StatusNotFound},
		{name: "name rejected by schema", body: createProjectReq{Name: "bad name"}, code: http.StatusUnprocessableEntity},
		{name: "bad json", body: "not an object", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := c.do(http.MethodPost, "/api/projects/", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	assert.False(t, srv.DB("avalon").Has("bad name"), "rejected project is rolled back")
}

func TestAPI_AddTask(t *testing.T) {
	_, c := setupAPI(t, storetest.NewServer())

	rec := c.do(http.MethodPost, "/api/projects/", createProjectReq{Name: "tvc_2018", Empty: true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/projects/tvc_2018/tasks", addTaskReq{Name: "comp", Icon: "filter", Label: "Compositing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decodeProject(t, rec)
	assert.Equal(t, []models.Task{{Name: "comp", Icon: "filter", Label: "Compositing"}}, p.Config.Tasks)

	rec = c.do(http.MethodPost, "/api/projects/tvc_2018/tasks", addTaskReq{Name: "comp"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodPost, "/api/projects/tvc_2018/tasks", addTaskReq{Name: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodPost, "/api/projects/missing/tasks", addTaskReq{Name: "comp"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_BaseTemplate(t *testing.T) {
	_, c := setupAPI(t, storetest.NewServer())

	rec := c.do(http.MethodGet, "/api/templates/base", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tmpl models.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tmpl))
	assert.Equal(t, models.TypeProject, tmpl.Type)
	assert.NotEmpty(t, tmpl.Config.Tasks)
}

func TestAPI_Public(t *testing.T) {
	srv := storetest.NewServer()
	_, c := setupAPI(t, srv)
	c.token = ""

	rec := c.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"connected"}`, rec.Body.String())

	rec = c.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "projectmanager_connect_attempts_total")

	rec = c.do(http.MethodGet, "/api/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "openapi:"))
}

func TestAPI_DatabaseUnavailable(t *testing.T) {
	srv := storetest.NewServer()
	_, c := setupAPI(t, srv)

	// A fresh App over a server that never answers.
	down := storetest.NewServer()
	down.FailPings(100)
	cfg := testConfig()
	cfg.Mongo.Attempts = 1
	a, err := newApp(cfg, zap.NewNop(), store.WithDialer(down.Dial))
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })

	c.h = a.routes()
	rec := c.do(http.MethodGet, "/api/projects/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = c.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "operator lookup failures are not a missing operator")

	rec = c.do(http.MethodPost, "/api/auth/login", loginReq{Email: "ops@studio.test", Password: "pw"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_MeUnknownOperator(t *testing.T) {
	a, c := setupAPI(t, storetest.NewServer())

	tok, err := signJWT(a.cfg.HTTP.JWTSecret, operator{ID: primitive.NewObjectID(), Username: "ghost"}, time.Now())
	require.NoError(t, err)
	c.token = tok

	rec := c.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_LogsOperatorOnProjectWrites(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	_, c := setupAPIWithLogger(t, storetest.NewServer(), zap.New(core))

	rec := c.do(http.MethodPost, "/api/projects/", createProjectReq{Name: "tvc_2018", Empty: true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = c.do(http.MethodPost, "/api/projects/tvc_2018/tasks", addTaskReq{Name: "comp"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	created := logs.FilterMessage("create project").All()
	require.Len(t, created, 1)
	assert.Equal(t, "ops", created[0].ContextMap()["operator"])
	assert.Equal(t, "tvc_2018", created[0].ContextMap()["project"])

	added := logs.FilterMessage("add task").All()
	require.Len(t, added, 1)
	assert.Equal(t, "ops", added[0].ContextMap()["operator"])
	assert.Equal(t, "comp", added[0].ContextMap()["task"])
}
