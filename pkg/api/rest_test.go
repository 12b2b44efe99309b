package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbolindex/indexd/pkg/content"
	"github.com/symbolindex/indexd/pkg/project"
	"github.com/symbolindex/indexd/pkg/workspace"
)

func newTestServer(t *testing.T) (*Server, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.New(workspace.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws.Close(ctx)
	})

	logger := zerolog.Nop()
	s := NewServer(DefaultServerConfig(), ws, nil, NewHub(logger), logger)
	return s, ws
}

func addProject(t *testing.T, ws *workspace.Workspace, id, name string, fileCount int) {
	t.Helper()
	dir := t.TempDir()
	p := &project.Project{
		ID:           id,
		Name:         name,
		Path:         filepath.Join(dir, name+".idxproj"),
		AssemblyName: name,
	}
	for i := 0; i < fileCount; i++ {
		path := filepath.Join(dir, fmt.Sprintf("f%d.go", i))
		require.NoError(t, os.WriteFile(path, []byte("package p\n\nfunc F() {}\n"), 0o644))
		p.Items = append(p.Items, content.ProjectItem{Kind: content.ItemCompile, Path: path})
	}
	_, err := ws.AddProject(p)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ws.WaitReady(ctx))
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_ListProjects(t *testing.T) {
	s, ws := newTestServer(t)
	addProject(t, ws, "p1", "alpha", 2)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/projects")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Projects []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			FileCount int    `json:"file_count"`
		} `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Projects, 1)
	assert.Equal(t, "p1", body.Projects[0].ID)
	assert.Equal(t, "alpha", body.Projects[0].Name)
	assert.Equal(t, 2, body.Projects[0].FileCount)
}

func TestServer_GetProject(t *testing.T) {
	s, ws := newTestServer(t)
	addProject(t, ws, "p1", "alpha", 1)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/projects/p1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ID           string `json:"id"`
		AssemblyName string `json:"assembly_name"`
		Files        []struct {
			Path        string `json:"path"`
			SymbolCount int    `json:"symbol_count"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "p1", body.ID)
	assert.Equal(t, "alpha", body.AssemblyName)
	require.Len(t, body.Files, 1)
	assert.Equal(t, 1, body.Files[0].SymbolCount)
}

func TestServer_GetProjectNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/projects/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "project not found")
}

func TestServer_Stats(t *testing.T) {
	s, ws := newTestServer(t)
	addProject(t, ws, "p1", "alpha", 3)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/projects/p1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ProjectID string `json:"project_id"`
		Counts    struct {
			Parsed int `json:"Parsed"`
		} `json:"last_parse_counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "p1", body.ProjectID)
	assert.Equal(t, 3, body.Counts.Parsed)
}

func TestServer_TriggerEndpoints(t *testing.T) {
	s, ws := newTestServer(t)
	addProject(t, ws, "p1", "alpha", 1)

	for _, path := range []string{
		"/api/v1/projects/p1/reparse",
		"/api/v1/projects/p1/resolve",
	} {
		rec := doRequest(t, s, http.MethodPost, path)
		assert.Equal(t, http.StatusAccepted, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"status":"queued"`)
	}

	rec := doRequest(t, s, http.MethodPost, "/api/v1/projects/nope/reparse")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s, ws := newTestServer(t)
	addProject(t, ws, "p1", "alpha", 0)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/projects/p1/reparse")
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHub_EventsStream(t *testing.T) {
	logger := zerolog.Nop()
	hub := NewHub(logger)
	defer hub.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/events", hub.handleEvents)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, resp, err := dialWebsocket(wsURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Progress("p1", "reparse", 0.5)

	var ev Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, "p1", ev.ProjectID)
	assert.Equal(t, "reparse", ev.Job)
	assert.InDelta(t, 0.5, ev.Fraction, 1e-9)
}

func dialWebsocket(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	return dialer.Dial(url, nil)
}
