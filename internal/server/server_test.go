package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"compmap/internal/config"
	"compmap/internal/db"
	"compmap/internal/domain"
	"compmap/internal/engine"
	"compmap/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	for _, u := range []domain.Unit{
		{ID: "u-a", Name: "Unit Alpha", Acronym: "ALPHA", Type: domain.UnitOperational},
		{ID: "u-b", Name: "Unit Bravo", Acronym: "BRAVO", Type: domain.UnitIntermediate},
	} {
		if err := e.Repo.UpsertUnit(ctx, u); err != nil {
			t.Fatalf("seed unit: %v", err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestProcessLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes", map[string]any{
		"description": "2026 mapping campaign",
		"type":        "MAPPING",
		"unit_ids":    []string{"u-a"},
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create process status %d: %s", createRes.StatusCode, string(data))
	}
	var created ProcessResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal process: %v", err)
	}
	if created.Situation != "CREATED" {
		t.Fatalf("created situation = %s", created.Situation)
	}

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+created.ID+"/start-mapping", map[string]any{
		"unit_ids": []string{"u-a"},
	}, nil)
	if startRes.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", startRes.StatusCode, string(startBody))
	}
	var started ProcessResponse
	_ = json.Unmarshal(startBody, &started)
	if started.Situation != "IN_PROGRESS" {
		t.Fatalf("started situation = %s", started.Situation)
	}

	subsRes, subsBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/processes/"+created.ID+"/subprocesses", nil, nil)
	if subsRes.StatusCode != http.StatusOK {
		t.Fatalf("list subprocesses status %d: %s", subsRes.StatusCode, string(subsBody))
	}
	var subs []SubprocessResponse
	if err := json.Unmarshal(subsBody, &subs); err != nil || len(subs) != 1 {
		t.Fatalf("subprocesses = %s (%v)", string(subsBody), err)
	}
	if subs[0].Situation != string(domain.MappingCadastroInProgress) || !subs[0].Active {
		t.Fatalf("subprocess = %+v", subs[0])
	}

	// Illegal skip over the workflow graph maps to 422.
	skipRes, skipBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/subprocesses/"+subs[0].ID+"/transition", map[string]any{
		"situation": string(domain.MappingMapCreated),
	}, nil)
	if skipRes.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("skip status %d: %s", skipRes.StatusCode, string(skipBody))
	}

	for _, next := range []domain.Situation{
		domain.MappingCadastroSubmitted,
		domain.MappingCadastroHomologated,
		domain.MappingMapCreated,
		domain.MappingMapSubmitted,
		domain.MappingMapValidated,
		domain.MappingMapHomologated,
	} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/subprocesses/"+subs[0].ID+"/transition", map[string]any{
			"situation": string(next),
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("transition to %s: %d %s", next, res.StatusCode, string(body))
		}
	}

	finRes, finBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+created.ID+"/finalize", nil, nil)
	if finRes.StatusCode != http.StatusOK {
		t.Fatalf("finalize status %d: %s", finRes.StatusCode, string(finBody))
	}
	var finalized ProcessResponse
	_ = json.Unmarshal(finBody, &finalized)
	if finalized.Situation != "FINALIZED" || finalized.FinalizedAt == nil {
		t.Fatalf("finalized = %+v", finalized)
	}

	mapRes, mapBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/units/u-a/effective-map", nil, nil)
	if mapRes.StatusCode != http.StatusOK {
		t.Fatalf("effective map status %d: %s", mapRes.StatusCode, string(mapBody))
	}
}

func TestStartConflictMapsTo409(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	var first ProcessResponse
	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes", map[string]any{
		"description": "first", "type": "MAPPING", "unit_ids": []string{"u-a"},
	}, nil)
	_ = json.Unmarshal(data, &first)
	if res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+first.ID+"/start-mapping", map[string]any{"unit_ids": []string{"u-a"}}, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("start first: %d %s", res.StatusCode, string(body))
	}

	var second ProcessResponse
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes", map[string]any{
		"description": "second", "type": "MAPPING", "unit_ids": []string{"u-a"},
	}, nil)
	_ = json.Unmarshal(data, &second)
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+second.ID+"/start-mapping", map[string]any{"unit_ids": []string{"u-a"}}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "conflicting_active_process" {
		t.Fatalf("error envelope = %s (%v)", string(body), err)
	}
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/processes", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}

func TestRevisionWithoutEffectiveMapMapsTo422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	var p ProcessResponse
	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes", map[string]any{
		"description": "revision", "type": "REVISION", "unit_ids": []string{"u-a"},
	}, nil)
	_ = json.Unmarshal(data, &p)
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+p.ID+"/start-revision", map[string]any{"unit_ids": []string{"u-a"}}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "no_effective_map" {
		t.Fatalf("error envelope = %s (%v)", string(body), err)
	}
}
