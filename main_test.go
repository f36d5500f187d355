package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thavlik/molsuite/jobs"
	"github.com/thavlik/molsuite/pocket"
	"github.com/thavlik/molsuite/session"
)

const samplePredictions = `name,rank,score,probability,sas_points,surf_atoms,center_x,center_y,center_z,residue_ids,surf_atom_ids
  pocket1,    1,   14.27,   0.812,    142,    71,  12.3456,  -3.1000,  22.0100,A_101 A_102 A_145,1012 1013 1450
  pocket2,    2,    9.10,   0.544,     88,    40,   1.0000,   2.0000,   3.0000,A_12 A_13,120 121
`

const samplePDB = `ATOM      1  N   ALA A   1       0.000   0.000   0.000  1.00  0.00           N
ATOM      2  CA  ALA A   1       1.458   0.000   0.000  1.00  0.00           C
ATOM      3  CA  ALA A   2       4.200   1.100   0.300  1.00  0.00           C
END
`

func newTestServer(t *testing.T, opts ...func(*Config)) *server {
	cfg := defaultConfig()
	cfg.TmpDir = t.TempDir()
	cfg.WaitTimeout = Duration(10 * time.Second)
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := newServer(&cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func serve(s *server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func postForm(target string, values url.Values, sessionID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sessionID})
	}
	return req
}

type upload struct {
	field, name, content string
}

func postMultipart(t *testing.T, target string, values map[string]string, uploads []upload, sessionID string) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, u := range uploads {
		part, err := mw.CreateFormFile(u.field, u.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(u.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sessionID})
	}
	return req
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) string {
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			return c.Value
		}
	}
	t.Fatalf("no session cookie")
	return ""
}

func TestIndexRedirects(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/w/structure", w.Header().Get("Location"))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestWorkflowPages(t *testing.T) {
	s := newTestServer(t)
	for _, slug := range []string{"structure", "trajectory", "pocket", "docking", "auto"} {
		w := serve(s, httptest.NewRequest(http.MethodGet, "/w/"+slug, nil))
		assert.Equal(t, http.StatusOK, w.Code, slug)
		assert.Contains(t, w.Body.String(), "<form", slug)
	}
	w := serve(s, httptest.NewRequest(http.MethodGet, "/w/structure?mode=rcsb", nil))
	assert.Contains(t, w.Body.String(), `value="1LOL"`)
	w = serve(s, httptest.NewRequest(http.MethodGet, "/w/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRCSBEmbedsWithoutMaterializing(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postForm("/w/structure", url.Values{
		"mode":   {"rcsb"},
		"pdb_id": {"1lol"},
	}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, 1, strings.Count(body, `data-mode="rcsb"`))
	assert.Contains(t, body, `data-pdb-id="1LOL"`)
	assert.NotContains(t, body, `class="banner`)

	_, ok := s.sessions.Lookup(sessionCookie(t, w))
	assert.False(t, ok)
	entries, err := ioutil.ReadDir(s.cfg.TmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRCSBInvalidID(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postForm("/w/structure", url.Values{
		"mode":   {"rcsb"},
		"pdb_id": {"1l"},
	}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `class="banner warning"`)
	assert.NotContains(t, w.Body.String(), `data-mode="rcsb"`)
}

func TestTrajectoryPrecondition(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postMultipart(t, "/w/trajectory", map[string]string{"mode": "upload"}, []upload{
		{"topology", "protein.pdb", samplePDB},
	}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `class="banner warning"`)
	assert.Contains(t, body, "Please upload both PDB and XTC files.")
	assert.Equal(t, 0, s.jobs.Len())
	entries, err := ioutil.ReadDir(s.cfg.TmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDockingPrecondition(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postMultipart(t, "/w/docking", map[string]string{"mode": "upload"}, []upload{
		{"protein", "protein.pdb", samplePDB},
	}, ""))
	assert.Contains(t, w.Body.String(), "Upload protein, docked ligand, and ground truth ligand.")
	assert.Equal(t, 0, s.jobs.Len())
}

func TestAutoLocalPrecondition(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postMultipart(t, "/w/auto", map[string]string{"mode": "local"}, nil, ""))
	assert.Contains(t, w.Body.String(), "Upload at least one file.")
}

func TestAutoRemote(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postForm("/w/auto", url.Values{
		"mode":   {"remote"},
		"urls":   {"https://files.rcsb.org/download/3PTB.pdb\n\n https://files.rcsb.org/download/1LOL.pdb \n"},
		"height": {"5000"},
	}, ""))
	body := w.Body.String()
	assert.Equal(t, 1, strings.Count(body, `data-mode="auto"`))
	assert.Contains(t, body, "height: 800px")
	assert.NotContains(t, body, `class="banner`)
}

var fileURLPattern = regexp.MustCompile(`files\\?/([0-9a-f-]{36})\\?/([0-9a-f-]{36})`)

func TestLocalUploadIsServed(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postMultipart(t, "/w/structure", map[string]string{"mode": "local"}, []upload{
		{"structure", "protein.pdb", samplePDB},
	}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, `data-mode="local"`)
	sessionID := sessionCookie(t, w)
	reg, ok := s.sessions.Lookup(sessionID)
	require.True(t, ok)
	assert.Equal(t, 1, reg.Len())

	m := fileURLPattern.FindStringSubmatch(body)
	require.Len(t, m, 3)
	assert.Equal(t, sessionID, m[1])
	w = serve(s, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/files/%s/%s", m[1], m[2]), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, samplePDB, w.Body.String())

	w = serve(s, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/snapshot?file=%s", m[2]), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/snapshot?file=%s", m[2]), nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sessionID})
	w = serve(s, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = serve(s, postForm("/session/clear", url.Values{"next": {"/w/structure"}}, sessionID))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/w/structure", w.Header().Get("Location"))
	_, ok = s.sessions.Lookup(sessionID)
	assert.False(t, ok)
	entries, err := ioutil.ReadDir(s.cfg.TmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileNotFound(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/files/nope/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotBadRequest(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(s, httptest.NewRequest(http.MethodGet, "/snapshot?rcsb=toolong", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(s, httptest.NewRequest(http.MethodGet, "/snapshot?url=ftp://example.org/x.pdb", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnapshotForbidsPrivateAddresses(t *testing.T) {
	s := newTestServer(t)
	for _, target := range []string{
		"http://127.0.0.1:1/x.pdb",
		"http://10.0.0.5/x.pdb",
		"http://169.254.169.254/latest/x.pdb",
		"http://[::1]:8090/x.pdb",
	} {
		w := serve(s, httptest.NewRequest(http.MethodGet, "/snapshot?url="+url.QueryEscape(target), nil))
		assert.Equal(t, http.StatusForbidden, w.Code, target)
	}
}

func TestSessionsArePrunedInBackground(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.Session.TTL = Duration(20 * time.Millisecond)
		cfg.Session.PruneInterval = Duration(10 * time.Millisecond)
	})
	store, ok := s.store.(*session.MemoryStore)
	require.True(t, ok)
	for i := 0; i < 100; i++ {
		require.NoError(t, store.Put(context.Background(), session.NewID(), &session.State{ProteinPath: "/p.pdb"}))
	}
	assert.Eventually(t, func() bool { return store.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func writeProtein(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "protein.pdb")
	require.NoError(t, os.WriteFile(path, []byte(samplePDB), 0644))
	return path
}

func TestPocketMissingExecutableIsAnError(t *testing.T) {
	s := newTestServer(t)
	home := t.TempDir()
	w := serve(s, postForm("/w/pocket", url.Values{
		"mode":         {"local"},
		"p2rank_home":  {home},
		"protein_path": {writeProtein(t)},
	}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `class="banner error"`)
	assert.Contains(t, body, "p2rank locate")
	assert.NotContains(t, body, `class="pockets"`)
	assert.Contains(t, body, `data-state="failed"`)
}

func TestPocketPrecondition(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postForm("/w/pocket", url.Values{
		"mode":         {"local"},
		"p2rank_home":  {""},
		"protein_path": {writeProtein(t)},
	}, ""))
	assert.Contains(t, w.Body.String(), `class="banner warning"`)
	assert.Contains(t, w.Body.String(), "Provide both P2Rank path and protein path.")
	assert.Equal(t, 0, s.jobs.Len())

	w = serve(s, postForm("/w/pocket", url.Values{
		"mode":         {"local"},
		"p2rank_home":  {t.TempDir()},
		"protein_path": {filepath.Join(t.TempDir(), "missing.pdb")},
	}, ""))
	assert.Contains(t, w.Body.String(), `class="banner warning"`)
	assert.Equal(t, 0, s.jobs.Len())
}

// fakeP2Rank writes a prank launcher that copies predictions into
// place after sleeping for delay seconds.
func fakeP2Rank(t *testing.T, predictions string, delay float64) string {
	if runtime.GOOS == "windows" {
		t.Skip("shell launcher")
	}
	home := t.TempDir()
	csvPath := filepath.Join(t.TempDir(), "fixture.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(predictions), 0644))
	// predict -f <protein> -o <outdir>
	launcher := fmt.Sprintf("#!/bin/sh\nsleep %g\nname=$(basename \"$3\")\nmkdir -p \"$5\"\ncp \"%s\" \"$5/${name}_predictions.csv\"\n", delay, csvPath)
	require.NoError(t, os.WriteFile(filepath.Join(home, "prank"), []byte(launcher), 0755))
	return home
}

func TestPocketRunCachesAndSelects(t *testing.T) {
	s := newTestServer(t)
	home := fakeP2Rank(t, samplePredictions, 0)

	protein := writeProtein(t)
	w := serve(s, postForm("/w/pocket", url.Values{
		"mode":         {"local"},
		"p2rank_home":  {home},
		"protein_path": {protein},
	}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, `class="banner`)
	assert.Contains(t, body, `class="pockets"`)
	assert.Contains(t, body, "pocket2")
	sessionID := sessionCookie(t, w)

	state, err := s.store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.True(t, state.HasPockets())
	assert.Equal(t, []string{"pocket1", "pocket2"}, state.Pockets.Keys())
	assert.Equal(t, protein, state.ProteinPath)
	assert.Equal(t, "protein.pdb", state.ProteinName)
	assert.NotEmpty(t, state.ProteinFile)

	// Navigating back shows the cached result and the protein viewer
	// without running again.
	jobsBefore := s.jobs.Len()
	req := httptest.NewRequest(http.MethodGet, "/w/pocket", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sessionID})
	w = serve(s, req)
	body = w.Body.String()
	assert.Contains(t, body, "pocket1")
	assert.Contains(t, body, `class="top-pockets"`)
	assert.Equal(t, 1, strings.Count(body, `data-mode="local"`))
	m := fileURLPattern.FindStringSubmatch(body)
	require.Len(t, m, 3)
	assert.Equal(t, state.ProteinFile, m[2])
	assert.NotContains(t, body, protein)
	assert.Equal(t, jobsBefore, s.jobs.Len())

	w = serve(s, postForm("/w/pocket", url.Values{
		"action": {"select"},
		"pocket": {"pocket2"},
	}, sessionID))
	body = w.Body.String()
	assert.Contains(t, body, "Pocket Selected!")
	assert.Contains(t, body, `class="banner success"`)
	assert.Contains(t, body, "Selected pocket2 on protein.pdb")
	assert.Contains(t, body, `data-mode="local"`)
	assert.NotContains(t, body, protein)
	state, err = s.store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, state.Selection)
	assert.Equal(t, "pocket2", state.Selection.Pocket.Name)
	assert.Equal(t, protein, state.Selection.ProteinPath)
}

func TestPocketSelectWithoutCache(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postForm("/w/pocket", url.Values{
		"action": {"select"},
		"pocket": {"pocket1"},
	}, ""))
	assert.Contains(t, w.Body.String(), "Run pocket detection first.")
}

func TestPocketSelectUnknown(t *testing.T) {
	s := newTestServer(t)
	sessionID := session.NewID()
	pockets, err := pocket.ParsePredictions(strings.NewReader(samplePredictions))
	require.NoError(t, err)
	require.NoError(t, s.store.Put(context.Background(), sessionID, &session.State{
		Pockets:     pockets,
		ProteinPath: writeProtein(t),
	}))
	w := serve(s, postForm("/w/pocket", url.Values{
		"action": {"select"},
		"pocket": {"pocket9"},
	}, sessionID))
	assert.Contains(t, w.Body.String(), `class="banner warning"`)
	assert.NotContains(t, w.Body.String(), "Pocket Selected!")
}

func TestPocketSelectMissingProtein(t *testing.T) {
	s := newTestServer(t)
	sessionID := session.NewID()
	pockets, err := pocket.ParsePredictions(strings.NewReader(samplePredictions))
	require.NoError(t, err)
	require.NoError(t, s.store.Put(context.Background(), sessionID, &session.State{
		Pockets:     pockets,
		ProteinPath: filepath.Join(t.TempDir(), "evicted.pdb"),
	}))
	w := serve(s, postForm("/w/pocket", url.Values{
		"action": {"select"},
		"pocket": {"pocket1"},
	}, sessionID))
	assert.Contains(t, w.Body.String(), "Protein file is no longer available.")
	assert.NotContains(t, w.Body.String(), "Pocket Selected!")
	state, err := s.store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Nil(t, state.Selection)
}

const fourPockets = samplePredictions + `  pocket3,    3,    5.50,   0.310,     40,    22,   4.0000,   5.0000,   6.0000,A_40,400
  pocket4,    4,    1.20,   0.050,     12,     6,   7.0000,   8.0000,   9.0000,A_77,770
`

func TestPocketTopThree(t *testing.T) {
	s := newTestServer(t)
	sessionID := session.NewID()
	pockets, err := pocket.ParsePredictions(strings.NewReader(fourPockets))
	require.NoError(t, err)
	require.NoError(t, s.store.Put(context.Background(), sessionID, &session.State{
		Pockets:     pockets,
		ProteinPath: writeProtein(t),
		ProteinName: "protein.pdb",
	}))
	req := httptest.NewRequest(http.MethodGet, "/w/pocket", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sessionID})
	body := serve(s, req).Body.String()

	start := strings.Index(body, `<section class="top-pockets">`)
	require.True(t, start >= 0)
	end := strings.Index(body[start:], "</section>")
	require.True(t, end > 0)
	top := body[start : start+end]
	assert.Equal(t, 3, strings.Count(top, "<li>"))
	assert.Contains(t, top, "pocket1: score 14.27")
	assert.Contains(t, top, "pocket3")
	assert.NotContains(t, top, "pocket4")
	// The full table still lists every pocket.
	assert.Contains(t, body, "pocket4")
}

func TestPocketUploadNeedsHome(t *testing.T) {
	s := newTestServer(t)
	w := serve(s, postMultipart(t, "/w/pocket", map[string]string{
		"mode":        "upload",
		"p2rank_home": "",
	}, []upload{
		{"protein", "protein.pdb", samplePDB},
	}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `class="banner warning"`)
	assert.Contains(t, w.Body.String(), "Provide the P2Rank installation path.")
	assert.Equal(t, 0, s.jobs.Len())
	entries, err := ioutil.ReadDir(s.cfg.TmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

var jobIDPattern = regexp.MustCompile(`data-job-id="([0-9a-f-]{36})"`)

func TestSlowPocketJobPageShowsViewer(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.WaitTimeout = Duration(time.Millisecond)
	})
	home := fakeP2Rank(t, samplePredictions, 0.5)
	w := serve(s, postMultipart(t, "/w/pocket", map[string]string{
		"mode":        "upload",
		"p2rank_home": home,
	}, []upload{
		{"protein", "protein.pdb", samplePDB},
	}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `data-mode="local"`)
	m := jobIDPattern.FindStringSubmatch(body)
	require.Len(t, m, 2)
	job, ok := s.jobs.Get(m[1])
	require.True(t, ok)
	assert.False(t, job.Status().State.Finished())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := job.Wait(ctx)
	require.NoError(t, err)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/jobs/"+m[1], nil))
	require.Equal(t, http.StatusOK, w.Code)
	body = w.Body.String()
	assert.Equal(t, 1, strings.Count(body, `data-mode="local"`))
	assert.Contains(t, body, `class="top-pockets"`)
	assert.Contains(t, body, "pocket2")
	files := fileURLPattern.FindStringSubmatch(body)
	require.Len(t, files, 3)
	w = serve(s, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/files/%s/%s", files[1], files[2]), nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestComplete(t *testing.T) {
	s := newTestServer(t)
	correlationID := "abc-123"
	req := s.pending.Register(correlationID)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("data", "predictions.csv")
	require.NoError(t, err)
	part.Write([]byte(samplePredictions))
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, "/complete?correlation_id="+correlationID, &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := serve(s, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	select {
	case v := <-req:
		assert.Equal(t, []byte(samplePredictions), v)
	case <-time.After(time.Second):
		t.Fatal("not fulfilled")
	}

	w = serve(s, httptest.NewRequest(http.MethodPost, "/complete", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompleteUnknownID(t *testing.T) {
	s := newTestServer(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("data", "predictions.csv")
	require.NoError(t, err)
	part.Write([]byte("x"))
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, "/complete?correlation_id=missing", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := serve(s, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorCallback(t *testing.T) {
	s := newTestServer(t)
	req := s.pending.Register("xyz")
	payload, _ := json.Marshal(map[string]interface{}{
		"correlation_id": "xyz",
		"msg":            "prank predict failed",
	})
	w := serve(s, httptest.NewRequest(http.MethodPost, "/error", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, w.Code)
	v := <-req
	err, ok := v.(error)
	require.True(t, ok)
	assert.Equal(t, "prank predict failed", err.Error())

	w = serve(s, httptest.NewRequest(http.MethodPost, "/error", strings.NewReader(`{"msg": "x"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func submitPlotJob(t *testing.T, s *server) *jobs.Job {
	job, err := s.jobs.Submit("trajectory", func() (*jobs.Output, error) {
		return &jobs.Output{Artifacts: map[string][]byte{"rmsd": []byte("\x89PNG fake")}}, nil
	})
	require.NoError(t, err)
	_, err = job.Wait(context.Background())
	require.NoError(t, err)
	return job
}

func TestJobRoutes(t *testing.T) {
	s := newTestServer(t)
	job := submitPlotJob(t, s)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID()+"?wait=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := jobs.Status{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, jobs.Done, status.State)
	assert.Equal(t, []string{"rmsd"}, status.Artifacts)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID()+"/rmsd.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG fake", w.Body.String())

	w = serve(s, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID()+"/rmsf.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(s, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID()+"/rmsd.svg", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/jobs/"+job.ID()+"/rmsd.png")

	w = serve(s, httptest.NewRequest(http.MethodGet, "/jobs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/jobs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobSocket(t *testing.T) {
	s := newTestServer(t)
	release := make(chan struct{})
	job, err := s.jobs.Submit("pocket", func() (*jobs.Output, error) {
		<-release
		return &jobs.Output{}, nil
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.handler)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/jobs/"+job.ID(), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := jobs.Status{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, job.ID(), first.ID)
	close(release)

	var last jobs.Status
	for {
		status := jobs.Status{}
		if err := conn.ReadJSON(&status); err != nil {
			break
		}
		last = status
	}
	assert.Equal(t, jobs.Done, last.State)
}
