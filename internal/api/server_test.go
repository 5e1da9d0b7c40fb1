package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"livepatch/internal/approval"
	"livepatch/internal/browser"
	"livepatch/internal/files"
	"livepatch/internal/history"
	"livepatch/internal/llm"
	"livepatch/internal/modelpatch"
	"livepatch/internal/patchgen"
	"livepatch/internal/resolver"
	"livepatch/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const (
	project = "/Users/dev/shop"
	appPath = "/Users/dev/shop/src/App.tsx"
)

const appSource = "export function App() {\n" +
	"  return (\n" +
	"    <button class=\"btn\">Old</button>\n" +
	"  );\n" +
	"}\n"

type noLocal struct{}

func (noLocal) Apply(context.Context, llm.ProviderConfig, string, string) (modelpatch.Result, error) {
	return modelpatch.Result{}, modelpatch.ErrNoModel
}

type noCloud struct{}

func (noCloud) Apply(context.Context, llm.ProviderConfig, modelpatch.CloudRequest) (string, error) {
	return "", llm.ErrNoAPIKey
}

type page struct {
	mu      sync.Mutex
	scripts []string
}

func (p *page) ExecuteJavaScript(_ context.Context, code string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, code)
	return true, nil
}

func (p *page) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scripts)
}

type toggle struct {
	mu sync.Mutex
	on bool
}

func (t *toggle) FastPathAutoApply() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.on
}

func (t *toggle) SetFastPathAutoApply(v bool) {
	t.mu.Lock()
	t.on = v
	t.mu.Unlock()
}

func (t *toggle) ProviderConfig() llm.ProviderConfig { return llm.ProviderConfig{} }

type env struct {
	srv  *httptest.Server
	fs   *files.Memory
	tab  *page
	msgs *MessageLog
	set  *toggle
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fs := files.NewMemory(project, map[string]string{appPath: appSource})
	gen := patchgen.New(fs, resolver.New(fs.Getwd), resolver.NewGuard("ai-cluso"),
		patchgen.WithLocal(noLocal{}), patchgen.WithCloud(noCloud{}))
	applicator := history.NewApplicator(fs, history.NewMemoryStore(), history.NewEditedFiles(project))

	reg := browser.NewRegistry()
	tab := &page{}
	reg.Register("tab-1", tab)

	msgs := NewMessageLog()
	set := &toggle{}
	mgr := approval.NewManager(gen, applicator, set, reg, approval.WithMessageSink(msgs))
	reg.OnClose(mgr.TabClosed)

	srv := httptest.NewServer(NewServer(mgr, applicator, set, msgs, project).Handler())
	t.Cleanup(func() {
		http.DefaultClient.CloseIdleConnections()
		srv.Close()
		mgr.Close()
	})
	return &env{srv: srv, fs: fs, tab: tab, msgs: msgs, set: set}
}

func (e *env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func buttonRequest(id string) map[string]any {
	return map[string]any{
		"id":    id,
		"tabId": "tab-1",
		"element": map[string]any{
			"tagName":    "BUTTON",
			"classNames": []string{"btn"},
			"selector":   "button.btn",
			"sourceLocation": map[string]any{
				"sources": []map[string]any{{"file": "src/App.tsx", "line": 3}},
			},
		},
		"cssChanges": map[string]string{"color": "red"},
	}
}

func (e *env) waitStatus(t *testing.T, want types.PatchStatus) approval.Pending {
	t.Helper()
	var p approval.Pending
	require.Eventually(t, func() bool {
		resp := e.do(t, http.MethodGet, "/approvals/active", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		p = decodeBody[approval.Pending](t, resp)
		return p.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return p
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApproveFlow_WritesUndoRedo(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/approvals", buttonRequest("a"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, e.tab.count(), "preview script runs on prepare")

	p := e.waitStatus(t, types.PatchReady)
	require.NotNil(t, p.Patch)
	assert.Equal(t, types.GeneratedByFastPath, p.Patch.GeneratedBy)
	assert.Contains(t, p.ApplyCode, `"button.btn"`)

	resp = e.do(t, http.MethodPost, "/approvals/a/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, _ := e.fs.Content(appPath)
	assert.Contains(t, got, `<button style={{ color: 'red' }} class="btn">Old</button>`)

	resp = e.do(t, http.MethodGet, "/approvals/active", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	edited := decodeBody[[]history.EditedFile](t, e.do(t, http.MethodGet, "/edited-files", nil))
	require.Len(t, edited, 1)
	assert.Equal(t, "src/App.tsx", edited[0].DisplayName)
	assert.Equal(t, 1, edited[0].Additions)
	assert.NotEmpty(t, edited[0].UndoCode)

	resp = e.do(t, http.MethodPost, "/undo", map[string]string{"path": appPath})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ = e.fs.Content(appPath)
	assert.Equal(t, appSource, got)

	resp = e.do(t, http.MethodPost, "/undo", map[string]string{"path": appPath})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/redo", map[string]string{"path": appPath})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ = e.fs.Content(appPath)
	assert.NotEqual(t, appSource, got)
}

func TestReject_RevertsPreview(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/approvals", buttonRequest("a")).StatusCode)
	e.waitStatus(t, types.PatchReady)

	resp := e.do(t, http.MethodPost, "/approvals/a/reject", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, e.tab.count())

	got, _ := e.fs.Content(appPath)
	assert.Equal(t, appSource, got)

	resp = e.do(t, http.MethodPost, "/approvals/a/accept", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExhausted_ReportsMessage(t *testing.T) {
	e := newEnv(t)
	req := buttonRequest("a")
	req["element"].(map[string]any)["classNames"] = []string{"ghost"}

	require.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/approvals", req).StatusCode)
	p := e.waitStatus(t, types.PatchError)
	assert.NotEmpty(t, p.PatchError)

	msgs := decodeBody[[]Message](t, e.do(t, http.MethodGet, "/messages", nil))
	require.Len(t, msgs, 1)
	assert.Equal(t, "system", msgs[0].Role)

	resp := e.do(t, http.MethodPost, "/approvals/a/accept", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPrepare_Errors(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/approvals", map[string]any{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := buttonRequest("a")
	req["tabId"] = "tab-9"
	resp = e.do(t, http.MethodPost, "/approvals", req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, err := http.Post(e.srv.URL+"/approvals", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSelectionChange_Cancels(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/approvals", buttonRequest("a")).StatusCode)

	resp := e.do(t, http.MethodPut, "/selection", map[string]any{
		"element": map[string]any{"tagName": "div", "id": "other"},
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/approvals/active", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 2, e.tab.count())
}

func TestCheckpointRoundTrip(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/approvals", buttonRequest("a")).StatusCode)
	e.waitStatus(t, types.PatchReady)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/approvals/a/accept", nil).StatusCode)
	patched, _ := e.fs.Content(appPath)

	resp := e.do(t, http.MethodPost, "/checkpoints", map[string]string{"name": "red"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	e.fs.Set(appPath, "broken")
	resp = e.do(t, http.MethodPost, "/checkpoints/red/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ := e.fs.Content(appPath)
	assert.Equal(t, patched, got)

	resp = e.do(t, http.MethodPost, "/checkpoints/missing/restore", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAutoApplySetting(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPut, "/settings/fast-path-auto-apply", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, e.set.FastPathAutoApply())

	require.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/approvals", buttonRequest("a")).StatusCode)
	require.Eventually(t, func() bool {
		got, _ := e.fs.Content(appPath)
		return got != appSource
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEditedFilesDismiss(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodDelete, "/edited-files", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	edited := decodeBody[[]history.EditedFile](t, e.do(t, http.MethodGet, "/edited-files", nil))
	assert.Empty(t, edited)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(approval.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(history.ErrSourceChanged))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestMessageLogIsBounded(t *testing.T) {
	l := NewMessageLog()
	for i := 0; i < maxMessages+5; i++ {
		l.SystemMessage(context.Background(), "m")
	}
	assert.Len(t, l.List(), maxMessages)
}
