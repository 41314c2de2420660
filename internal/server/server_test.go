/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"flyerpro/internal/domain"
	"flyerpro/internal/editor"
	"flyerpro/internal/placeholder"
	"flyerpro/internal/storage"
	"flyerpro/internal/undo"
)

type eventLog struct{ names []string }

func (e *eventLog) Event(name string, _ map[string]any) { e.names = append(e.names, name) }

type fixture struct {
	srv    *Server
	ts     *httptest.Server
	sess   *editor.Session
	events *eventLog
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	sess, err := editor.New(editor.Options{History: undo.Config{MinInterval: -1}})
	if err != nil {
		t.Fatalf("editor.New: %v", err)
	}
	ev := &eventLog{}
	opts.Telemetry = ev
	srv := New(sess, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &fixture{srv: srv, ts: ts, sess: sess, events: ev}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, b)
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealthAndIndex(t *testing.T) {
	f := newFixture(t, Options{})
	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
	if got := decode[map[string]any](t, resp); got["status"] != "ok" {
		t.Fatalf("health = %v", got)
	}

	resp = f.do(t, http.MethodGet, "/", "", nil)
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "<title>Flyer Pro</title>") {
		t.Fatalf("index page not served")
	}
	expectStatus(t, f.do(t, http.MethodGet, "/nope", "", nil), http.StatusNotFound)
}

func TestAdminTokenGuardsTemplateEdits(t *testing.T) {
	f := newFixture(t, Options{AdminToken: "s3cret"})
	body := map[string]any{"html": "<p>{{A}}</p>"}

	resp := f.do(t, http.MethodPut, "/api/template", "", body)
	expectStatus(t, resp, http.StatusUnauthorized)
	expectStatus(t, f.do(t, http.MethodPut, "/api/template", "wrong", body), http.StatusUnauthorized)
	expectStatus(t, f.do(t, http.MethodPut, "/api/template", "s3cret", body), http.StatusOK)

	// customization stays open
	expectStatus(t, f.do(t, http.MethodPut, "/api/values/A", "", map[string]string{"value": "x"}), http.StatusOK)
	if got := f.sess.Rendered(); got != "<p>x</p>" {
		t.Fatalf("rendered = %q", got)
	}
}

func TestPresetsListAndLoad(t *testing.T) {
	f := newFixture(t, Options{})
	resp := f.do(t, http.MethodGet, "/api/presets", "", nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[[]map[string]any](t, resp)
	if len(list) != 3 || list[0]["name"] != "promo" {
		t.Fatalf("presets = %v", list)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/presets/event/load", "", nil), http.StatusOK)
	if f.sess.Template().Name != "event" {
		t.Fatalf("template = %q", f.sess.Template().Name)
	}
	expectStatus(t, f.do(t, http.MethodPost, "/api/presets/nope/load", "", nil), http.StatusNotFound)
	if diff := cmp.Diff([]string{"preset.load"}, f.events.names); diff != "" {
		t.Fatalf("telemetry (-want +got):\n%s", diff)
	}
}

func TestTemplateEditing(t *testing.T) {
	f := newFixture(t, Options{})
	expectStatus(t, f.do(t, http.MethodPut, "/api/template", "", map[string]any{"name": "mine", "html": "<p>Hi </p>"}), http.StatusOK)

	resp := f.do(t, http.MethodPost, "/api/template/insert", "", map[string]any{"kind": "variable", "value": "first name", "at": 6})
	expectStatus(t, resp, http.StatusOK)
	got := decode[map[string]any](t, resp)
	if got["name"] != "FIRST_NAME" || got["html"] != "<p>Hi {{FIRST_NAME}}</p>" {
		t.Fatalf("insert variable = %v", got)
	}
	expectStatus(t, f.do(t, http.MethodPost, "/api/template/insert", "", map[string]any{"kind": "qr"}), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodPost, "/api/template/insert", "", map[string]any{"kind": "variable", "value": "!!"}), http.StatusBadRequest)
	expectStatus(t, f.do(t, http.MethodPost, "/api/template/insert", "", map[string]any{"kind": "image", "value": " "}), http.StatusBadRequest)
	expectStatus(t, f.do(t, http.MethodPost, "/api/template/insert", "", map[string]any{"kind": "video"}), http.StatusBadRequest)

	resp = f.do(t, http.MethodGet, "/api/variables", "", nil)
	expectStatus(t, resp, http.StatusOK)
	vars := decode[placeholder.VariableSet](t, resp)
	if diff := cmp.Diff(placeholder.VariableSet{Names: []string{"FIRST_NAME"}, HasQR: true}, vars); diff != "" {
		t.Fatalf("variables (-want +got):\n%s", diff)
	}

	resp = f.do(t, http.MethodPost, "/api/template/undo", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if u := decode[map[string]any](t, resp); u["changed"] != true || u["html"] != "<p>Hi {{FIRST_NAME}}</p>" {
		t.Fatalf("undo = %v", u)
	}
	resp = f.do(t, http.MethodPost, "/api/template/redo", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if u := decode[map[string]any](t, resp); u["changed"] != true {
		t.Fatalf("redo = %v", u)
	}
	expectStatus(t, f.do(t, http.MethodPut, "/api/template", "", map[string]any{"bogus": 1}), http.StatusBadRequest)
}

func TestValuesThemeQRAndRender(t *testing.T) {
	f := newFixture(t, Options{})
	expectStatus(t, f.do(t, http.MethodPut, "/api/template", "", map[string]any{"html": "<h1>{{TITLE}}</h1>{{QR_CODE}}"}), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodPut, "/api/values/TITLE", "", map[string]string{"value": "Sale"}), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodPut, "/api/values/QR_CODE", "", map[string]string{"value": "x"}), http.StatusBadRequest)
	expectStatus(t, f.do(t, http.MethodPut, "/api/values/bad%20name", "", map[string]string{"value": "x"}), http.StatusBadRequest)

	resp := f.do(t, http.MethodGet, "/api/values", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if vals := decode[map[string]string](t, resp); vals["TITLE"] != "Sale" {
		t.Fatalf("values = %v", vals)
	}

	expectStatus(t, f.do(t, http.MethodPut, "/api/theme", "", map[string]string{"color": "not-a-color"}), http.StatusBadRequest)
	expectStatus(t, f.do(t, http.MethodPut, "/api/theme", "", map[string]string{"color": "#ff0000"}), http.StatusOK)
	if f.sess.Theme() != "#ff0000" {
		t.Fatalf("theme = %q", f.sess.Theme())
	}

	expectStatus(t, f.do(t, http.MethodPut, "/api/qr", "", map[string]string{"text": "https://example.com"}), http.StatusOK)
	resp = f.do(t, http.MethodGet, "/api/render", "", nil)
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(b), "<h1>Sale</h1>") || !strings.Contains(string(b), "data:image/png;base64,") {
		t.Fatalf("render = %s", b)
	}

	expectStatus(t, f.do(t, http.MethodPut, "/api/qr", "", map[string]string{"text": ""}), http.StatusOK)
	resp = f.do(t, http.MethodGet, "/api/render", "", nil)
	b, _ = io.ReadAll(resp.Body)
	if string(b) != "<h1>Sale</h1>" {
		t.Fatalf("render after clearing QR = %q", b)
	}
}

func TestLowercaseVariableCanBeFilled(t *testing.T) {
	f := newFixture(t, Options{})
	f.sess.SetHTML("<p>Hello {{name}}</p>")
	expectStatus(t, f.do(t, http.MethodPut, "/api/values/name", "", map[string]string{"value": "World"}), http.StatusOK)
	if got := f.sess.Rendered(); got != "<p>Hello World</p>" {
		t.Fatalf("rendered = %q", got)
	}
}

func TestQRUpdateFailureLeavesState(t *testing.T) {
	f := newFixture(t, Options{})
	expectStatus(t, f.do(t, http.MethodPut, "/api/qr", "", map[string]string{"text": "https://example.com"}), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodPut, "/api/qr", "", map[string]string{"text": strings.Repeat("x", 8000)}), http.StatusBadRequest)
	if got := f.sess.QRText(); got != "https://example.com" {
		t.Fatalf("QRText() = %q after rejected update", got)
	}
}

func TestExportEndpoints(t *testing.T) {
	ctx := context.Background()
	lib, err := storage.OpenSQLite(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer lib.Close()
	f := newFixture(t, Options{Library: lib, ExportScale: 1})
	expectStatus(t, f.do(t, http.MethodPut, "/api/template", "", map[string]any{"html": `<div style="width:100px;height:50px;background:var(--theme-color)">{{T}}</div>`}), http.StatusOK)

	resp := f.do(t, http.MethodGet, "/api/export/html?name=Summer%20Sale", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="Summer-Sale.html"` {
		t.Fatalf("content-disposition = %q", cd)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "--theme-color: "+domain.DefaultThemeColor) {
		t.Fatalf("html export lacks theme color")
	}

	resp = f.do(t, http.MethodGet, "/api/export/png", "", nil)
	expectStatus(t, resp, http.StatusOK)
	b, _ = io.ReadAll(resp.Body)
	if !bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatalf("png export is not a PNG")
	}
	if resp.Header.Get("Content-Disposition") != `attachment; filename="my-flyer.png"` {
		t.Fatalf("default name not used: %q", resp.Header.Get("Content-Disposition"))
	}

	resp = f.do(t, http.MethodGet, "/api/export/pdf", "", nil)
	expectStatus(t, resp, http.StatusOK)
	b, _ = io.ReadAll(resp.Body)
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		t.Fatalf("pdf export is not a PDF")
	}
	expectStatus(t, f.do(t, http.MethodGet, "/api/export/gif", "", nil), http.StatusNotFound)

	if diff := cmp.Diff([]string{"export.html", "export.png", "export.pdf"}, f.events.names); diff != "" {
		t.Fatalf("telemetry (-want +got):\n%s", diff)
	}
	resp = f.do(t, http.MethodGet, "/api/exports", "", nil)
	expectStatus(t, resp, http.StatusOK)
	recs := decode[[]storage.ExportRecord](t, resp)
	if len(recs) != 3 || recs[0].Format != "pdf" || recs[2].Name != "Summer-Sale" {
		t.Fatalf("export history = %+v", recs)
	}
}

func TestLibraryEndpoints(t *testing.T) {
	f := newFixture(t, Options{})
	expectStatus(t, f.do(t, http.MethodGet, "/api/library", "", nil), http.StatusServiceUnavailable)

	lib, err := storage.OpenSQLite(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer lib.Close()
	f = newFixture(t, Options{Library: lib})

	expectStatus(t, f.do(t, http.MethodPost, "/api/library", "", map[string]any{"name": " "}), http.StatusBadRequest)
	resp := f.do(t, http.MethodPost, "/api/library", "", map[string]any{"name": "current"})
	expectStatus(t, resp, http.StatusCreated)
	if e := decode[storage.Entry](t, resp); e.HTML != f.sess.Template().HTML {
		t.Fatalf("saved entry does not hold the session template")
	}
	expectStatus(t, f.do(t, http.MethodPost, "/api/library", "", map[string]any{"name": "plain text", "html": "<p>{{X}}</p>"}), http.StatusCreated)
	expectStatus(t, f.do(t, http.MethodPost, "/api/library", "", map[string]any{"name": "plain text", "html": "<p>{{Y}}</p>"}), http.StatusCreated)

	resp = f.do(t, http.MethodGet, "/api/library", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]storage.Entry](t, resp); len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	resp = f.do(t, http.MethodGet, "/api/library?q=%7B%7BY", "", nil)
	if list := decode[[]storage.Entry](t, resp); len(list) != 1 || list[0].Name != "plain text" {
		t.Fatalf("search = %+v", list)
	}
	resp = f.do(t, http.MethodGet, "/api/library/plain%20text/revisions", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if revs := decode[[]storage.Revision](t, resp); len(revs) != 1 || revs[0].HTML != "<p>{{X}}</p>" {
		t.Fatalf("revisions = %+v", revs)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/library/plain%20text/load", "", nil), http.StatusOK)
	if got := f.sess.Template(); got.Name != "plain text" || got.HTML != "<p>{{Y}}</p>" {
		t.Fatalf("loaded template = %+v", got)
	}
	expectStatus(t, f.do(t, http.MethodGet, "/api/library/missing", "", nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodDelete, "/api/library/current", "", nil), http.StatusNoContent)
	expectStatus(t, f.do(t, http.MethodDelete, "/api/library/current", "", nil), http.StatusNotFound)
}

func TestWorkspaceSave(t *testing.T) {
	f := newFixture(t, Options{})
	expectStatus(t, f.do(t, http.MethodPost, "/api/workspace/save", "", nil), http.StatusConflict)

	ws, err := storage.Init(t.TempDir(), domain.Flyer{Name: "poster", Notes: "keep me", Template: domain.Template{Name: "x", HTML: "<p/>"}})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	f = newFixture(t, Options{Workspace: ws})
	f.sess.SetValue("NAMA_PRODUK", "Kopi")
	expectStatus(t, f.do(t, http.MethodPost, "/api/workspace/save", "", nil), http.StatusOK)

	got, err := storage.Open(ws.Root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.Flyer.Values["NAMA_PRODUK"] != "Kopi" || got.Flyer.Notes != "keep me" || got.Flyer.Name != "poster" {
		t.Fatalf("saved flyer = %+v", got.Flyer)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	f := newFixture(t, Options{})
	h := f.srv.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebsocketPushesRenders(t *testing.T) {
	f := newFixture(t, Options{})
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.Type != "render" || first.Theme != domain.DefaultThemeColor || !first.Variables.Contains("NAMA_PRODUK") {
		t.Fatalf("initial message = %+v", first)
	}

	// wait until the hub knows the client before changing state
	deadline := time.Now().Add(2 * time.Second)
	for f.srv.Hub().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	f.sess.SetValue("NAMA_PRODUK", "Teh Manis")

	var next Message
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Kind != string(editor.EventValue) || !strings.Contains(next.HTML, "Teh Manis") {
		t.Fatalf("update = %+v", next)
	}
}

func TestHubBroadcastAndClose(t *testing.T) {
	h := NewHub()
	id, ch := h.Register()
	if n := h.Broadcast(Message{Type: "render", HTML: "a"}); n != 1 {
		t.Fatalf("delivered = %d", n)
	}
	if m := <-ch; m.HTML != "a" {
		t.Fatalf("message = %+v", m)
	}
	for i := 0; i < clientBuffer+5; i++ {
		h.Broadcast(Message{HTML: "x"})
	}
	if len(ch) != clientBuffer {
		t.Fatalf("buffered = %d", len(ch))
	}
	h.Unregister(id)
	h.Unregister(id)
	if h.Len() != 0 {
		t.Fatalf("clients = %d", h.Len())
	}
	h.Close()
	if _, ch := h.Register(); ch == nil {
		t.Fatalf("nil channel after close")
	} else if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after hub close")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	sess, err := editor.New(editor.Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv := New(sess, Options{Addr: "127.0.0.1:0", Telemetry: &eventLog{}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
