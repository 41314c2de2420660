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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flyerpro/internal/domain"
	"flyerpro/internal/editor"
	"flyerpro/internal/export"
	"flyerpro/internal/placeholder"
	"flyerpro/internal/presets"
	"flyerpro/internal/storage"
	"flyerpro/internal/telemetry"
	"flyerpro/internal/version"
)

const maxBodyBytes = 1 << 20

var errNoLibrary = errors.New("template library is not configured")

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("GET /api/presets", s.handlePresets)
	mux.HandleFunc("POST /api/presets/{name}/load", s.admin(s.handleLoadPreset))

	mux.HandleFunc("GET /api/template", s.handleGetTemplate)
	mux.HandleFunc("PUT /api/template", s.admin(s.handlePutTemplate))
	mux.HandleFunc("POST /api/template/insert", s.admin(s.handleInsert))
	mux.HandleFunc("POST /api/template/undo", s.admin(s.handleUndo))
	mux.HandleFunc("POST /api/template/redo", s.admin(s.handleRedo))

	mux.HandleFunc("GET /api/variables", s.handleVariables)
	mux.HandleFunc("GET /api/values", s.handleValues)
	mux.HandleFunc("PUT /api/values/{name}", s.handlePutValue)
	mux.HandleFunc("PUT /api/theme", s.handlePutTheme)
	mux.HandleFunc("PUT /api/qr", s.handlePutQR)
	mux.HandleFunc("GET /api/render", s.handleRender)
	mux.HandleFunc("GET /api/export/{format}", s.handleExport)

	mux.HandleFunc("GET /api/library", s.handleLibraryList)
	mux.HandleFunc("POST /api/library", s.admin(s.handleLibrarySave))
	mux.HandleFunc("GET /api/library/{name}", s.handleLibraryGet)
	mux.HandleFunc("DELETE /api/library/{name}", s.admin(s.handleLibraryDelete))
	mux.HandleFunc("POST /api/library/{name}/load", s.admin(s.handleLibraryLoad))
	mux.HandleFunc("GET /api/library/{name}/revisions", s.handleLibraryRevisions)
	mux.HandleFunc("GET /api/exports", s.handleExports)

	mux.HandleFunc("POST /api/workspace/save", s.admin(s.handleWorkspaceSave))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	b, err := uiFS.ReadFile("ui/index.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
		"clients": s.hub.Len(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrade(w, r)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	id, ch := s.hub.Register()
	l := s.log.With(slog.Int("client", id))
	l.Debug("preview client connected")

	// initial state so the client does not wait for the first edit
	if err := conn.writeJSON(s.currentMessage()); err != nil {
		s.hub.Unregister(id)
		_ = conn.close()
		return
	}

	// reader: tracks pongs and notices when the client goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.c.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.c.SetPongHandler(func(string) error {
			return conn.c.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer func() {
		ticker.Stop()
		s.hub.Unregister(id)
		_ = conn.close()
		l.Debug("preview client disconnected")
	}()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.writeJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) currentMessage() Message {
	return Message{
		Type:      msgRender,
		HTML:      s.session.Rendered(),
		Variables: s.session.Variables(),
		Theme:     s.session.Theme(),
	}
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, presets.All())
}

func (s *Server) handleLoadPreset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.session.LoadPreset(name); err != nil {
		if errors.Is(err, presets.ErrUnknownPreset) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.opts.Telemetry.Event(telemetry.EventPresetLoad, map[string]any{"preset": name})
	writeJSON(w, http.StatusOK, s.session.Template())
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Template())
}

func (s *Server) handlePutTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name *string `json:"name"`
		HTML string  `json:"html"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Name != nil {
		s.session.SetTemplate(domain.Template{Name: *body.Name, HTML: body.HTML})
	} else {
		s.session.SetHTML(body.HTML)
	}
	writeJSON(w, http.StatusOK, s.session.Template())
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
		At    *int   `json:"at"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	at := -1
	if body.At != nil {
		at = *body.At
	}
	resp := map[string]any{}
	switch strings.ToLower(body.Kind) {
	case "variable":
		name, err := s.session.InsertVariable(body.Value, at)
		if err != nil {
			writeInsertError(w, err)
			return
		}
		resp["name"] = name
	case "image":
		if err := s.session.InsertImage(body.Value, at); err != nil {
			writeInsertError(w, err)
			return
		}
	case "qr":
		s.session.InsertQRPlaceholder(at)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown insert kind %q", body.Kind))
		return
	}
	resp["html"] = s.session.Template().HTML
	writeJSON(w, http.StatusOK, resp)
}

func writeInsertError(w http.ResponseWriter, err error) {
	if errors.Is(err, editor.ErrEmptyName) || errors.Is(err, editor.ErrEmptyURL) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) handleUndo(w http.ResponseWriter, _ *http.Request) {
	changed := s.session.Undo()
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "html": s.session.Template().HTML})
}

func (s *Server) handleRedo(w http.ResponseWriter, _ *http.Request) {
	changed := s.session.Redo()
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "html": s.session.Template().HTML})
}

func (s *Server) handleVariables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Variables())
}

func (s *Server) handleValues(w http.ResponseWriter, _ *http.Request) {
	vals := s.session.Values()
	if vals == nil {
		vals = domain.Values{}
	}
	writeJSON(w, http.StatusOK, vals)
}

func (s *Server) handlePutValue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == domain.QRVariable {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s is generated from the QR destination", domain.QRVariable))
		return
	}
	if !placeholder.IsIdentifier(name) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid variable name %q", name))
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.session.SetValue(name, body.Value)
	writeJSON(w, http.StatusOK, map[string]string{name: body.Value})
}

func (s *Server) handlePutTheme(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Color string `json:"color"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.session.SetTheme(body.Color); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"color": s.session.Theme()})
}

func (s *Server) handlePutQR(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.session.SetQRText(body.Text); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": s.session.QRText()})
}

func (s *Server) handleRender(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, s.session.Rendered())
}

func (s *Server) pngOptions() export.PNGOptions {
	return export.PNGOptions{Scale: s.opts.ExportScale, Fonts: s.opts.Fonts, FetchRemote: s.opts.FetchRemote}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.PathValue("format"))
	base := export.SafeBaseName(r.URL.Query().Get("name"))
	if base == "" {
		base = export.SafeBaseName(s.opts.BaseName)
	}
	if base == "" {
		base = export.DefaultBaseName
	}
	rendered, theme := s.session.Rendered(), s.session.Theme()
	l := s.log.With(slog.String("format", format), slog.String("name", base))

	var (
		buf         bytes.Buffer
		contentType string
		event       string
		err         error
	)
	switch format {
	case export.FormatHTML:
		contentType, event = "text/html; charset=utf-8", telemetry.EventExportHTML
		err = export.WriteHTML(&buf, base, rendered, theme)
	case export.FormatPNG:
		contentType, event = "image/png", telemetry.EventExportPNG
		var b []byte
		b, err = export.RasterizePNG(r.Context(), rendered, theme, s.pngOptions())
		buf.Write(b)
	case export.FormatPDF:
		contentType, event = "application/pdf", telemetry.EventExportPDF
		err = export.WritePDF(r.Context(), &buf, rendered, theme, export.PDFOptions{PNGOptions: s.pngOptions(), Title: base})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", export.ErrUnknownFormat, format))
		return
	}
	if err != nil {
		l.Error("export failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, fmt.Errorf("export %s: %w", format, err))
		return
	}

	filename := base + "." + format
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())

	s.opts.Telemetry.Event(event, map[string]any{"bytes": buf.Len()})
	if s.opts.Library != nil {
		rec := storage.ExportRecord{Name: base, Format: format, Path: filename, Bytes: int64(buf.Len())}
		if _, err := s.opts.Library.RecordExport(r.Context(), rec); err != nil {
			l.Warn("record export failed", slog.Any("err", err))
		}
	}
	l.Info("export served", slog.Int("bytes", buf.Len()))
}

func (s *Server) library(w http.ResponseWriter) (storage.Library, bool) {
	if s.opts.Library == nil {
		writeError(w, http.StatusServiceUnavailable, errNoLibrary)
		return nil, false
	}
	return s.opts.Library, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func queryLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return def
}

func (s *Server) handleLibraryList(w http.ResponseWriter, r *http.Request) {
	lib, ok := s.library(w)
	if !ok {
		return
	}
	var (
		entries []storage.Entry
		err     error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		entries, err = lib.Search(r.Context(), q, queryLimit(r, 50))
	} else {
		entries, err = lib.List(r.Context())
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLibrarySave(w http.ResponseWriter, r *http.Request) {
	lib, ok := s.library(w)
	if !ok {
		return
	}
	var body struct {
		Name string  `json:"name"`
		HTML *string `json:"html"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tpl := s.session.Template()
	tpl.Name = strings.TrimSpace(body.Name)
	if tpl.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("template name is required"))
		return
	}
	if body.HTML != nil {
		tpl.HTML = *body.HTML
	}
	if err := lib.Save(r.Context(), tpl); err != nil {
		writeStoreError(w, err)
		return
	}
	e, err := lib.Get(r.Context(), tpl.Name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleLibraryGet(w http.ResponseWriter, r *http.Request) {
	lib, ok := s.library(w)
	if !ok {
		return
	}
	e, err := lib.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleLibraryDelete(w http.ResponseWriter, r *http.Request) {
	lib, ok := s.library(w)
	if !ok {
		return
	}
	if err := lib.Delete(r.Context(), r.PathValue("name")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLibraryLoad(w http.ResponseWriter, r *http.Request) {
	lib, ok := s.library(w)
	if !ok {
		return
	}
	e, err := lib.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.session.SetTemplate(e.Template())
	writeJSON(w, http.StatusOK, s.session.Template())
}

func (s *Server) handleLibraryRevisions(w http.ResponseWriter, r *http.Request) {
	lib, ok := s.library(w)
	if !ok {
		return
	}
	revs, err := lib.Revisions(r.Context(), r.PathValue("name"), queryLimit(r, storage.MaxRevisions))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	lib, ok := s.library(w)
	if !ok {
		return
	}
	recs, err := lib.Exports(r.Context(), queryLimit(r, 50))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleWorkspaceSave(w http.ResponseWriter, _ *http.Request) {
	ws := s.opts.Workspace
	if ws == nil {
		writeError(w, http.StatusConflict, errors.New("no workspace is open"))
		return
	}
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	notes := ws.Flyer.Notes
	ws.Flyer = s.session.Snapshot(ws.Flyer.Name)
	ws.Flyer.Notes = notes
	if err := storage.Save(ws); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.Flyer)
}
