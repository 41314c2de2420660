/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package server exposes an editing session over HTTP: a small JSON API, a
// websocket live preview and the embedded browser UI.
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"flyerpro/internal/crash"
	"flyerpro/internal/editor"
	applog "flyerpro/internal/log"
	"flyerpro/internal/storage"
	"flyerpro/internal/telemetry"
	"flyerpro/internal/textlayout"
)

//go:embed ui/index.html
var uiFS embed.FS

// Options configures a Server.
type Options struct {
	Addr string
	// AdminToken guards template-editing endpoints; empty leaves them open.
	AdminToken  string
	FetchRemote bool
	ExportScale float64
	BaseName    string
	Fonts       *textlayout.FontLibrary

	// Library and Workspace are optional.
	Library   storage.Library
	Workspace *storage.Workspace
	Telemetry telemetry.Emitter
}

// Server is an HTTP front end for one editor session.
type Server struct {
	opts    Options
	session *editor.Session
	hub     *Hub
	log     *slog.Logger
	handler http.Handler

	// wsMu guards ws.Flyer against concurrent saves.
	wsMu     sync.Mutex
	unsub    func()
	closeOne sync.Once
}

// New wires routes around sess. Call Close when done.
func New(sess *editor.Session, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8080"
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Default()
	}
	s := &Server{
		opts:    opts,
		session: sess,
		hub:     NewHub(),
		log:     applog.WithComponent("server"),
	}
	s.unsub = sess.Subscribe(func(ev editor.Event) {
		s.hub.Broadcast(Message{
			Type:      msgRender,
			Kind:      string(ev.Kind),
			HTML:      ev.Rendered,
			Variables: ev.Variables,
			Theme:     ev.Theme,
		})
	})
	s.handler = s.withRequestID(s.withRecover(s.withLogging(s.routes())))
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub exposes the preview hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close detaches from the session and disconnects preview clients.
func (s *Server) Close() {
	s.closeOne.Do(func() {
		s.unsub()
		s.hub.Close()
	})
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.Close()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("stopped")
	return nil
}

func newRequestID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 64 {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(applog.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			var ws *storage.Workspace
			if s.opts.Workspace != nil {
				s.wsMu.Lock()
				snap := *s.opts.Workspace
				s.wsMu.Unlock()
				snap.Flyer = s.session.Snapshot(snap.Flyer.Name)
				ws = &snap
			}
			crash.Report(ws, rec, debug.Stack())
			writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (websocket hijack).
func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if r.URL.Path == "/ws" {
			// hijacked connections cannot be wrapped
			next.ServeHTTP(w, r)
			return
		}
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		lvl := slog.LevelDebug
		if sr.status >= 500 {
			lvl = slog.LevelError
		}
		s.log.Log(r.Context(), lvl, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sr.status),
			slog.Duration("dur", time.Since(start)))
	})
}

// admin wraps handlers that change the template.
func (s *Server) admin(h http.HandlerFunc) http.HandlerFunc {
	if s.opts.AdminToken == "" {
		return h
	}
	want := []byte(s.opts.AdminToken)
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="flyerpro"`)
			writeError(w, http.StatusUnauthorized, errors.New("admin token required"))
			return
		}
		h(w, r)
	}
}
