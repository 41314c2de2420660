/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package editor holds the live customization session: the active template,
// the value store, the theme color and the QR destination. It recomputes the
// derived variable set and rendered markup on demand and notifies subscribers
// after every change.
package editor

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"flyerpro/internal/domain"
	applog "flyerpro/internal/log"
	"flyerpro/internal/placeholder"
	"flyerpro/internal/presets"
	"flyerpro/internal/qr"
	"flyerpro/internal/render"
	"flyerpro/internal/undo"
)

var (
	ErrEmptyName = errors.New("variable name is empty")
	ErrEmptyURL  = errors.New("image url is empty")
)

// EventKind says what changed.
type EventKind string

const (
	EventTemplate EventKind = "template"
	EventValue    EventKind = "value"
	EventTheme    EventKind = "theme"
	EventQR       EventKind = "qr"
	EventRestore  EventKind = "restore"
)

// Event is delivered to subscribers after a change has been applied.
type Event struct {
	Kind      EventKind
	Rendered  string
	Variables placeholder.VariableSet
	Theme     string
}

// Options configures a new Session.
type Options struct {
	Preset     string // defaults to presets.Default
	ThemeColor string // defaults to domain.DefaultThemeColor
	Mode       render.Mode
	QR         qr.Generator
	// History.MinInterval defaults to 750ms; a negative value disables coalescing.
	History undo.Config
}

// Session is safe for concurrent use.
type Session struct {
	mu       sync.RWMutex
	tpl      domain.Template
	values   domain.Values
	theme    string
	qrText   string
	gen      qr.Generator
	renderer render.Renderer
	history  *undo.History
	log      *slog.Logger

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// New creates a session opened on a preset.
func New(opts Options) (*Session, error) {
	name := opts.Preset
	if name == "" {
		name = presets.Default
	}
	p, err := presets.Get(name)
	if err != nil {
		return nil, err
	}
	theme := opts.ThemeColor
	if theme == "" {
		theme = domain.DefaultThemeColor
	}
	if _, err := domain.ParseColor(theme); err != nil {
		return nil, fmt.Errorf("theme color: %w", err)
	}
	if opts.History.MinInterval == 0 {
		opts.History.MinInterval = 750 * time.Millisecond
	}
	return &Session{
		tpl:      p.Template(),
		values:   domain.Values{},
		theme:    theme,
		gen:      opts.QR,
		renderer: render.Renderer{Mode: opts.Mode},
		history:  undo.NewHistory(opts.History),
		log:      applog.WithComponent("editor"),
		subs:     make(map[int]func(Event)),
	}, nil
}

// Subscribe registers fn for change events and returns a function that removes it.
func (s *Session) Subscribe(fn func(Event)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) notify(kind EventKind) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	s.mu.RLock()
	ev := Event{
		Kind:      kind,
		Rendered:  s.renderLocked(),
		Variables: placeholder.Scan(s.tpl.HTML),
		Theme:     s.theme,
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Template returns the active template.
func (s *Session) Template() domain.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tpl
}

// LoadPreset replaces the active template with a built-in preset.
func (s *Session) LoadPreset(name string) error {
	p, err := presets.Get(name)
	if err != nil {
		return err
	}
	s.SetTemplate(p.Template())
	s.log.Info("preset loaded", slog.String("preset", p.Name))
	return nil
}

// SetTemplate replaces the active template. Values are kept; entries for
// placeholders that no longer exist simply have no effect.
func (s *Session) SetTemplate(tpl domain.Template) {
	s.mu.Lock()
	if tpl.HTML == s.tpl.HTML && tpl.Name == s.tpl.Name {
		s.mu.Unlock()
		return
	}
	s.history.Record(s.tpl.HTML, time.Now())
	s.tpl = tpl
	s.mu.Unlock()
	s.notify(EventTemplate)
}

// SetHTML replaces the template markup and keeps its name.
func (s *Session) SetHTML(html string) {
	s.mu.RLock()
	name := s.tpl.Name
	s.mu.RUnlock()
	s.SetTemplate(domain.Template{Name: name, HTML: html})
}

// Insert splices text into the template at offset at, counted in UTF-16
// code units like a browser textarea selection. Offsets outside the
// template, including negative ones, append at the end; an offset inside a
// surrogate pair moves past the pair. It returns the offset just past the
// inserted text in the same units.
func (s *Session) Insert(text string, at int) int {
	s.mu.Lock()
	cur := s.tpl.HTML
	i := len(cur)
	if at >= 0 {
		i = byteIndex(cur, at)
	}
	s.history.Record(cur, time.Now())
	s.tpl.HTML = cur[:i] + text + cur[i:]
	s.mu.Unlock()
	s.notify(EventTemplate)
	return utf16Len(cur[:i]) + utf16Len(text)
}

// byteIndex maps a UTF-16 offset into s to a byte index on a rune boundary.
func byteIndex(s string, units int) int {
	n := 0
	for i, r := range s {
		if n >= units {
			return i
		}
		n += utf16.RuneLen(r)
	}
	return len(s)
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// InsertVariable cleans raw into an identifier and inserts its placeholder.
func (s *Session) InsertVariable(raw string, at int) (string, error) {
	name := placeholder.CleanName(raw)
	if name == "" {
		return "", ErrEmptyName
	}
	s.Insert(placeholder.Token(name), at)
	return name, nil
}

// InsertImage inserts an <img> element pointing at url.
func (s *Session) InsertImage(url string, at int) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrEmptyURL
	}
	s.Insert(ImageSnippet(url), at)
	return nil
}

// InsertQRPlaceholder inserts the reserved QR placeholder.
func (s *Session) InsertQRPlaceholder(at int) { s.Insert(placeholder.Token(domain.QRVariable), at) }

// ImageSnippet is the markup inserted for an image URL.
func ImageSnippet(url string) string {
	return fmt.Sprintf(`<img src="%s" style="width:100%%; max-width:200px; display:block; margin:10px auto; border-radius:8px;">`,
		strings.ReplaceAll(url, `"`, "&quot;"))
}

// Undo restores the template before the last edit.
func (s *Session) Undo() bool {
	s.mu.Lock()
	prev, ok := s.history.Undo(s.tpl.HTML)
	if ok {
		s.tpl.HTML = prev
	}
	s.mu.Unlock()
	if ok {
		s.notify(EventTemplate)
	}
	return ok
}

// Redo reapplies the last undone edit.
func (s *Session) Redo() bool {
	s.mu.Lock()
	next, ok := s.history.Redo(s.tpl.HTML)
	if ok {
		s.tpl.HTML = next
	}
	s.mu.Unlock()
	if ok {
		s.notify(EventTemplate)
	}
	return ok
}

// Variables scans the active template.
func (s *Session) Variables() placeholder.VariableSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return placeholder.Scan(s.tpl.HTML)
}

// SetValue stores a variable value, creating the entry on demand.
func (s *Session) SetValue(name, value string) {
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
	s.notify(EventValue)
}

// Values returns a copy of the value store.
func (s *Session) Values() domain.Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.Clone()
}

// Theme returns the current theme color.
func (s *Session) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// SetTheme changes the theme color and regenerates the QR image in it.
// An unparsable color is rejected and nothing changes.
func (s *Session) SetTheme(color string) error {
	color = strings.TrimSpace(color)
	if _, err := domain.ParseColor(color); err != nil {
		return fmt.Errorf("theme color: %w", err)
	}
	s.mu.Lock()
	prev := s.theme
	s.theme = color
	if err := s.regenerateQRLocked(); err != nil {
		s.theme = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.notify(EventTheme)
	return nil
}

// QRText returns the QR destination text.
func (s *Session) QRText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qrText
}

// SetQRText sets the QR destination and regenerates the QR_CODE value.
// An empty destination clears the value. When encoding fails nothing changes.
func (s *Session) SetQRText(text string) error {
	s.mu.Lock()
	prev := s.qrText
	s.qrText = text
	if err := s.regenerateQRLocked(); err != nil {
		s.qrText = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.notify(EventQR)
	return nil
}

func (s *Session) regenerateQRLocked() error {
	markup, err := s.gen.Markup(s.qrText, s.theme)
	if err != nil {
		// keep the previous image
		s.log.Warn("qr generation failed", slog.Any("err", err))
		return err
	}
	s.values[domain.QRVariable] = markup
	return nil
}

// Rendered substitutes the current values into the active template.
func (s *Session) Rendered() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renderLocked()
}

func (s *Session) renderLocked() string { return s.renderer.Render(s.tpl.HTML, s.values) }

// Snapshot captures the session for persistence.
func (s *Session) Snapshot(name string) domain.Flyer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vals := s.values.Clone()
	// QR markup is regenerated from qrText on restore
	delete(vals, domain.QRVariable)
	return domain.Flyer{
		Name:       name,
		Template:   s.tpl,
		Values:     vals,
		ThemeColor: s.theme,
		QRText:     s.qrText,
	}
}

// Restore replaces the whole session state with f and clears undo history.
func (s *Session) Restore(f domain.Flyer) error {
	theme := f.ThemeColor
	if theme == "" {
		theme = domain.DefaultThemeColor
	}
	if _, err := domain.ParseColor(theme); err != nil {
		return fmt.Errorf("theme color: %w", err)
	}
	s.mu.Lock()
	s.tpl = f.Template
	s.values = f.Values.Clone()
	if s.values == nil {
		s.values = domain.Values{}
	}
	s.theme = theme
	s.qrText = f.QRText
	err := s.regenerateQRLocked()
	s.history.Reset()
	s.mu.Unlock()
	s.notify(EventRestore)
	return err
}
