/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

// Abstractions for text measurement and line breaking used by the raster
// and PDF exporters. Sizes are CSS pixels; callers scale FontSpec.SizePx
// for high-density output.

import (
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// FontSpec describes a requested font.
type FontSpec struct {
	Family string // logical family name, lower case
	SizePx float32
	Weight int // 100..900
	Italic bool
}

// Bold reports whether the weight renders with a bold face.
func (f FontSpec) Bold() bool { return f.Weight >= 600 }

// Metrics provides font metrics in pixels for the resolved face.
type Metrics struct {
	Ascent, Descent, LineGap float32
}

// LineHeight is ascent plus descent plus gap.
func (m Metrics) LineHeight() float32 { return m.Ascent + m.Descent + m.LineGap }

// Span is a run of text with the same font and style.
type Span struct {
	Text     string
	Font     FontSpec
	Tracking float32 // px added between glyphs
	Leading  float32 // px added to the line height
	// Tag is carried through layout untouched so callers can attach
	// styling such as color to a run.
	Tag int
}

// Line is a single laid out line with width and ascent/descent.
type Line struct {
	Spans   []Span
	Width   float32
	Ascent  float32
	Descent float32
	Leading float32
}

// Height of the line including leading.
func (l Line) Height() float32 { return l.Ascent + l.Descent + l.Leading }

// TextBox is the result of laying out text into a box width.
type TextBox struct {
	Lines  []Line
	Width  float32
	Height float32
}

// Provider maps FontSpec to a concrete font.Face.
type Provider interface {
	Resolve(FontSpec) (font.Face, Metrics)
}

// Layouter performs line-breaking and measurement.
type Layouter interface {
	Layout(spans []Span, maxWidth float32) (TextBox, error)
}

// BasicProvider uses x/image/basicfont Face7x13 for deterministic tests.
// It ignores the requested size.
type BasicProvider struct{}

func (BasicProvider) Resolve(FontSpec) (font.Face, Metrics) {
	f := basicfont.Face7x13
	return f, metricsOf(f)
}

func metricsOf(f font.Face) Metrics {
	m := f.Metrics()
	return Metrics{
		Ascent:  float32(m.Ascent.Round()),
		Descent: float32(m.Descent.Round()),
		LineGap: float32(m.Height.Round() - m.Ascent.Round() - m.Descent.Round()),
	}
}

// WordWrapLayouter breaks on spaces and explicit newlines. It does not
// shape or hyphenate; a single word wider than the box gets a line of its own.
type WordWrapLayouter struct{ Provider Provider }

func NewWordWrap(provider Provider) *WordWrapLayouter { return &WordWrapLayouter{Provider: provider} }

func (l *WordWrapLayouter) Layout(spans []Span, maxWidth float32) (TextBox, error) {
	if l.Provider == nil {
		l.Provider = BasicProvider{}
	}
	var box TextBox
	var cur Line
	addLine := func() {
		if cur.Ascent == 0 && cur.Descent == 0 && len(spans) > 0 {
			_, met := l.Provider.Resolve(spans[0].Font)
			cur.Ascent, cur.Descent = met.Ascent, met.Descent+met.LineGap
		}
		box.Lines = append(box.Lines, cur)
		if cur.Width > box.Width {
			box.Width = cur.Width
		}
		box.Height += cur.Height()
		cur = Line{}
	}
	for _, sp := range spans {
		if sp.Text == "" {
			continue
		}
		face, met := l.Provider.Resolve(sp.Font)
		drawer := &font.Drawer{Face: face}
		grow := func() {
			if met.Ascent > cur.Ascent {
				cur.Ascent = met.Ascent
			}
			if d := met.Descent + met.LineGap; d > cur.Descent {
				cur.Descent = d
			}
			if sp.Leading > cur.Leading {
				cur.Leading = sp.Leading
			}
		}
		start := 0
		for i := 0; i <= len(sp.Text); i++ {
			if i < len(sp.Text) && sp.Text[i] != ' ' && sp.Text[i] != '\n' {
				continue
			}
			word := sp.Text[start:i]
			var sep byte
			if i < len(sp.Text) {
				sep = sp.Text[i]
			}
			w := advance(drawer, word, sp.Tracking)
			if maxWidth > 0 && cur.Width > 0 && cur.Width+w > maxWidth {
				trimTrailingSpace(&cur, l.Provider)
				addLine()
			}
			if word != "" {
				grow()
				cur.Spans = appendText(cur.Spans, word, sp)
				cur.Width += w
			}
			switch sep {
			case ' ':
				if cur.Width > 0 {
					cur.Spans = appendText(cur.Spans, " ", sp)
					cur.Width += advance(drawer, " ", sp.Tracking)
				}
			case '\n':
				grow()
				trimTrailingSpace(&cur, l.Provider)
				addLine()
			}
			start = i + 1
		}
	}
	if len(cur.Spans) > 0 || len(box.Lines) == 0 {
		trimTrailingSpace(&cur, l.Provider)
		addLine()
	}
	return box, nil
}

// appendText merges runs of the same style so each line holds few spans.
func appendText(spans []Span, text string, style Span) []Span {
	if n := len(spans); n > 0 && sameStyle(spans[n-1], style) {
		spans[n-1].Text += text
		return spans
	}
	style.Text = text
	return append(spans, style)
}

func sameStyle(a, b Span) bool {
	return a.Font == b.Font && a.Tracking == b.Tracking && a.Leading == b.Leading && a.Tag == b.Tag
}

func trimTrailingSpace(l *Line, p Provider) {
	n := len(l.Spans)
	if n == 0 {
		return
	}
	last := &l.Spans[n-1]
	if len(last.Text) == 0 || last.Text[len(last.Text)-1] != ' ' {
		return
	}
	face, _ := p.Resolve(last.Font)
	l.Width -= advance(&font.Drawer{Face: face}, " ", last.Tracking)
	last.Text = last.Text[:len(last.Text)-1]
	if last.Text == "" {
		l.Spans = l.Spans[:n-1]
	}
}

func advance(d *font.Drawer, s string, tracking float32) float32 {
	w := float32(d.MeasureString(s)) / 64 // fixed.Int26_6 to px
	if tracking != 0 {
		if n := utf8.RuneCountInString(s); n > 1 {
			w += tracking * float32(n-1)
		}
	}
	return w
}

// Measure returns the width and line height of spans set on one line.
func Measure(provider Provider, spans []Span) (w, h float32) {
	if provider == nil {
		provider = BasicProvider{}
	}
	for _, sp := range spans {
		face, met := provider.Resolve(sp.Font)
		d := &font.Drawer{Face: face}
		w += advance(d, sp.Text, sp.Tracking)
		if lh := met.Ascent + met.Descent + sp.Leading; lh > h {
			h = lh
		}
	}
	if len(spans) == 0 {
		_, met := provider.Resolve(FontSpec{})
		h = met.Ascent + met.Descent
	}
	return w, h
}
