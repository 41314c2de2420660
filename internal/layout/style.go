/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package layout

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aymerick/douceur/parser"

	"flyerpro/internal/domain"
	"flyerpro/internal/textlayout"
)

var varRef = regexp.MustCompile(`var\(\s*(--[A-Za-z0-9_-]+)\s*(?:,\s*([^)]*))?\)`)

// declarations parses an inline style attribute into a property map.
// Later declarations win unless an earlier one is !important.
func declarations(style string, vars map[string]string) map[string]string {
	out := map[string]string{}
	style = strings.TrimSpace(style)
	if style == "" {
		return out
	}
	// the parser only commits a declaration at its terminator
	if !strings.HasSuffix(style, ";") {
		style += ";"
	}
	decls, err := parser.ParseDeclarations(style)
	if err != nil {
		return out
	}
	important := map[string]bool{}
	for _, d := range decls {
		prop := strings.ToLower(strings.TrimSpace(d.Property))
		if important[prop] && !d.Important {
			continue
		}
		out[prop] = resolveVars(strings.TrimSpace(d.Value), vars)
		if d.Important {
			important[prop] = true
		}
	}
	return out
}

func resolveVars(v string, vars map[string]string) string {
	if !strings.Contains(v, "var(") {
		return v
	}
	return varRef.ReplaceAllStringFunc(v, func(m string) string {
		sub := varRef.FindStringSubmatch(m)
		if val, ok := vars[sub[1]]; ok {
			return val
		}
		return strings.TrimSpace(sub[2])
	})
}

// length is a CSS length restricted to px, %, em and auto.
type length struct {
	v    float64
	unit string // "px", "%", "em", "auto" or "" when unset
}

func (l length) set() bool  { return l.unit != "" }
func (l length) auto() bool { return l.unit == "auto" }

// px resolves l against the reference width for percentages and the font
// size for em.
func (l length) px(ref, fontSize float64) float64 {
	switch l.unit {
	case "px":
		return l.v
	case "%":
		return l.v * ref / 100
	case "em", "rem":
		return l.v * fontSize
	}
	return 0
}

func parseLength(s string) length {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none", "initial", "inherit":
		return length{}
	case "auto":
		return length{unit: "auto"}
	case "0":
		return length{unit: "px"}
	}
	for _, u := range []string{"px", "%", "rem", "em", "pt"} {
		if num, ok := strings.CutSuffix(s, u); ok {
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return length{}
			}
			if u == "pt" {
				return length{v: f * 96 / 72, unit: "px"}
			}
			return length{v: f, unit: u}
		}
	}
	return length{}
}

// fields splits a CSS value on whitespace outside parentheses.
func fields(v string) []string {
	var out []string
	depth, start := 0, -1
	for i, r := range v {
		switch {
		case r == '(':
			depth++
		case r == ')':
			depth--
		case (r == ' ' || r == '\t' || r == '\n') && depth == 0:
			if start >= 0 {
				out = append(out, v[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, v[start:])
	}
	return out
}

// edges expands a 1 to 4 value shorthand into top, right, bottom, left.
func edges(v string) [4]length {
	var e [4]length
	f := fields(v)
	switch len(f) {
	case 1:
		l := parseLength(f[0])
		e = [4]length{l, l, l, l}
	case 2:
		a, b := parseLength(f[0]), parseLength(f[1])
		e = [4]length{a, b, a, b}
	case 3:
		a, b, c := parseLength(f[0]), parseLength(f[1]), parseLength(f[2])
		e = [4]length{a, b, c, b}
	case 4:
		for i := range e {
			e[i] = parseLength(f[i])
		}
	}
	return e
}

const (
	top = iota
	right
	bottom
	left
)

var sideNames = [4]string{"top", "right", "bottom", "left"}

type border struct {
	width float64
	color domain.Color
}

func parseBorder(v string, fallback domain.Color) border {
	b := border{color: fallback}
	for _, tok := range fields(v) {
		switch strings.ToLower(tok) {
		case "none", "hidden":
			return border{}
		case "solid", "double", "dashed", "dotted", "groove", "ridge", "inset", "outset":
			continue
		case "thin":
			b.width = 1
			continue
		case "medium":
			b.width = 3
			continue
		case "thick":
			b.width = 5
			continue
		}
		if l := parseLength(tok); l.unit == "px" {
			b.width = l.v
			continue
		}
		if c, err := domain.ParseColor(tok); err == nil {
			b.color = c
		}
	}
	return b
}

// parseBackground picks the first color token of a background shorthand.
func parseBackground(v string) (domain.Color, bool) {
	if c, err := domain.ParseColor(v); err == nil {
		return c, true
	}
	for _, tok := range fields(v) {
		if c, err := domain.ParseColor(tok); err == nil {
			return c, true
		}
	}
	return domain.Color{}, false
}

// style is the inherited part of the computed style.
type style struct {
	color      domain.Color
	font       textlayout.FontSpec
	align      string
	tracking   float32
	lineHeight float64 // multiplier of the font size; 0 means normal
	upper      bool
	opacity    float64
}

// box is the non-inherited part.
type box struct {
	display    string
	position   string
	direction  string
	justify    string
	gap        float64
	margin     [4]length
	padding    [4]length
	inset      [4]length
	width      length
	height     length
	maxWidth   length
	background domain.Color
	hasBg      bool
	radius     length
	borders    [4]border
}

func (l *layouter) compute(tag string, decls map[string]string, parent style) (style, box) {
	s := parent
	if ts, ok := textlayout.GetStyle(tag); ok && tag != "body" {
		s.font.SizePx = ts.Font.SizePx * parent.font.SizePx / 16
		if ts.Font.Weight > s.font.Weight {
			s.font.Weight = ts.Font.Weight
		}
		s.font.Italic = s.font.Italic || ts.Font.Italic
		if ts.Font.Family == textlayout.FamilyMono {
			s.font.Family = ts.Font.Family
		}
	}
	var b box
	switch tag {
	case "span", "b", "strong", "em", "i", "u", "small", "a", "sup", "sub", "label", "code", "br":
		b.display = "inline"
	case "img":
		b.display = "inline-block"
	default:
		b.display = "block"
	}
	switch tag {
	case "p":
		b.margin[top] = length{v: 1, unit: "em"}
		b.margin[bottom] = length{v: 1, unit: "em"}
	case "h1":
		b.margin[top] = length{v: 0.67, unit: "em"}
		b.margin[bottom] = length{v: 0.67, unit: "em"}
	case "h2", "h3", "h4":
		b.margin[top] = length{v: 0.83, unit: "em"}
		b.margin[bottom] = length{v: 0.83, unit: "em"}
	}
	s.opacity = parent.opacity
	if s.opacity == 0 {
		s.opacity = 1
	}

	if v, ok := decls["font-size"]; ok {
		if fs := parseLength(v); fs.set() && !fs.auto() {
			s.font.SizePx = float32(fs.px(float64(parent.font.SizePx), float64(parent.font.SizePx)))
		}
	}
	if v, ok := decls["color"]; ok {
		if c, err := domain.ParseColor(v); err == nil {
			s.color = c
		}
	}
	fontSize := float64(s.font.SizePx)
	for prop, v := range decls {
		switch prop {
		case "font-weight":
			s.font.Weight = parseWeight(v, s.font.Weight)
		case "font-style":
			s.font.Italic = strings.Contains(v, "italic") || strings.Contains(v, "oblique")
		case "font-family":
			s.font.Family = textlayout.ResolveFamily(v, l.opt.Fonts)
		case "text-align":
			s.align = strings.ToLower(v)
		case "letter-spacing":
			if ls := parseLength(v); ls.set() {
				s.tracking = float32(ls.px(0, fontSize))
			}
		case "line-height":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				s.lineHeight = f
			} else if lh := parseLength(v); lh.set() && fontSize > 0 {
				s.lineHeight = lh.px(fontSize, fontSize) / fontSize
			}
		case "text-transform":
			s.upper = v == "uppercase"
		case "opacity":
			if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
				s.opacity *= f
			}
		case "display":
			b.display = strings.ToLower(v)
		case "position":
			b.position = strings.ToLower(v)
		case "flex-direction":
			b.direction = strings.ToLower(v)
		case "justify-content":
			b.justify = strings.ToLower(v)
		case "gap", "column-gap":
			b.gap = parseLength(v).px(0, fontSize)
		case "margin":
			b.margin = edges(v)
		case "padding":
			b.padding = edges(v)
		case "inset":
			b.inset = edges(v)
		case "width":
			b.width = parseLength(v)
		case "height":
			b.height = parseLength(v)
		case "max-width":
			b.maxWidth = parseLength(v)
		case "background", "background-color":
			b.background, b.hasBg = parseBackground(v)
		case "border-radius":
			b.radius = parseLength(fields(v + " ")[0])
		case "border":
			br := parseBorder(v, s.color)
			b.borders = [4]border{br, br, br, br}
		}
	}
	// longhands override shorthands regardless of order
	for i, side := range sideNames {
		if v, ok := decls["margin-"+side]; ok {
			b.margin[i] = parseLength(v)
		}
		if v, ok := decls["padding-"+side]; ok {
			b.padding[i] = parseLength(v)
		}
		if v, ok := decls[side]; ok {
			b.inset[i] = parseLength(v)
		}
		if v, ok := decls["border-"+side]; ok {
			b.borders[i] = parseBorder(v, s.color)
		}
	}
	return s, b
}

func parseWeight(v string, cur int) int {
	switch strings.ToLower(v) {
	case "normal":
		return 400
	case "bold":
		return 700
	case "bolder":
		return 800
	case "lighter":
		return 300
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 100 && n <= 900 {
		return n
	}
	return cur
}

func fade(c domain.Color, opacity float64) domain.Color {
	if opacity >= 1 {
		return c
	}
	c.A = uint8(float64(c.A)*opacity + 0.5)
	return c
}
