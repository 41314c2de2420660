/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultThemeColor is the theme color a fresh session starts with.
const DefaultThemeColor = "#4f46e5"

// QRVariable is the reserved placeholder filled with generated QR markup.
const QRVariable = "QR_CODE"

// Template is a named HTML string holding {{IDENTIFIER}} placeholders.
type Template struct {
	Name string `json:"name"`
	HTML string `json:"html"`
}

// Values maps placeholder identifiers to their current string value.
type Values map[string]string

// Clone returns an independent copy (nil stays nil).
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, s := range v {
		out[k] = s
	}
	return out
}

// Flyer is the persisted state of one customization session.
// It serializes to the human-readable workspace manifest.
type Flyer struct {
	Name       string   `json:"name"`
	Template   Template `json:"template"`
	Values     Values   `json:"values"`
	ThemeColor string   `json:"themeColor"`
	QRText     string   `json:"qrText,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Color is an 8-bit RGBA color.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// IsZero reports whether c is the zero value (fully transparent black).
func (c Color) IsZero() bool { return c == Color{} }

// Hex formats c as #rrggbb (alpha is dropped).
func (c Color) Hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

var (
	White = Color{R: 255, G: 255, B: 255, A: 255}
	Black = Color{A: 255}
)

var namedColors = map[string]Color{
	"white":       White,
	"black":       Black,
	"red":         {R: 255, A: 255},
	"green":       {G: 128, A: 255},
	"blue":        {B: 255, A: 255},
	"gray":        {R: 128, G: 128, B: 128, A: 255},
	"grey":        {R: 128, G: 128, B: 128, A: 255},
	"transparent": {},
}

// ParseColor understands #rgb, #rrggbb, #rrggbbaa, rgb(), rgba() and a few names.
func ParseColor(s string) (Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	if strings.HasPrefix(s, "#") {
		return parseHex(s[1:])
	}
	if strings.HasPrefix(s, "rgb") {
		return parseFunc(s)
	}
	return Color{}, fmt.Errorf("unsupported color %q", s)
}

func parseHex(h string) (Color, error) {
	switch len(h) {
	case 3:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]}) + "ff"
	case 6:
		h += "ff"
	case 8:
	default:
		return Color{}, fmt.Errorf("bad hex color length %d", len(h))
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("bad hex color: %w", err)
	}
	return Color{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}, nil
}

func parseFunc(s string) (Color, error) {
	open, end := strings.IndexByte(s, '('), strings.LastIndexByte(s, ')')
	if open < 0 || end < open {
		return Color{}, fmt.Errorf("bad color function %q", s)
	}
	parts := strings.Split(s[open+1:end], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return Color{}, fmt.Errorf("bad color function %q", s)
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || v < 0 || v > 255 {
			return Color{}, fmt.Errorf("bad color channel %q", parts[i])
		}
		ch[i] = uint8(v)
	}
	a := uint8(255)
	if len(parts) == 4 {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || f < 0 || f > 1 {
			return Color{}, fmt.Errorf("bad alpha %q", parts[3])
		}
		a = uint8(f*255 + 0.5)
	}
	return Color{R: ch[0], G: ch[1], B: ch[2], A: a}, nil
}
