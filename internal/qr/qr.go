/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package qr turns a destination text into QR-code markup for the reserved
// QR_CODE placeholder.
package qr

import (
	"encoding/base64"
	"fmt"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"

	"flyerpro/internal/domain"
)

// ImgStyle is the inline style applied to generated QR images.
const ImgStyle = "display:block; width:100%; max-width:120px; height:auto; margin: 0 auto;"

// Generator encodes QR codes as PNG images.
// Zero values fall back to a 200px image on a white background.
type Generator struct {
	Size  int
	Light string
	// Border keeps the standard quiet zone around the code.
	Border bool
}

func (g Generator) size() int {
	if g.Size <= 0 {
		return 200
	}
	return g.Size
}

// PNG encodes text with the given foreground color.
func (g Generator) PNG(text, dark string) ([]byte, error) {
	fg, err := domain.ParseColor(dark)
	if err != nil {
		return nil, fmt.Errorf("qr foreground: %w", err)
	}
	light := g.Light
	if light == "" {
		light = "#ffffff"
	}
	bg, err := domain.ParseColor(light)
	if err != nil {
		return nil, fmt.Errorf("qr background: %w", err)
	}
	code, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	code.ForegroundColor = toRGBA(fg)
	code.BackgroundColor = toRGBA(bg)
	code.DisableBorder = !g.Border
	png, err := code.PNG(g.size())
	if err != nil {
		return nil, fmt.Errorf("render qr png: %w", err)
	}
	return png, nil
}

// DataURL returns the PNG as a data: URL.
func (g Generator) DataURL(text, dark string) (string, error) {
	png, err := g.PNG(text, dark)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Markup returns the <img> element stored as the QR_CODE value.
// An empty destination yields "" so the placeholder renders as nothing.
func (g Generator) Markup(text, dark string) (string, error) {
	if text == "" {
		return "", nil
	}
	src, err := g.DataURL(text, dark)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<img src="%s" style="%s">`, src, ImgStyle), nil
}

func toRGBA(c domain.Color) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}
