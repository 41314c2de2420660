/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package layout turns rendered flyer markup into a positioned page of
// rectangles, text lines and images that the raster and PDF exporters paint.
//
// It understands the subset of HTML and inline CSS the built-in templates
// use: block flow, margins and padding, explicit sizes, absolute
// positioning against the page, single-row flex containers, backgrounds,
// borders, radii, opacity and basic text styling. Anything else is ignored.
package layout

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"flyerpro/internal/domain"
	applog "flyerpro/internal/log"
	"flyerpro/internal/textlayout"
)

// Page box defaults when the root element gives no size.
const (
	DefaultWidth  = 400
	DefaultHeight = 550
)

// Kind identifies what an Item paints.
type Kind string

const (
	KindRect  Kind = "rect"
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Rect is an axis-aligned box in CSS pixels, origin top-left.
type Rect struct {
	X, Y, W, H float64
}

// Line is one laid out line of a text item.
type Line struct {
	X, Y     float64 // top-left of the line box
	Baseline float64
	Width    float64
	Spans    []textlayout.Span
}

// Item is one paint operation, in document order.
type Item struct {
	Kind   Kind
	Rect   Rect
	Fill   domain.Color
	Radius float64

	// text
	Lines  []Line
	Colors []domain.Color // indexed by Span.Tag

	// image
	Src     string
	Image   image.Image
	Opacity float64
	// Missing is set when the image could not be loaded; exporters paint
	// Fill as a placeholder box instead.
	Missing bool
}

// Page is the laid out flyer.
type Page struct {
	Width, Height float64
	Background    domain.Color
	Items         []Item
}

// Options controls Build.
type Options struct {
	ThemeColor string
	// Provider measures text; defaults to an OTProvider over Fonts.
	Provider textlayout.Provider
	// Fonts defaults to textlayout.DefaultLibrary.
	Fonts *textlayout.FontLibrary
	// FetchRemote allows http(s) images to be downloaded.
	FetchRemote   bool
	Client        *http.Client
	MaxImageBytes int64
}

var placeholderFill = domain.Color{R: 0xe2, G: 0xe8, B: 0xf0, A: 0xff}

type layouter struct {
	ctx    context.Context
	opt    Options
	vars   map[string]string
	wrap   *textlayout.WordWrapLayouter
	page   *Page
	images map[string]image.Image
	log    *slog.Logger
}

// Build parses markup and lays it out.
func Build(ctx context.Context, markup string, opt Options) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	theme := opt.ThemeColor
	if theme == "" {
		theme = domain.DefaultThemeColor
	}
	if opt.Fonts == nil {
		opt.Fonts = textlayout.DefaultLibrary()
	}
	if opt.Provider == nil {
		opt.Provider = textlayout.NewOTProvider(opt.Fonts)
	}
	if opt.MaxImageBytes <= 0 {
		opt.MaxImageBytes = 10 << 20
	}
	l := &layouter{
		ctx:    ctx,
		opt:    opt,
		vars:   map[string]string{"--theme-color": theme},
		wrap:   textlayout.NewWordWrap(opt.Provider),
		page:   &Page{},
		images: map[string]image.Image{},
		log:    applog.WithComponent("layout"),
	}

	root := pageRoot(doc.Find("body"))
	base := style{
		color:   domain.Black,
		font:    textlayout.FontSpec{Family: textlayout.FamilySans, SizePx: 16, Weight: 400},
		opacity: 1,
	}
	tag := goquery.NodeName(root)
	s, b := l.compute(tag, declarations(root.AttrOr("style", ""), l.vars), base)

	l.page.Width, l.page.Height = DefaultWidth, DefaultHeight
	if b.width.set() && !b.width.auto() {
		l.page.Width = b.width.px(DefaultWidth, float64(s.font.SizePx))
	}
	if b.height.set() && !b.height.auto() {
		l.page.Height = b.height.px(DefaultHeight, float64(s.font.SizePx))
	}
	l.page.Background = domain.White
	if b.hasBg {
		l.page.Background = b.background
	}
	l.paintBox(root, s, b, 0, 0, l.page.Width, l.page.Height, false)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.page, nil
}

// pageRoot is the single top-level element of the markup, or body when
// there are several.
func pageRoot(body *goquery.Selection) *goquery.Selection {
	kids := body.Children()
	if kids.Length() != 1 {
		return body
	}
	loose := false
	body.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" && strings.TrimSpace(c.Text()) != "" {
			loose = true
		}
	})
	if loose {
		return body
	}
	return kids.First()
}

func (l *layouter) add(it Item) int {
	l.page.Items = append(l.page.Items, it)
	return len(l.page.Items) - 1
}

func resolveEdges(e [4]length, ref, fontSize float64) [4]float64 {
	var out [4]float64
	for i, v := range e {
		out[i] = v.px(ref, fontSize)
	}
	return out
}

// paintBox lays out an element's background, borders and content into the
// border box at x,y with width w. h < 0 means the height follows the content.
// It returns the border box height.
func (l *layouter) paintBox(sel *goquery.Selection, s style, b box, x, y, w, h float64, drawBg bool) float64 {
	fs := float64(s.font.SizePx)
	pad := resolveEdges(b.padding, w, fs)
	var bw [4]float64
	for i, br := range b.borders {
		bw[i] = br.width
	}
	bg := -1
	if drawBg && b.hasBg {
		bg = l.add(Item{Kind: KindRect})
	}
	cx := x + pad[left] + bw[left]
	cy := y + pad[top] + bw[top]
	cw := max(w-pad[left]-pad[right]-bw[left]-bw[right], 0)
	refH := -1.0
	if h >= 0 {
		refH = max(h-pad[top]-pad[bottom]-bw[top]-bw[bottom], 0)
	}

	var ch float64
	if b.display == "flex" && b.direction != "column" && b.direction != "column-reverse" {
		ch = l.flexRow(sel, s, b, cx, cy, cw, refH)
	} else {
		ch = l.flow(sel, s, cx, cy, cw, refH)
	}
	if h < 0 {
		h = pad[top] + ch + pad[bottom] + bw[top] + bw[bottom]
	}

	if bg >= 0 {
		radius := b.radius.px(min(w, h), fs)
		l.page.Items[bg] = Item{
			Kind:   KindRect,
			Rect:   Rect{X: x, Y: y, W: w, H: h},
			Fill:   fade(b.background, s.opacity),
			Radius: min(radius, min(w, h)/2),
		}
	}
	for i, br := range b.borders {
		if br.width <= 0 || br.color.A == 0 {
			continue
		}
		var r Rect
		switch i {
		case top:
			r = Rect{X: x, Y: y, W: w, H: br.width}
		case bottom:
			r = Rect{X: x, Y: y + h - br.width, W: w, H: br.width}
		case left:
			r = Rect{X: x, Y: y, W: br.width, H: h}
		case right:
			r = Rect{X: x + w - br.width, Y: y, W: br.width, H: h}
		}
		l.add(Item{Kind: KindRect, Rect: r, Fill: fade(br.color, s.opacity)})
	}
	return h
}
