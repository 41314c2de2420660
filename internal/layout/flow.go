/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package layout

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"flyerpro/internal/domain"
	"flyerpro/internal/textlayout"
)

// inlineRun collects text spans until a block boundary.
type inlineRun struct {
	spans  []textlayout.Span
	colors []domain.Color
}

func (r *inlineRun) reset() { r.spans, r.colors = nil, nil }

func (r *inlineRun) endsWithBreak() bool {
	if len(r.spans) == 0 {
		return true
	}
	t := r.spans[len(r.spans)-1].Text
	return t == "" || t[len(t)-1] == ' ' || t[len(t)-1] == '\n'
}

func (r *inlineRun) colorIndex(c domain.Color) int {
	for i, have := range r.colors {
		if have == c {
			return i
		}
	}
	r.colors = append(r.colors, c)
	return len(r.colors) - 1
}

func (l *layouter) addText(r *inlineRun, text string, s style) {
	if text != "\n" {
		text = collapse(text)
		if s.upper {
			text = strings.ToUpper(text)
		}
		if r.endsWithBreak() {
			text = strings.TrimLeft(text, " ")
		}
		if text == "" {
			return
		}
	}
	r.spans = append(r.spans, textlayout.Span{
		Text:     text,
		Font:     s.font,
		Tracking: s.tracking,
		Leading:  l.leading(s),
		Tag:      r.colorIndex(fade(s.color, s.opacity)),
	})
}

// collapse folds whitespace runs into single spaces the way HTML does.
func collapse(text string) string {
	if text == "" {
		return ""
	}
	body := strings.Join(strings.Fields(text), " ")
	if body == "" {
		return " "
	}
	if isSpace(text[0]) {
		body = " " + body
	}
	if isSpace(text[len(text)-1]) {
		body += " "
	}
	return body
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' }

func (l *layouter) leading(s style) float32 {
	if s.lineHeight <= 0 {
		return 0
	}
	_, met := l.opt.Provider.Resolve(s.font)
	return s.font.SizePx*float32(s.lineHeight) - met.LineHeight()
}

// flow lays out the children of sel top to bottom and returns the height used.
func (l *layouter) flow(sel *goquery.Selection, s style, x, y, w, refH float64) float64 {
	cur := y
	var run inlineRun
	flush := func() {
		cur += l.text(&run, s, x, cur, w)
	}
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if l.ctx.Err() != nil {
			return
		}
		name := goquery.NodeName(c)
		switch name {
		case "#text":
			l.addText(&run, c.Text(), s)
			return
		case "#comment", "script", "style", "head", "title", "meta", "link":
			return
		case "br":
			l.addText(&run, "\n", s)
			return
		}
		cs, cb := l.compute(name, declarations(c.AttrOr("style", ""), l.vars), s)
		switch {
		case cb.display == "none":
		case cb.position == "absolute" || cb.position == "fixed":
			l.absolute(c, cs, cb)
		case cb.display == "inline":
			l.inline(c, cs, &run)
		default:
			flush()
			cur += l.block(c, cs, cb, x, cur, w, refH)
		}
	})
	flush()
	return cur - y
}

func (l *layouter) inline(sel *goquery.Selection, s style, run *inlineRun) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch name {
		case "#text":
			l.addText(run, c.Text(), s)
			return
		case "br":
			l.addText(run, "\n", s)
			return
		case "#comment", "img":
			return
		}
		cs, cb := l.compute(name, declarations(c.AttrOr("style", ""), l.vars), s)
		if cb.display != "none" {
			l.inline(c, cs, run)
		}
	})
}

// text turns the pending run into a text item and returns its height.
func (l *layouter) text(run *inlineRun, s style, x, y, w float64) float64 {
	defer run.reset()
	visible := false
	for _, sp := range run.spans {
		if strings.TrimSpace(sp.Text) != "" {
			visible = true
			break
		}
	}
	if !visible {
		return 0
	}
	tb, err := l.wrap.Layout(run.spans, float32(w))
	if err != nil {
		l.log.Debug("text layout failed", "err", err)
		return 0
	}
	it := Item{Kind: KindText, Rect: Rect{X: x, Y: y, W: w, H: float64(tb.Height)}, Colors: run.colors}
	ly := y
	for _, ln := range tb.Lines {
		lw := float64(ln.Width)
		lx := x
		switch s.align {
		case "center":
			lx += (w - lw) / 2
		case "right", "end":
			lx += w - lw
		}
		it.Lines = append(it.Lines, Line{
			X:        lx,
			Y:        ly,
			Baseline: ly + float64(ln.Leading)/2 + float64(ln.Ascent),
			Width:    lw,
			Spans:    ln.Spans,
		})
		ly += float64(ln.Height())
	}
	l.add(it)
	return float64(tb.Height)
}

// block lays out a block-level element in a containing block of width cw
// and returns the vertical space it takes including margins.
func (l *layouter) block(sel *goquery.Selection, s style, b box, x, y, cw, refH float64) float64 {
	if goquery.NodeName(sel) == "img" {
		return l.image(sel, s, b, x, y, cw, refH)
	}
	fs := float64(s.font.SizePx)
	m := resolveEdges(b.margin, cw, fs)
	w := cw - m[left] - m[right]
	explicit := b.width.set() && !b.width.auto()
	if explicit {
		w = b.width.px(cw, fs)
	}
	if b.maxWidth.set() && !b.maxWidth.auto() {
		w = min(w, b.maxWidth.px(cw, fs))
	}
	xoff := m[left]
	if w < cw-m[left]-m[right] && b.margin[left].auto() && b.margin[right].auto() {
		xoff = (cw - w) / 2
	}
	h := -1.0
	if b.height.set() && !b.height.auto() {
		if b.height.unit != "%" {
			h = b.height.px(0, fs)
		} else if refH >= 0 {
			h = b.height.px(refH, fs)
		}
	}
	bh := l.paintBox(sel, s, b, x+xoff, y+m[top], max(w, 0), h, true)
	return m[top] + bh + m[bottom]
}

// flexRow places the element children of sel side by side. Children with
// an explicit width keep it; the rest share what is left.
func (l *layouter) flexRow(sel *goquery.Selection, s style, b box, x, y, w, refH float64) float64 {
	type child struct {
		sel   *goquery.Selection
		s     style
		b     box
		w     float64
		fixed bool
	}
	var kids []child
	var fixed float64
	autos := 0
	sel.Children().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		cs, cb := l.compute(name, declarations(c.AttrOr("style", ""), l.vars), s)
		if cb.display == "none" {
			return
		}
		if cb.position == "absolute" || cb.position == "fixed" {
			l.absolute(c, cs, cb)
			return
		}
		k := child{sel: c, s: cs, b: cb}
		if cb.width.set() && !cb.width.auto() {
			fs := float64(cs.font.SizePx)
			m := resolveEdges(cb.margin, w, fs)
			k.w = cb.width.px(w, fs) + m[left] + m[right]
			k.fixed = true
			fixed += k.w
		} else {
			autos++
		}
		kids = append(kids, k)
	})
	if len(kids) == 0 {
		return 0
	}
	gap := b.gap
	free := w - fixed - gap*float64(len(kids)-1)
	share := 0.0
	if autos > 0 {
		share = max(free, 0) / float64(autos)
	} else if free > 0 && len(kids) > 1 && b.justify == "space-between" {
		gap += free / float64(len(kids)-1)
	} else if free > 0 && b.justify == "center" {
		x += free / 2
	}
	var tallest float64
	cx := x
	for _, k := range kids {
		kw := k.w
		if !k.fixed {
			kw = share
		}
		h := l.block(k.sel, k.s, k.b, cx, y, kw, refH)
		tallest = max(tallest, h)
		cx += kw + gap
	}
	return tallest
}

// absolute lays out a positioned element against the page box.
func (l *layouter) absolute(sel *goquery.Selection, s style, b box) {
	pw, ph := l.page.Width, l.page.Height
	fs := float64(s.font.SizePx)
	in := b.inset
	pos := func(i int, ref float64) (float64, bool) {
		if !in[i].set() || in[i].auto() {
			return 0, false
		}
		return in[i].px(ref, fs), true
	}
	lv, hasL := pos(left, pw)
	rv, hasR := pos(right, pw)
	tv, hasT := pos(top, ph)
	bv, hasB := pos(bottom, ph)

	w := pw
	switch {
	case b.width.set() && !b.width.auto():
		w = b.width.px(pw, fs)
	case hasL && hasR:
		w = pw - lv - rv
	}
	h := -1.0
	switch {
	case b.height.set() && !b.height.auto():
		h = b.height.px(ph, fs)
	case hasT && hasB:
		h = ph - tv - bv
	}
	x, y := 0.0, 0.0
	switch {
	case hasL:
		x = lv
	case hasR:
		x = pw - rv - w
	}
	switch {
	case hasT:
		y = tv
	case hasB && h >= 0:
		y = ph - bv - h
	}
	l.paintBox(sel, s, b, x, y, max(w, 0), h, true)
}

func (l *layouter) image(sel *goquery.Selection, s style, b box, x, y, cw, refH float64) float64 {
	src := strings.TrimSpace(sel.AttrOr("src", ""))
	img := l.loadImage(src)
	fs := float64(s.font.SizePx)
	m := resolveEdges(b.margin, cw, fs)

	var natW, natH float64
	if img != nil {
		bnd := img.Bounds()
		natW, natH = float64(bnd.Dx()), float64(bnd.Dy())
	}
	hasW := b.width.set() && !b.width.auto()
	hasH := b.height.set() && !b.height.auto() && (b.height.unit != "%" || refH >= 0)
	var w, h float64
	if hasH {
		h = b.height.px(refH, fs)
	}
	switch {
	case hasW:
		w = b.width.px(cw, fs)
	case hasH && natH > 0:
		w = h * natW / natH
	case natW > 0:
		w = natW
	default:
		w = min(cw, 120)
	}
	if b.maxWidth.set() && !b.maxWidth.auto() {
		w = min(w, b.maxWidth.px(cw, fs))
	}
	if !hasH {
		if natW > 0 {
			h = w * natH / natW
		} else {
			h = w * 0.75
		}
	}

	xoff := m[left]
	switch {
	case b.margin[left].auto() && b.margin[right].auto():
		xoff = (cw - w) / 2
	case b.display != "block" && s.align == "center":
		xoff = (cw - w) / 2
	case b.display != "block" && (s.align == "right" || s.align == "end"):
		xoff = cw - w - m[right]
	}
	it := Item{
		Kind:    KindImage,
		Rect:    Rect{X: x + xoff, Y: y + m[top], W: w, H: h},
		Src:     src,
		Image:   img,
		Opacity: s.opacity,
		Radius:  min(b.radius.px(min(w, h), fs), min(w, h)/2),
	}
	if img == nil {
		it.Missing = true
		it.Fill = fade(placeholderFill, s.opacity)
	}
	l.add(it)
	for i, br := range b.borders {
		if br.width <= 0 || br.color.A == 0 {
			continue
		}
		r := it.Rect
		switch i {
		case top:
			r.H = br.width
		case bottom:
			r.Y += r.H - br.width
			r.H = br.width
		case left:
			r.W = br.width
		case right:
			r.X += r.W - br.width
			r.W = br.width
		}
		l.add(Item{Kind: KindRect, Rect: r, Fill: fade(br.color, s.opacity)})
	}
	return max(m[top]+h+m[bottom], 0)
}
