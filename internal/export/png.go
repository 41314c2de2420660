/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"flyerpro/internal/domain"
	"flyerpro/internal/layout"
	"flyerpro/internal/textlayout"
)

// PNGOptions controls raster export.
//   - Scale multiplies the CSS pixel size of the flyer; 0 means 2.
//   - Fonts and Provider default to the built-in Go fonts.
//   - FetchRemote allows http(s) images to be downloaded.
//   - MaxPixels caps the output area; 0 means DefaultMaxPixels.
type PNGOptions struct {
	Scale       float64
	Fonts       *textlayout.FontLibrary
	Provider    textlayout.Provider
	FetchRemote bool
	Client      *http.Client
	MaxPixels   int
}

// DefaultMaxPixels bounds a raster export to roughly 200 MB of RGBA.
const DefaultMaxPixels = 50_000_000

// maxPageSide bounds either page edge in output pixels.
const maxPageSide = 1 << 16

// ErrPageTooLarge is returned when the laid out flyer cannot be painted.
var ErrPageTooLarge = errors.New("flyer page too large")

func (o PNGOptions) maxPixels() int {
	if o.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return o.MaxPixels
}

// checkPage rejects pages whose size at scale is not finite or exceeds the limits.
func checkPage(page *layout.Page, scale float64, maxPixels int) error {
	w, h := page.Width*scale, page.Height*scale
	for _, v := range []float64{w, h} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > maxPageSide {
			return fmt.Errorf("%w: %gx%g px", ErrPageTooLarge, w, h)
		}
	}
	if math.Round(w)*math.Round(h) > float64(maxPixels) {
		return fmt.Errorf("%w: %gx%g px exceeds %d pixels", ErrPageTooLarge, w, h, maxPixels)
	}
	return nil
}

func (o PNGOptions) scale() float64 {
	if o.Scale <= 0 {
		return 2
	}
	return o.Scale
}

func (o PNGOptions) layoutOptions(theme string) layout.Options {
	fonts := o.Fonts
	if fonts == nil {
		fonts = textlayout.DefaultLibrary()
	}
	provider := o.Provider
	if provider == nil {
		provider = textlayout.NewOTProvider(fonts)
	}
	return layout.Options{
		ThemeColor:  theme,
		Provider:    provider,
		Fonts:       fonts,
		FetchRemote: o.FetchRemote,
		Client:      o.Client,
	}
}

// RasterizePNG lays out rendered markup and encodes it as a PNG.
func RasterizePNG(ctx context.Context, rendered, themeColor string, opt PNGOptions) ([]byte, error) {
	lo := opt.layoutOptions(themeColor)
	page, err := layout.Build(ctx, rendered, lo)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	if err := checkPage(page, opt.scale(), opt.maxPixels()); err != nil {
		return nil, err
	}
	img := Paint(page, opt.scale(), lo.Provider)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportPNG rasterizes to a file.
func ExportPNG(ctx context.Context, path, rendered, themeColor string, opt PNGOptions) error {
	data, err := RasterizePNG(ctx, rendered, themeColor, opt)
	if err != nil {
		return err
	}
	return writeFile(path, bytes.NewReader(data))
}

// Paint draws a laid out page at the given scale.
func Paint(page *layout.Page, scale float64, provider textlayout.Provider) *image.RGBA {
	if provider == nil {
		provider = textlayout.BasicProvider{}
	}
	pixW := int(math.Round(page.Width * scale))
	pixH := int(math.Round(page.Height * scale))
	img := image.NewRGBA(image.Rect(0, 0, pixW, pixH))
	draw.Draw(img, img.Bounds(), image.NewUniform(toRGBA(page.Background)), image.Point{}, draw.Src)

	for _, it := range page.Items {
		r := scaleRect(it.Rect, scale)
		switch it.Kind {
		case layout.KindRect:
			fillRect(img, r, it.Radius*scale, it.Fill)
		case layout.KindImage:
			if it.Missing || it.Image == nil {
				fillRect(img, r, it.Radius*scale, it.Fill)
				continue
			}
			drawImage(img, r, it.Radius*scale, it.Opacity, it.Image)
		case layout.KindText:
			drawText(img, it, scale, provider)
		}
	}
	return img
}

func toRGBA(c domain.Color) color.RGBA {
	// image/color wants premultiplied values
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

func scaleRect(r layout.Rect, s float64) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X*s)), int(math.Round(r.Y*s)),
		int(math.Round((r.X+r.W)*s)), int(math.Round((r.Y+r.H)*s)),
	)
}

// roundedMask is an alpha mask for a rectangle of size w x h with corner
// radius r and uniform opacity.
func roundedMask(w, h int, r, opacity float64) *image.Alpha {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	full := uint8(math.Round(255 * opacity))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if insideRounded(float64(x)+0.5, float64(y)+0.5, float64(w), float64(h), r) {
				m.Pix[y*m.Stride+x] = full
			}
		}
	}
	return m
}

func insideRounded(x, y, w, h, r float64) bool {
	if r <= 0 {
		return true
	}
	cx, cy := x, y
	switch {
	case x < r:
		cx = r
	case x > w-r:
		cx = w - r
	}
	switch {
	case y < r:
		cy = r
	case y > h-r:
		cy = h - r
	}
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= r*r
}

func fillRect(img *image.RGBA, r image.Rectangle, radius float64, c domain.Color) {
	if c.A == 0 || r.Empty() {
		return
	}
	src := image.NewUniform(toRGBA(c))
	if radius <= 0 {
		draw.Draw(img, r, src, image.Point{}, draw.Over)
		return
	}
	mask := roundedMask(r.Dx(), r.Dy(), radius, 1)
	draw.DrawMask(img, r, src, image.Point{}, mask, image.Point{}, draw.Over)
}

func drawImage(img *image.RGBA, r image.Rectangle, radius, opacity float64, src image.Image) {
	if r.Empty() {
		return
	}
	if opacity <= 0 {
		opacity = 1
	}
	scaled := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
	if radius <= 0 && opacity >= 1 {
		draw.Draw(img, r, scaled, image.Point{}, draw.Over)
		return
	}
	mask := roundedMask(r.Dx(), r.Dy(), radius, opacity)
	draw.DrawMask(img, r, scaled, image.Point{}, mask, image.Point{}, draw.Over)
}

func drawText(img *image.RGBA, it layout.Item, scale float64, provider textlayout.Provider) {
	for _, ln := range it.Lines {
		x := ln.X * scale
		base := fixed.Int26_6(math.Round(ln.Baseline * scale * 64))
		for _, sp := range ln.Spans {
			spec := sp.Font
			spec.SizePx *= float32(scale)
			face, _ := provider.Resolve(spec)
			c := domain.Black
			if sp.Tag >= 0 && sp.Tag < len(it.Colors) {
				c = it.Colors[sp.Tag]
			}
			d := &font.Drawer{Dst: img, Src: image.NewUniform(toRGBA(c)), Face: face}
			d.Dot = fixed.Point26_6{X: fixed.Int26_6(math.Round(x * 64)), Y: base}
			if sp.Tracking == 0 {
				d.DrawString(sp.Text)
			} else {
				track := fixed.Int26_6(math.Round(float64(sp.Tracking) * scale * 64))
				for i, r := range sp.Text {
					if i > 0 {
						d.Dot.X += track
					}
					d.DrawString(string(r))
				}
			}
			x = float64(d.Dot.X) / 64
		}
	}
}
