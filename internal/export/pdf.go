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
	"fmt"
	"image/png"
	"io"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"

	"flyerpro/internal/domain"
	"flyerpro/internal/layout"
	"flyerpro/internal/textlayout"
	"flyerpro/internal/version"
)

// pxToPt converts CSS pixels (96 per inch) to PDF points (72 per inch).
const pxToPt = 0.75

// PDFOptions controls PDF export. Layout options mirror PNGOptions.
type PDFOptions struct {
	PNGOptions
	Title string
}

// WritePDF lays out rendered markup onto a single page the size of the
// flyer and writes the document to w. Text stays vector and uses the
// embedded Go fonts.
func WritePDF(ctx context.Context, w io.Writer, rendered, themeColor string, opt PDFOptions) error {
	lo := opt.layoutOptions(themeColor)
	page, err := layout.Build(ctx, rendered, lo)
	if err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if err := checkPage(page, 1, opt.maxPixels()); err != nil {
		return err
	}
	pw, ph := page.Width*pxToPt, page.Height*pxToPt
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: pw, Ht: ph},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	if opt.Title != "" {
		pdf.SetTitle(opt.Title, true)
	}
	pdf.SetCreator("flyerpro "+version.Version, true)
	registerFonts(pdf)
	pdf.AddPage()

	setFill(pdf, page.Background)
	pdf.Rect(0, 0, pw, ph, "F")

	for i, it := range page.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		x, y, w, h := it.Rect.X*pxToPt, it.Rect.Y*pxToPt, it.Rect.W*pxToPt, it.Rect.H*pxToPt
		switch it.Kind {
		case layout.KindRect:
			pdfRect(pdf, x, y, w, h, it.Radius*pxToPt, it.Fill)
		case layout.KindImage:
			if it.Missing || it.Image == nil {
				pdfRect(pdf, x, y, w, h, it.Radius*pxToPt, it.Fill)
				continue
			}
			if err := pdfImage(pdf, fmt.Sprintf("img%d", i), x, y, w, h, it); err != nil {
				return err
			}
		case layout.KindText:
			pdfText(pdf, it)
		}
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// ExportPDF writes the PDF to path atomically.
func ExportPDF(ctx context.Context, path, rendered, themeColor string, opt PDFOptions) error {
	var buf bytes.Buffer
	if err := WritePDF(ctx, &buf, rendered, themeColor, opt); err != nil {
		return err
	}
	return writeFile(path, &buf)
}

func registerFonts(pdf *gofpdf.Fpdf) {
	pdf.AddUTF8FontFromBytes(textlayout.FamilySans, "", goregular.TTF)
	pdf.AddUTF8FontFromBytes(textlayout.FamilySans, "B", gobold.TTF)
	pdf.AddUTF8FontFromBytes(textlayout.FamilySans, "I", goitalic.TTF)
	pdf.AddUTF8FontFromBytes(textlayout.FamilySans, "BI", gobolditalic.TTF)
	pdf.AddUTF8FontFromBytes(textlayout.FamilyMono, "", gomono.TTF)
	pdf.AddUTF8FontFromBytes(textlayout.FamilyMono, "B", gomonobold.TTF)
}

func setFill(pdf *gofpdf.Fpdf, c domain.Color) {
	pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
}

func pdfRect(pdf *gofpdf.Fpdf, x, y, w, h, r float64, c domain.Color) {
	if c.A == 0 || w <= 0 || h <= 0 {
		return
	}
	setFill(pdf, c)
	pdf.SetAlpha(float64(c.A)/255, "Normal")
	if r > 0 {
		pdf.RoundedRect(x, y, w, h, r, "1234", "F")
	} else {
		pdf.Rect(x, y, w, h, "F")
	}
	pdf.SetAlpha(1, "Normal")
}

func pdfImage(pdf *gofpdf.Fpdf, name string, x, y, w, h float64, it layout.Item) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, it.Image); err != nil {
		return fmt.Errorf("encode image %s: %w", name, err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opts, &buf)
	if it.Opacity > 0 && it.Opacity < 1 {
		pdf.SetAlpha(it.Opacity, "Normal")
	}
	if it.Radius > 0 {
		pdf.ClipRoundedRect(x, y, w, h, it.Radius*pxToPt, false)
	}
	pdf.ImageOptions(name, x, y, w, h, false, opts, 0, "")
	if it.Radius > 0 {
		pdf.ClipEnd()
	}
	pdf.SetAlpha(1, "Normal")
	return nil
}

func pdfText(pdf *gofpdf.Fpdf, it layout.Item) {
	for _, ln := range it.Lines {
		x := ln.X * pxToPt
		for _, sp := range ln.Spans {
			family := textlayout.FamilySans
			if sp.Font.Family == textlayout.FamilyMono {
				family = textlayout.FamilyMono
			}
			style := ""
			if sp.Font.Bold() {
				style += "B"
			}
			if sp.Font.Italic && family == textlayout.FamilySans {
				style += "I"
			}
			c := domain.Black
			if sp.Tag >= 0 && sp.Tag < len(it.Colors) {
				c = it.Colors[sp.Tag]
			}
			pdf.SetFont(family, style, float64(sp.Font.SizePx)*pxToPt)
			pdf.SetTextColor(int(c.R), int(c.G), int(c.B))
			if c.A < 255 {
				pdf.SetAlpha(float64(c.A)/255, "Normal")
			}
			pdf.Text(x, ln.Baseline*pxToPt, sp.Text)
			if c.A < 255 {
				pdf.SetAlpha(1, "Normal")
			}
			x += pdf.GetStringWidth(sp.Text)
		}
	}
}
