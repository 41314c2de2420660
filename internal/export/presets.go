/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flyerpro/internal/domain"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetWeb   PresetName = "web"
	PresetPrint PresetName = "print"
)

// Formats understood by Batch.
const (
	FormatPNG  = "png"
	FormatHTML = "html"
	FormatPDF  = "pdf"
)

// DefaultBaseName names exported files when no base name is given.
const DefaultBaseName = "my-flyer"

// printScale renders 96 dpi CSS pixels at 300 dpi.
const printScale = 300.0 / 96.0

var ErrUnknownFormat = errors.New("unknown export format")

// Source is what gets exported: rendered markup plus its theme color.
type Source struct {
	Name       string
	Rendered   string
	ThemeColor string
}

// BatchOptions controls batch export.
//
// Path semantics:
//   - Files are written to OutDir/<preset>/<base>.<ext>.
//   - BaseName defaults to the source name, then to DefaultBaseName.
//   - Formats overrides the preset's format list.
//
//nolint:revive // keep fields explicit for clarity
type BatchOptions struct {
	Preset   PresetName
	Formats  []string
	OutDir   string
	BaseName string
	PNG      PNGOptions
}

// Result lists the files a batch wrote, per format.
type Result map[string]string

// Batch runs exports according to the given preset.
func Batch(ctx context.Context, src Source, opt BatchOptions) (Result, error) {
	if strings.TrimSpace(src.Rendered) == "" {
		return nil, fmt.Errorf("nothing to export")
	}
	formats := opt.Formats
	if len(formats) == 0 {
		formats = PresetFormats(opt.Preset)
	}
	base := SafeBaseName(opt.BaseName)
	if base == "" {
		base = SafeBaseName(src.Name)
	}
	if base == "" {
		base = DefaultBaseName
	}
	outDir := opt.OutDir
	if outDir == "" {
		outDir = "."
	}
	if opt.Preset != "" {
		outDir = filepath.Join(outDir, string(opt.Preset))
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure out dir: %w", err)
	}
	theme := src.ThemeColor
	if theme == "" {
		theme = domain.DefaultThemeColor
	}
	pngOpt := opt.PNG
	if pngOpt.Scale <= 0 && opt.Preset == PresetPrint {
		pngOpt.Scale = printScale
	}

	res := Result{}
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		out := filepath.Join(outDir, base+"."+f)
		var err error
		switch f {
		case FormatPNG:
			err = ExportPNG(ctx, out, src.Rendered, theme, pngOpt)
		case FormatHTML:
			err = ExportHTML(out, base, src.Rendered, theme)
		case FormatPDF:
			err = ExportPDF(ctx, out, src.Rendered, theme, PDFOptions{PNGOptions: opt.PNG, Title: base})
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownFormat, f)
		}
		if err != nil {
			return res, fmt.Errorf("%s: %w", f, err)
		}
		res[f] = out
	}
	return res, nil
}

// PresetFormats returns the default formats of a preset.
func PresetFormats(p PresetName) []string {
	switch p {
	case PresetWeb:
		return []string{FormatPNG, FormatHTML}
	case PresetPrint:
		return []string{FormatPDF, FormatPNG}
	default:
		return []string{FormatPNG}
	}
}

// SafeBaseName strips path separators and characters that are awkward in
// file names. The result may be empty.
func SafeBaseName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), ".-")
}
