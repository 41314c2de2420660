/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Generic families always present in DefaultLibrary.
const (
	FamilySans = "sans-serif"
	FamilyMono = "monospace"
)

// FontLibrary stores parsed OpenType fonts keyed by family, weight and italic.
// It is safe for concurrent use once loading is done.
type FontLibrary struct {
	mu    sync.RWMutex
	fonts map[fontKey]*opentype.Font
}

type fontKey struct {
	family string
	weight int
	italic bool
}

func NewFontLibrary() *FontLibrary { return &FontLibrary{fonts: make(map[fontKey]*opentype.Font)} }

// DefaultLibrary holds the Go font family registered as sans-serif and
// monospace.
func DefaultLibrary() *FontLibrary {
	fl := NewFontLibrary()
	for _, f := range []struct {
		family string
		weight int
		italic bool
		data   []byte
	}{
		{FamilySans, 400, false, goregular.TTF},
		{FamilySans, 700, false, gobold.TTF},
		{FamilySans, 400, true, goitalic.TTF},
		{FamilySans, 700, true, gobolditalic.TTF},
		{FamilyMono, 400, false, gomono.TTF},
		{FamilyMono, 700, false, gomonobold.TTF},
	} {
		// the embedded Go fonts always parse
		_ = fl.Load(f.family, f.weight, f.italic, f.data)
	}
	return fl
}

// Load parses font data into the library.
func (fl *FontLibrary) Load(family string, weight int, italic bool, data []byte) error {
	f, err := opentype.Parse(data)
	if err != nil {
		return err
	}
	fl.mu.Lock()
	if fl.fonts == nil {
		fl.fonts = make(map[fontKey]*opentype.Font)
	}
	fl.fonts[fontKey{family: strings.ToLower(family), weight: weight, italic: italic}] = f
	fl.mu.Unlock()
	return nil
}

// LoadTTF loads a font file into the library under the given family/weight/italic.
func (fl *FontLibrary) LoadTTF(family string, weight int, italic bool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read font %s: %w", path, err)
	}
	if err := fl.Load(family, weight, italic, data); err != nil {
		return fmt.Errorf("parse font %s: %w", path, err)
	}
	return nil
}

// LoadDir loads every .ttf and .otf file in dir. Family, weight and style
// come from the file name, e.g. "Poppins-BoldItalic.ttf". It returns the
// number of fonts loaded; unparsable files are skipped and reported in err.
func (fl *FontLibrary) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var n int
	var failed []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".ttf" && ext != ".otf") {
			continue
		}
		family, weight, italic := ParseFontFileName(e.Name())
		if err := fl.LoadTTF(family, weight, italic, filepath.Join(dir, e.Name())); err != nil {
			failed = append(failed, e.Name())
			continue
		}
		n++
	}
	if len(failed) > 0 {
		return n, fmt.Errorf("skipped fonts: %s", strings.Join(failed, ", "))
	}
	return n, nil
}

var weightNames = []struct {
	suffix string
	weight int
}{
	{"extralight", 200}, {"ultralight", 200}, {"thin", 100}, {"light", 300},
	{"regular", 400}, {"medium", 500}, {"semibold", 600}, {"demibold", 600},
	{"extrabold", 800}, {"ultrabold", 800}, {"bold", 700}, {"black", 900}, {"heavy", 900},
}

// ParseFontFileName derives family, weight and italic from a font file name.
func ParseFontFileName(name string) (family string, weight int, italic bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	family, style, _ := strings.Cut(base, "-")
	family = strings.ToLower(strings.TrimSpace(family))
	style = strings.ToLower(style)
	if strings.HasSuffix(style, "italic") {
		italic = true
		style = strings.TrimSuffix(style, "italic")
	}
	weight = 400
	for _, w := range weightNames {
		if style == w.suffix {
			weight = w.weight
			break
		}
	}
	return family, weight, italic
}

// Families lists loaded family names in sorted order.
func (fl *FontLibrary) Families() []string {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for k := range fl.fonts {
		if !seen[k.family] {
			seen[k.family] = true
			out = append(out, k.family)
		}
	}
	sort.Strings(out)
	return out
}

// Has reports whether any face of family is loaded.
func (fl *FontLibrary) Has(family string) bool {
	if fl == nil {
		return false
	}
	family = strings.ToLower(family)
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	for k := range fl.fonts {
		if k.family == family {
			return true
		}
	}
	return false
}

func (fl *FontLibrary) find(spec FontSpec) *opentype.Font {
	if fl == nil {
		return nil
	}
	family := strings.ToLower(spec.Family)
	weight := spec.Weight
	if weight == 0 {
		weight = 400
	}
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	if f, ok := fl.fonts[fontKey{family: family, weight: weight, italic: spec.Italic}]; ok {
		return f
	}
	// nearest weight, preferring the requested slant
	var best *opentype.Font
	bestScore := -1
	for k, f := range fl.fonts {
		if k.family != family {
			continue
		}
		score := abs(k.weight - weight)
		if k.italic != spec.Italic {
			score += 1000
		}
		if bestScore < 0 || score < bestScore {
			best, bestScore = f, score
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// OTProvider resolves FontSpec using a FontLibrary. Unknown families fall
// back to sans-serif in the same library, then to Fallback.
type OTProvider struct {
	Lib      *FontLibrary
	DPI      float64 // default 72, so one point is one pixel
	Fallback Provider

	mu    *sync.Mutex
	faces map[FontSpec]cachedFace
}

type cachedFace struct {
	face font.Face
	met  Metrics
}

// NewOTProvider returns a provider that caches faces per FontSpec.
func NewOTProvider(lib *FontLibrary) *OTProvider {
	return &OTProvider{Lib: lib, mu: &sync.Mutex{}, faces: make(map[FontSpec]cachedFace)}
}

func (p OTProvider) Resolve(spec FontSpec) (font.Face, Metrics) {
	if spec.SizePx <= 0 {
		spec.SizePx = 16
	}
	if p.mu != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.faces[spec]; ok {
			return c.face, c.met
		}
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 72
	}
	f := p.Lib.find(spec)
	if f == nil {
		generic := spec
		generic.Family = FamilySans
		f = p.Lib.find(generic)
	}
	if f != nil {
		face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: float64(spec.SizePx), DPI: dpi, Hinting: font.HintingFull})
		if err == nil {
			met := metricsOf(face)
			if p.mu != nil {
				p.faces[spec] = cachedFace{face: face, met: met}
			}
			return face, met
		}
	}
	fb := p.Fallback
	if fb == nil {
		fb = BasicProvider{}
	}
	return fb.Resolve(spec)
}
