/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
)

func TestWordWrap_Naive(t *testing.T) {
	l := NewWordWrap(BasicProvider{})
	box, err := l.Layout([]Span{{Text: "Hello world from Go"}}, 50)
	if err != nil {
		t.Fatalf("layout error: %v", err)
	}
	if len(box.Lines) < 2 {
		t.Fatalf("expected wrapping into multiple lines, got %d", len(box.Lines))
	}
	if box.Width <= 0 || box.Height <= 0 {
		t.Fatalf("expected positive box size: %+v", box)
	}
}

func TestWordWrap_NoTrailingSpace(t *testing.T) {
	l := NewWordWrap(BasicProvider{})
	box, _ := l.Layout([]Span{{Text: "aa bb"}}, 3*7)
	if len(box.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(box.Lines))
	}
	if got := box.Lines[0].Spans[0].Text; got != "aa" {
		t.Fatalf("first line = %q", got)
	}
	if box.Lines[0].Width != 14 {
		t.Fatalf("first line width = %v, want 14", box.Lines[0].Width)
	}
}

func TestWordWrap_Newlines(t *testing.T) {
	l := NewWordWrap(BasicProvider{})
	box, _ := l.Layout([]Span{{Text: "a\n\nb"}}, 0)
	if len(box.Lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(box.Lines))
	}
}

func TestWordWrap_Empty(t *testing.T) {
	box, err := NewWordWrap(nil).Layout(nil, 100)
	if err != nil || len(box.Lines) != 1 {
		t.Fatalf("empty layout = %+v, %v", box, err)
	}
}

func TestMeasure_Deterministic(t *testing.T) {
	w1, h1 := Measure(BasicProvider{}, []Span{{Text: "ABC"}})
	w2, h2 := Measure(BasicProvider{}, []Span{{Text: "A"}, {Text: "BC"}})
	if w1 != w2 || h1 != h2 {
		t.Fatalf("expected same measure, got w1=%v h1=%v vs w2=%v h2=%v", w1, h1, w2, h2)
	}
}

func TestOTProvider_Fallback(t *testing.T) {
	otp := OTProvider{Lib: NewFontLibrary()}
	w, h := Measure(otp, []Span{{Text: "Hello", Font: FontSpec{Family: "Nonexistent", SizePx: 12}}})
	if w <= 0 || h <= 0 {
		t.Fatalf("expected positive measure with fallback: w=%v h=%v", w, h)
	}
}

func TestOTProvider_SizeScales(t *testing.T) {
	p := NewOTProvider(DefaultLibrary())
	w16, _ := Measure(p, []Span{{Text: "Flyer", Font: FontSpec{Family: FamilySans, SizePx: 16}}})
	w32, _ := Measure(p, []Span{{Text: "Flyer", Font: FontSpec{Family: FamilySans, SizePx: 32}}})
	if !(w32 > 1.8*w16) {
		t.Fatalf("doubling size should roughly double width: %v vs %v", w16, w32)
	}
	bold, _ := Measure(p, []Span{{Text: "Flyer", Font: FontSpec{Family: FamilySans, SizePx: 16, Weight: 700}}})
	if bold == w16 {
		t.Fatal("bold face not selected")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Brand-Bold.ttf"), goregular.TTF, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Broken-Regular.ttf"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644)
	lib := NewFontLibrary()
	n, err := lib.LoadDir(dir)
	if n != 1 {
		t.Fatalf("loaded %d fonts, want 1", n)
	}
	if err == nil || !strings.Contains(err.Error(), "Broken-Regular.ttf") {
		t.Fatalf("expected error naming broken font, got %v", err)
	}
	if !lib.Has("brand") {
		t.Fatalf("families = %v", lib.Families())
	}
}
