/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"flyerpro/internal/domain"
)

func TestDeclarations(t *testing.T) {
	got := declarations("color: var(--theme-color); margin:0 auto; background: var(--missing, #fff); color: red", map[string]string{"--theme-color": "#123456"})
	want := map[string]string{"color": "red", "margin": "0 auto", "background": "#fff"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("declarations (-want +got):\n%s", diff)
	}
}

func TestParseLength(t *testing.T) {
	tests := map[string]length{
		"10px":  {v: 10, unit: "px"},
		"50%":   {v: 50, unit: "%"},
		"1.5em": {v: 1.5, unit: "em"},
		"auto":  {unit: "auto"},
		"0":     {unit: "px"},
		"wide":  {},
	}
	for in, want := range tests {
		if got := parseLength(in); got != want {
			t.Errorf("parseLength(%q) = %+v, want %+v", in, got, want)
		}
	}
}

func TestEdges(t *testing.T) {
	e := edges("1px 2px 3px")
	got := [4]float64{e[0].v, e[1].v, e[2].v, e[3].v}
	if got != [4]float64{1, 2, 3, 2} {
		t.Fatalf("edges = %v", got)
	}
}

func TestFieldsKeepsFunctions(t *testing.T) {
	got := fields("1px solid rgba(0, 0, 0, 0.5)")
	want := []string{"1px", "solid", "rgba(0, 0, 0, 0.5)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fields (-want +got):\n%s", diff)
	}
	b := parseBorder("1px solid rgba(0, 0, 0, 0.5)", domain.Black)
	if b.width != 1 || b.color.A != 128 {
		t.Fatalf("border = %+v", b)
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, err := DecodeDataURL("data:text/plain;base64,aGk=")
	if err != nil || string(data) != "hi" {
		t.Fatalf("DecodeDataURL = %q, %v", data, err)
	}
	if _, err := DecodeDataURL("nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCollapse(t *testing.T) {
	tests := map[string]string{
		"  a \n b ": " a b ",
		"\n\t":      " ",
		"x":         "x",
	}
	for in, want := range tests {
		if got := collapse(in); got != want {
			t.Errorf("collapse(%q) = %q, want %q", in, got, want)
		}
	}
}
