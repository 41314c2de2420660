/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import "testing"

func TestParseColor(t *testing.T) {
	cases := []struct {
		in   string
		want Color
	}{
		{"#4f46e5", Color{R: 0x4f, G: 0x46, B: 0xe5, A: 255}},
		{"#FFF", White},
		{"#00000080", Color{A: 0x80}},
		{"rgb(1, 2, 3)", Color{R: 1, G: 2, B: 3, A: 255}},
		{"rgba(255,255,255,0.05)", Color{R: 255, G: 255, B: 255, A: 13}},
		{" White ", White},
		{"transparent", Color{}},
	}
	for _, c := range cases {
		got, err := ParseColor(c.in)
		if err != nil {
			t.Fatalf("ParseColor(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseColor(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
	for _, bad := range []string{"", "#12", "#zzzzzz", "rgb(1,2)", "rgb(300,0,0)", "hsl(1,2,3)"} {
		if _, err := ParseColor(bad); err == nil {
			t.Fatalf("ParseColor(%q) expected error", bad)
		}
	}
}

func TestColorHexAndValuesClone(t *testing.T) {
	if h := (Color{R: 0x4f, G: 0x46, B: 0xe5, A: 255}).Hex(); h != "#4f46e5" {
		t.Fatalf("Hex = %q", h)
	}
	v := Values{"A": "1"}
	c := v.Clone()
	c["A"] = "2"
	if v["A"] != "1" {
		t.Fatalf("Clone shares storage")
	}
	if Values(nil).Clone() != nil {
		t.Fatalf("nil clone should stay nil")
	}
}
