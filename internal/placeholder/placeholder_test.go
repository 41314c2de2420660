/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package placeholder

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScan(t *testing.T) {
	cases := []struct {
		name string
		tpl  string
		want VariableSet
	}{
		{"dedupe keeps first-seen order", "{{A}}{{B}}{{A}}", VariableSet{Names: []string{"A", "B"}}},
		{"whitespace tolerant", "<h1>{{  TITLE }}</h1><p>{{\tBODY\n}}</p>", VariableSet{Names: []string{"TITLE", "BODY"}}},
		{"qr excluded", "{{NAME}} {{QR_CODE}} {{ QR_CODE }}", VariableSet{Names: []string{"NAME"}, HasQR: true}},
		{"malformed ignored", "{{OPEN} {{ }} {NAME}} {{bad-name}}", VariableSet{Names: []string{}}},
		{"empty template", "", VariableSet{Names: []string{}}},
		{"case sensitive", "{{name}}{{NAME}}", VariableSet{Names: []string{"name", "NAME"}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if diff := cmp.Diff(c.want, Scan(c.tpl)); diff != "" {
				t.Fatalf("Scan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	cases := map[string]string{
		"  event date ":   "EVENT_DATE",
		"nama   produk":   "NAMA_PRODUK",
		"price ($)":       "PRICE_",
		"already_CLEAN_1": "ALREADY_CLEAN_1",
		"   ":             "",
	}
	for in, want := range cases {
		if got := CleanName(in); got != want {
			t.Fatalf("CleanName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestForNameQuotesAndTolerates(t *testing.T) {
	re := ForName("A_1")
	if !re.MatchString("{{ A_1 }}") || re.MatchString("{{A_12}}") {
		t.Fatalf("unexpected match behavior for %v", re)
	}
	if Token("X") != "{{X}}" || Label("NAMA_PRODUK") != "NAMA PRODUK" {
		t.Fatalf("Token/Label mismatch")
	}
	if !(VariableSet{Names: []string{"X"}}).Contains("X") {
		t.Fatalf("Contains failed")
	}
}

func TestIsIdentifier(t *testing.T) {
	for _, name := range []string{"name", "NAME", "a_1", "_", "Mixed9"} {
		if !IsIdentifier(name) {
			t.Errorf("IsIdentifier(%q) = false", name)
		}
	}
	for _, name := range []string{"", "bad name", "a-b", "{{A}}", "é"} {
		if IsIdentifier(name) {
			t.Errorf("IsIdentifier(%q) = true", name)
		}
	}
}
