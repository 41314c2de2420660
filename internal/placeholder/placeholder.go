/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package placeholder finds {{IDENTIFIER}} tokens in flyer templates.
package placeholder

import (
	"regexp"
	"strings"

	"flyerpro/internal/domain"
)

// Pattern matches a placeholder, tolerating whitespace inside the braces.
// Group 1 is the identifier.
var Pattern = regexp.MustCompile(`{{\s*([A-Za-z0-9_]+)\s*}}`)

var identifier = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// IsIdentifier reports whether name can appear inside a placeholder.
// Case is preserved: {{name}} and {{NAME}} are distinct variables.
func IsIdentifier(name string) bool { return identifier.MatchString(name) }

// VariableSet is the editable view of a template: identifiers in first-seen
// order without duplicates, plus whether the reserved QR placeholder occurs.
type VariableSet struct {
	Names []string `json:"names"`
	HasQR bool     `json:"hasQr"`
}

// Scan extracts the variable set from tpl. Malformed tokens are not matched.
func Scan(tpl string) VariableSet {
	vs := VariableSet{Names: []string{}}
	seen := make(map[string]struct{})
	for _, m := range Pattern.FindAllStringSubmatch(tpl, -1) {
		name := m[1]
		if name == domain.QRVariable {
			vs.HasQR = true
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		vs.Names = append(vs.Names, name)
	}
	return vs
}

// Contains reports whether name is one of the editable identifiers.
func (vs VariableSet) Contains(name string) bool {
	for _, n := range vs.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Token renders name as a placeholder.
func Token(name string) string { return "{{" + name + "}}" }

// ForName returns a whitespace-tolerant matcher for one identifier.
func ForName(name string) *regexp.Regexp {
	return regexp.MustCompile(`{{\s*` + regexp.QuoteMeta(name) + `\s*}}`)
}

// CleanName turns free text typed by an operator into an identifier:
// trimmed, upper-cased, whitespace runs become "_", anything else outside
// [A-Z0-9_] is dropped.
func CleanName(raw string) string {
	fields := strings.Fields(strings.ToUpper(raw))
	joined := strings.Join(fields, "_")
	var b strings.Builder
	b.Grow(len(joined))
	for _, r := range joined {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Label is the human-readable form of an identifier used for form fields.
func Label(name string) string { return strings.ReplaceAll(name, "_", " ") }
