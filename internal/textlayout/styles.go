/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import "strings"

// TextStyle is the default text style for an HTML element, in CSS pixels.
// Leading is extra px added to the line height.
type TextStyle struct {
	Name    string
	Font    FontSpec
	Leading float32
}

var builtinStyles = map[string]TextStyle{
	"body":   {Name: "body", Font: FontSpec{Family: FamilySans, SizePx: 16, Weight: 400}, Leading: 3},
	"p":      {Name: "p", Font: FontSpec{Family: FamilySans, SizePx: 16, Weight: 400}, Leading: 3},
	"h1":     {Name: "h1", Font: FontSpec{Family: FamilySans, SizePx: 32, Weight: 700}, Leading: 4},
	"h2":     {Name: "h2", Font: FontSpec{Family: FamilySans, SizePx: 24, Weight: 700}, Leading: 3},
	"h3":     {Name: "h3", Font: FontSpec{Family: FamilySans, SizePx: 18.72, Weight: 700}, Leading: 3},
	"h4":     {Name: "h4", Font: FontSpec{Family: FamilySans, SizePx: 16, Weight: 700}, Leading: 3},
	"small":  {Name: "small", Font: FontSpec{Family: FamilySans, SizePx: 13.33, Weight: 400}, Leading: 2},
	"strong": {Name: "strong", Font: FontSpec{Family: FamilySans, SizePx: 16, Weight: 700}, Leading: 3},
	"b":      {Name: "b", Font: FontSpec{Family: FamilySans, SizePx: 16, Weight: 700}, Leading: 3},
	"em":     {Name: "em", Font: FontSpec{Family: FamilySans, SizePx: 16, Weight: 400, Italic: true}, Leading: 3},
	"i":      {Name: "i", Font: FontSpec{Family: FamilySans, SizePx: 16, Weight: 400, Italic: true}, Leading: 3},
	"code":   {Name: "code", Font: FontSpec{Family: FamilyMono, SizePx: 14, Weight: 400}, Leading: 3},
}

// GetStyle returns the default style for an element name. The second return
// value is false if the element has no style of its own.
func GetStyle(tag string) (TextStyle, bool) {
	s, ok := builtinStyles[strings.ToLower(tag)]
	return s, ok
}

// ListStyles lists the styled element names in stable order.
func ListStyles() []string {
	return []string{"body", "p", "h1", "h2", "h3", "h4", "small", "strong", "b", "em", "i", "code"}
}

// ResolveFamily picks the first family from a CSS font-family list that lib
// knows. Generic names map onto the built-in families; anything else falls
// back to sans-serif.
func ResolveFamily(list string, lib *FontLibrary) string {
	for _, part := range strings.Split(list, ",") {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(part), `"'`))
		switch name {
		case "":
			continue
		case "monospace", "ui-monospace":
			return FamilyMono
		case "sans-serif", "serif", "system-ui", "ui-sans-serif", "cursive", "fantasy":
			return FamilySans
		}
		if lib.Has(name) {
			return name
		}
	}
	return FamilySans
}
