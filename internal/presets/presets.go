/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package presets holds the built-in starting templates.
package presets

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"flyerpro/internal/domain"
)

//go:embed templates/*.html
var templatesFS embed.FS

// ErrUnknownPreset is returned by Get for names that are not built in.
var ErrUnknownPreset = errors.New("unknown preset")

// Preset is a named, built-in template.
type Preset struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Icon  string `json:"icon"`
	HTML  string `json:"html"`
}

// Template converts the preset into an editable template.
func (p Preset) Template() domain.Template { return domain.Template{Name: p.Name, HTML: p.HTML} }

// Default is the preset a fresh session opens with.
const Default = "promo"

var catalog = []struct{ name, title, icon string }{
	{"promo", "Promo", "store"},
	{"event", "Event", "calendar"},
	{"cert", "Certificate", "award"},
}

// Names lists the preset names in display order.
func Names() []string {
	out := make([]string, len(catalog))
	for i, c := range catalog {
		out[i] = c.name
	}
	return out
}

// Get returns a preset by name.
func Get(name string) (Preset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range catalog {
		if c.name != name {
			continue
		}
		b, err := templatesFS.ReadFile("templates/" + c.name + ".html")
		if err != nil {
			return Preset{}, fmt.Errorf("read preset %s: %w", c.name, err)
		}
		return Preset{Name: c.name, Title: c.title, Icon: c.icon, HTML: strings.TrimRight(string(b), "\n")}, nil
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// All returns every preset in display order.
func All() []Preset {
	out := make([]Preset, 0, len(catalog))
	for _, n := range Names() {
		if p, err := Get(n); err == nil {
			out = append(out, p)
		}
	}
	return out
}
