/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package render substitutes placeholder values into flyer templates.
//
// Substitution is a single pass over the template: a value that itself looks
// like {{NAME}} is inserted literally and never expanded again. Unknown
// placeholders are left in place so the operator can see what is missing.
package render

import (
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"flyerpro/internal/domain"
	"flyerpro/internal/placeholder"
)

// Mode selects how user values are treated before insertion.
type Mode string

const (
	// ModeRaw inserts values verbatim; markup in a value is live markup.
	ModeRaw Mode = "raw"
	// ModeEscape HTML-escapes values.
	ModeEscape Mode = "escape"
	// ModeSanitize keeps a small set of inline formatting tags and strips the rest.
	ModeSanitize Mode = "sanitize"
)

// ParseMode maps a config string to a Mode. Empty means raw.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeRaw:
		return ModeRaw, nil
	case ModeEscape, ModeSanitize:
		return m, nil
	default:
		return "", fmt.Errorf("unknown render mode %q", s)
	}
}

// Substitute replaces every placeholder whose identifier has an entry in values.
func Substitute(tpl string, values map[string]string) string {
	if len(values) == 0 || tpl == "" {
		return tpl
	}
	return placeholder.Pattern.ReplaceAllStringFunc(tpl, func(tok string) string {
		m := placeholder.Pattern.FindStringSubmatch(tok)
		if v, ok := values[m[1]]; ok {
			return v
		}
		return tok
	})
}

// Renderer applies a Mode to values and substitutes them.
// The zero value renders in raw mode.
type Renderer struct {
	Mode Mode
}

// Render substitutes values into tpl. The QR_CODE value is generated markup and
// is never escaped or sanitized.
func (r Renderer) Render(tpl string, values map[string]string) string {
	if r.Mode == "" || r.Mode == ModeRaw {
		return Substitute(tpl, values)
	}
	prepared := make(map[string]string, len(values))
	for k, v := range values {
		if k == domain.QRVariable {
			prepared[k] = v
			continue
		}
		switch r.Mode {
		case ModeEscape:
			prepared[k] = html.EscapeString(v)
		case ModeSanitize:
			prepared[k] = valuePolicy().Sanitize(v)
		default:
			prepared[k] = v
		}
	}
	return Substitute(tpl, prepared)
}

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

func valuePolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.StrictPolicy()
		p.AllowElements("b", "i", "em", "strong", "br", "u", "small", "sup", "sub")
		p.AllowAttrs("style").OnElements("span")
		p.AllowStyles("color", "font-weight", "font-style", "text-decoration").OnElements("span")
		p.AllowElements("span")
		policy = p
	})
	return policy
}
