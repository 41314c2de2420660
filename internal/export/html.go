/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"flyerpro/internal/domain"
)

const htmlDocFormat = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>%s</title>
</head>
<body style="display:flex;justify-content:center;background:#f1f5f9;padding:50px;">
    <style>:root{--theme-color: %s;}</style>
    <div style="background:white;box-shadow:0 10px 25px rgba(0,0,0,0.1);">%s</div>
</body>
</html>
`

// HTMLDocument wraps rendered flyer markup into a standalone page that
// declares the theme color as the --theme-color custom property.
// An unparsable theme color is replaced by the default.
func HTMLDocument(name, rendered, themeColor string) string {
	if _, err := domain.ParseColor(themeColor); err != nil {
		themeColor = domain.DefaultThemeColor
	}
	return fmt.Sprintf(htmlDocFormat, html.EscapeString(name), strings.TrimSpace(themeColor), rendered)
}

// WriteHTML writes the standalone document to w.
func WriteHTML(w io.Writer, name, rendered, themeColor string) error {
	_, err := io.WriteString(w, HTMLDocument(name, rendered, themeColor))
	return err
}

// ExportHTML writes the standalone document to path atomically.
func ExportHTML(path, name, rendered, themeColor string) error {
	return writeFile(path, strings.NewReader(HTMLDocument(name, rendered, themeColor)))
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := atomic.WriteFile(path, r); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
