/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package crash turns panics into crash reports and a last-chance autosave
// of the open workspace.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "flyerpro/internal/log"
	"flyerpro/internal/storage"
	"flyerpro/internal/telemetry"
	"flyerpro/internal/version"
)

// exitFn is swapped in tests so Recover does not end the process.
var exitFn = os.Exit

// Recover captures a panic, logs it, writes a report, autosaves the
// workspace (if any) and exits with code 2.
//
// Usage: defer crash.Recover(ws)
func Recover(ws *storage.Workspace) {
	if r := recover(); r != nil {
		fatal(ws, r)
	}
}

// RecoverWith is Recover for callers whose workspace is opened after the
// defer statement; current is asked for it only when a panic happened.
//
// Usage: defer crash.RecoverWith(func() *storage.Workspace { return ws })
func RecoverWith(current func() *storage.Workspace) {
	if r := recover(); r != nil {
		var ws *storage.Workspace
		if current != nil {
			ws = current()
		}
		fatal(ws, r)
	}
}

func fatal(ws *storage.Workspace, r any) {
	reportPath := Report(ws, r, debug.Stack())
	fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath)
	fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH)
	exitFn(2)
}

// Report handles a recovered panic value without exiting. It returns the
// report path (empty if the report could not be written).
func Report(ws *storage.Workspace, panicVal any, stack []byte) string {
	l := applog.WithComponent("crash")
	l.Error("panic recovered", slog.Any("panic", panicVal), slog.String("stack", string(stack)))

	path, err := writeReport(ws, panicVal, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err), slog.String("path", path))
		path = ""
	}
	if ws != nil {
		if bp, err := storage.AutosaveCrash(ws); err != nil {
			l.Error("crash autosave failed", slog.Any("err", err))
		} else {
			l.Info("crash autosave written", slog.String("path", bp))
		}
	}
	return path
}

func writeReport(ws *storage.Workspace, panicVal any, stack []byte) (string, error) {
	dir := os.TempDir()
	if ws != nil && ws.Root != "" {
		dir = ws.BackupsDir()
		_ = os.MkdirAll(dir, 0o755)
	}
	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", now.Format("20060102-150405.000")))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "FlyerPro Crash Report\n")
	fmt.Fprintf(&buf, "Timestamp: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&buf, "Version: %s\n", version.String())
	fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if ws != nil {
		fmt.Fprintf(&buf, "Workspace: %s\n", ws.Root)
		fmt.Fprintf(&buf, "Template: %s\n", ws.Flyer.Template.Name)
	}
	fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	fmt.Fprintf(&buf, "Stack:\n%s\n", stack)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return path, err
	}
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
