/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"flyerpro/internal/config"
	"flyerpro/internal/crash"
	applog "flyerpro/internal/log"
	"flyerpro/internal/storage"
	"flyerpro/internal/telemetry"
	"flyerpro/internal/version"
)

// errUsage marks argument errors; run maps it to exit code 2.
var errUsage = errors.New("usage")

var (
	wsMu    sync.Mutex
	current *storage.Workspace
)

func setWorkspace(ws *storage.Workspace) {
	wsMu.Lock()
	current = ws
	wsMu.Unlock()
}

func currentWorkspace() *storage.Workspace {
	wsMu.Lock()
	defer wsMu.Unlock()
	return current
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "FlyerPro - flyer and poster generator")
	fmt.Fprintf(w, "Version: %s\n", version.String())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  flyerpro version                      Show version")
	fmt.Fprintln(w, "  flyerpro presets                      List built-in templates")
	fmt.Fprintln(w, "  flyerpro scan <src> [-json]           List the variables of a template")
	fmt.Fprintln(w, "  flyerpro render <src> [flags]         Print the rendered flyer markup")
	fmt.Fprintln(w, "  flyerpro export <src> [flags]         Export as png, html or pdf")
	fmt.Fprintln(w, "  flyerpro init <dir> [-preset p]       Create a flyer workspace")
	fmt.Fprintln(w, "  flyerpro open <dir>                   Show a workspace summary")
	fmt.Fprintln(w, "  flyerpro pack export|import <zip>     Move templates between installations")
	fmt.Fprintln(w, "  flyerpro serve [dir] [-addr a]        Start the browser editor")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "<src> is an HTML file, a workspace directory or preset:<name>.")
	fmt.Fprintln(w, "render/export flags: -set K=V (repeatable) -qr text -theme color -mode raw|escape|sanitize")
}

func main() {
	defer crash.RecoverWith(currentWorkspace)
	if code := run(os.Args[1:], os.Stdout, os.Stderr); code != 0 {
		os.Exit(code)
	}
}

// run executes one command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cfg, token, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "Config error:", err)
		return 1
	}
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Console:   stderr,
	})
	defer func() { _ = applog.Close() }()

	tel := telemetry.New(telemetry.FromEnv(cfg.General.TelemetryOptIn))
	telemetry.SetDefault(tel)
	defer flushTelemetry(tel)

	a := &app{cfg: cfg, token: token, out: stdout, errOut: stderr, log: applog.WithComponent("cli"), tel: tel}
	a.log.Debug("start", slog.Int("args", len(args)))

	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	cmd, rest := args[0], args[1:]
	var cmdErr error
	switch cmd {
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, version.String())
	case "help", "-h", "--help":
		usage(stdout)
	case "presets":
		cmdErr = a.presets()
	case "scan":
		cmdErr = a.scan(rest)
	case "render":
		cmdErr = a.render(rest)
	case "export":
		cmdErr = a.export(rest)
	case "init":
		cmdErr = a.initWorkspace(rest)
	case "open":
		cmdErr = a.open(rest)
	case "pack":
		cmdErr = a.pack(rest)
	case "serve":
		cmdErr = a.serve(rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}
	switch {
	case cmdErr == nil:
		return 0
	case errors.Is(cmdErr, errUsage):
		fmt.Fprintln(stderr, cmdErr)
		return 2
	default:
		a.log.Error(cmd+" failed", slog.Any("err", cmdErr))
		fmt.Fprintln(stderr, "Error:", cmdErr)
		return 1
	}
}
