/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"flyerpro/internal/config"
	"flyerpro/internal/domain"
	"flyerpro/internal/editor"
	"flyerpro/internal/export"
	"flyerpro/internal/placeholder"
	"flyerpro/internal/presets"
	"flyerpro/internal/render"
	"flyerpro/internal/server"
	"flyerpro/internal/storage"
	"flyerpro/internal/telemetry"
	"flyerpro/internal/templatepack"
	"flyerpro/internal/textlayout"
)

const presetPrefix = "preset:"

type app struct {
	cfg    config.AppConfig
	token  string
	out    io.Writer
	errOut io.Writer
	log    *slog.Logger
	tel    *telemetry.Client
}

const telemetryFlushTimeout = 2 * time.Second

func flushTelemetry(c *telemetry.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
	defer cancel()
	c.Flush(ctx)
	c.Close()
}

// setFlags collects repeated -set NAME=VALUE flags.
type setFlags []string

func (s *setFlags) String() string     { return strings.Join(*s, ",") }
func (s *setFlags) Set(v string) error { *s = append(*s, v); return nil }

type renderFlags struct {
	sets  setFlags
	qr    string
	theme string
	mode  string
	qrSet bool
}

func (rf *renderFlags) register(fs *flag.FlagSet) {
	fs.Var(&rf.sets, "set", "variable value as NAME=VALUE (repeatable)")
	fs.StringVar(&rf.qr, "qr", "", "QR code destination")
	fs.StringVar(&rf.theme, "theme", "", "theme color")
	fs.StringVar(&rf.mode, "mode", "", "value handling: raw, escape or sanitize")
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// parse accepts positional arguments before and after flags.
func parse(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		pos = append(pos, args[0])
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return append(pos, fs.Args()...), nil
}

func needArgs(name string, pos []string, n int, what string) error {
	if len(pos) < n {
		return fmt.Errorf("%w: %s requires %s", errUsage, name, what)
	}
	return nil
}

func isWorkspace(dir string) bool {
	st, err := os.Stat(filepath.Join(dir, storage.ManifestFileName))
	return err == nil && !st.IsDir()
}

// loadSession opens src (HTML file, workspace dir or preset:<name>) and
// applies rf. The workspace is nil unless src is one.
func (a *app) loadSession(src string, rf *renderFlags) (*editor.Session, *storage.Workspace, error) {
	modeStr := a.cfg.General.RenderMode
	if rf.mode != "" {
		modeStr = rf.mode
	}
	mode, err := render.ParseMode(modeStr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	sess, err := editor.New(editor.Options{Mode: mode, ThemeColor: a.cfg.General.ThemeColor})
	if err != nil {
		return nil, nil, err
	}

	var ws *storage.Workspace
	switch {
	case strings.HasPrefix(src, presetPrefix):
		if err := sess.LoadPreset(strings.TrimPrefix(src, presetPrefix)); err != nil {
			return nil, nil, err
		}
	case isWorkspace(src):
		ws, err = storage.Open(src)
		if err != nil {
			return nil, nil, err
		}
		setWorkspace(ws)
		if err := sess.Restore(ws.Flyer); err != nil {
			return nil, nil, err
		}
	default:
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, nil, fmt.Errorf("read template: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		sess.SetTemplate(domain.Template{Name: name, HTML: string(data)})
	}

	for _, kv := range rf.sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !placeholder.IsIdentifier(k) {
			return nil, nil, fmt.Errorf("%w: -set wants NAME=VALUE, got %q", errUsage, kv)
		}
		sess.SetValue(k, v)
	}
	if rf.theme != "" {
		if err := sess.SetTheme(rf.theme); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errUsage, err)
		}
	}
	if rf.qrSet {
		if err := sess.SetQRText(rf.qr); err != nil {
			return nil, nil, err
		}
	}
	return sess, ws, nil
}

func markQR(fs *flag.FlagSet, rf *renderFlags) {
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "qr" {
			rf.qrSet = true
		}
	})
}

func (a *app) fonts() *textlayout.FontLibrary {
	lib := textlayout.DefaultLibrary()
	if dir := a.cfg.Export.FontDir; dir != "" {
		n, err := lib.LoadDir(dir)
		if err != nil {
			a.log.Warn("some fonts could not be loaded", slog.String("dir", dir), slog.Any("err", err))
		}
		a.log.Debug("fonts loaded", slog.String("dir", dir), slog.Int("count", n))
	}
	return lib
}

func (a *app) openLibrary(ctx context.Context, root string) (*storage.SQLLibrary, error) {
	return storage.OpenLibrary(ctx, a.cfg.Library.Driver, a.cfg.Library.DSN, root)
}

func (a *app) presets() error {
	for _, p := range presets.All() {
		fmt.Fprintf(a.out, "%-8s %s\n", p.Name, p.Title)
	}
	return nil
}

func (a *app) scan(args []string) error {
	fs := a.flagSet("scan")
	asJSON := fs.Bool("json", false, "print JSON")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := needArgs("scan", pos, 1, "<src>"); err != nil {
		return err
	}
	sess, _, err := a.loadSession(pos[0], &renderFlags{})
	if err != nil {
		return err
	}
	vs := sess.Variables()
	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(vs)
	}
	for _, n := range vs.Names {
		fmt.Fprintf(a.out, "%s\t%s\n", n, placeholder.Label(n))
	}
	if vs.HasQR {
		fmt.Fprintf(a.out, "%s\t(generated from -qr)\n", domain.QRVariable)
	}
	return nil
}

func (a *app) render(args []string) error {
	fs := a.flagSet("render")
	var rf renderFlags
	rf.register(fs)
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := needArgs("render", pos, 1, "<src>"); err != nil {
		return err
	}
	markQR(fs, &rf)
	sess, _, err := a.loadSession(pos[0], &rf)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, sess.Rendered())
	return err
}

var formatEvents = map[string]string{
	export.FormatPNG:  telemetry.EventExportPNG,
	export.FormatHTML: telemetry.EventExportHTML,
	export.FormatPDF:  telemetry.EventExportPDF,
}

func (a *app) export(args []string) error {
	fs := a.flagSet("export")
	var rf renderFlags
	rf.register(fs)
	format := fs.String("format", export.FormatPNG, "png, html or pdf")
	out := fs.String("out", "", "output file (single format)")
	name := fs.String("name", "", "base file name and document title")
	preset := fs.String("preset", "", "batch preset: web or print")
	dir := fs.String("dir", "", "output directory for -preset (defaults to the workspace exports dir or .)")
	scale := fs.Float64("scale", 0, "PNG scale factor")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := needArgs("export", pos, 1, "<src>"); err != nil {
		return err
	}
	markQR(fs, &rf)
	sess, ws, err := a.loadSession(pos[0], &rf)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	base := *name
	if base == "" && ws != nil {
		base = ws.Flyer.Name
	}
	if base == "" {
		base = a.cfg.Export.BaseName
	}
	pngOpt := export.PNGOptions{Scale: *scale, Fonts: a.fonts(), FetchRemote: a.cfg.Server.FetchRemoteImages}
	if pngOpt.Scale <= 0 && *preset == "" {
		pngOpt.Scale = a.cfg.Export.Scale
	}
	src := export.Source{Name: base, Rendered: sess.Rendered(), ThemeColor: sess.Theme()}

	var res export.Result
	if *preset != "" {
		p := export.PresetName(strings.ToLower(*preset))
		if p != export.PresetWeb && p != export.PresetPrint {
			return fmt.Errorf("%w: unknown preset %q (want web or print)", errUsage, *preset)
		}
		outDir := *dir
		if outDir == "" && ws != nil {
			outDir = ws.ExportsDir()
		}
		res, err = export.Batch(ctx, src, export.BatchOptions{Preset: p, OutDir: outDir, BaseName: base, PNG: pngOpt})
	} else {
		f := strings.ToLower(*format)
		target := *out
		if target == "" {
			fileBase := export.SafeBaseName(base)
			if fileBase == "" {
				fileBase = export.DefaultBaseName
			}
			target = fileBase + "." + f
			if ws != nil {
				target = filepath.Join(ws.ExportsDir(), target)
			}
		}
		res = export.Result{}
		switch f {
		case export.FormatPNG:
			err = export.ExportPNG(ctx, target, src.Rendered, src.ThemeColor, pngOpt)
		case export.FormatHTML:
			err = export.ExportHTML(target, base, src.Rendered, src.ThemeColor)
		case export.FormatPDF:
			err = export.ExportPDF(ctx, target, src.Rendered, src.ThemeColor, export.PDFOptions{PNGOptions: pngOpt, Title: base})
		default:
			return fmt.Errorf("%w: %w: %s", errUsage, export.ErrUnknownFormat, f)
		}
		if err == nil {
			res[f] = target
		}
	}
	if err != nil {
		return err
	}

	formats := make([]string, 0, len(res))
	for f := range res {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	for _, f := range formats {
		fmt.Fprintln(a.out, res[f])
		a.tel.Event(formatEvents[f], map[string]any{"preset": *preset})
	}
	if ws != nil {
		a.recordExports(ctx, ws.Root, base, res)
	}
	return nil
}

func (a *app) recordExports(ctx context.Context, root, name string, res export.Result) {
	lib, err := a.openLibrary(ctx, root)
	if err != nil {
		a.log.Warn("export history unavailable", slog.Any("err", err))
		return
	}
	defer func() { _ = lib.Close() }()
	for f, path := range res {
		rec := storage.ExportRecord{Name: name, Format: f, Path: path}
		if st, err := os.Stat(path); err == nil {
			rec.Bytes = st.Size()
		}
		if _, err := lib.RecordExport(ctx, rec); err != nil {
			a.log.Warn("record export failed", slog.Any("err", err))
		}
	}
}

func (a *app) initWorkspace(args []string) error {
	fs := a.flagSet("init")
	preset := fs.String("preset", presets.Default, "starting template")
	name := fs.String("name", "", "flyer name (defaults to the folder name)")
	theme := fs.String("theme", "", "theme color")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := needArgs("init", pos, 1, "<dir>"); err != nil {
		return err
	}
	abs, err := filepath.Abs(pos[0])
	if err != nil {
		return err
	}
	if isWorkspace(abs) {
		return fmt.Errorf("%s already holds a workspace", abs)
	}
	p, err := presets.Get(*preset)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	f := domain.Flyer{Name: *name, Template: p.Template(), Values: domain.Values{}, ThemeColor: a.cfg.General.ThemeColor}
	if *theme != "" {
		if _, err := domain.ParseColor(*theme); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		f.ThemeColor = *theme
	}
	a.log.Info("init workspace", slog.String("root", abs), slog.String("preset", p.Name))
	ws, err := storage.Init(abs, f)
	if err != nil {
		return err
	}
	setWorkspace(ws)
	fmt.Fprintln(a.out, "Created workspace at", abs)
	return nil
}

func (a *app) open(args []string) error {
	fs := a.flagSet("open")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := needArgs("open", pos, 1, "<dir>"); err != nil {
		return err
	}
	abs, err := filepath.Abs(pos[0])
	if err != nil {
		return err
	}
	ws, err := storage.Open(abs)
	if err != nil {
		return err
	}
	setWorkspace(ws)
	vs := placeholder.Scan(ws.Flyer.Template.HTML)
	fmt.Fprintf(a.out, "Opened flyer: %s\n", ws.Flyer.Name)
	fmt.Fprintf(a.out, "Template: %s\n", ws.Flyer.Template.Name)
	fmt.Fprintf(a.out, "Theme: %s\n", ws.Flyer.ThemeColor)
	fmt.Fprintf(a.out, "Variables: %s\n", strings.Join(vs.Names, ", "))
	filled := 0
	for _, n := range vs.Names {
		if ws.Flyer.Values[n] != "" {
			filled++
		}
	}
	fmt.Fprintf(a.out, "Filled: %d/%d\n", filled, len(vs.Names))
	if vs.HasQR {
		fmt.Fprintf(a.out, "QR: %s\n", ws.Flyer.QRText)
	}
	fmt.Fprintln(a.out, "Root:", ws.Root)
	return nil
}

func (a *app) pack(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: pack requires export or import", errUsage)
	}
	sub, rest := args[0], args[1:]
	fs := a.flagSet("pack " + sub)
	dir := fs.String("dir", ".", "workspace directory")
	name := fs.String("name", "", "pack name")
	pos, err := parse(fs, rest)
	if err != nil {
		return err
	}
	if err := needArgs("pack "+sub, pos, 1, "<zip>"); err != nil {
		return err
	}
	ctx := context.Background()
	switch sub {
	case "export":
		return a.packExport(ctx, *dir, *name, pos[0])
	case "import":
		return a.packImport(ctx, *dir, pos[0])
	default:
		return fmt.Errorf("%w: unknown pack command %q", errUsage, sub)
	}
}

func (a *app) packExport(ctx context.Context, dir, name, zipPath string) error {
	lib, err := a.openLibrary(ctx, dir)
	if err != nil {
		return err
	}
	defer func() { _ = lib.Close() }()
	entries, err := lib.List(ctx)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	var tpls []domain.Template
	for _, e := range entries {
		seen[e.Name] = true
		tpls = append(tpls, e.Template())
	}
	local, err := templatepack.LoadDir(filepath.Join(dir, storage.TemplatesDirName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, t := range local {
		if !seen[t.Name] {
			tpls = append(tpls, t)
		}
	}
	if err := templatepack.Export(name, tpls, zipPath); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exported %d templates to %s\n", len(tpls), zipPath)
	return nil
}

func (a *app) packImport(ctx context.Context, dir, zipPath string) error {
	p, err := templatepack.Import(zipPath)
	if err != nil {
		return err
	}
	lib, err := a.openLibrary(ctx, dir)
	if err != nil {
		return err
	}
	defer func() { _ = lib.Close() }()
	n, err := templatepack.Install(ctx, lib, p)
	if err != nil {
		return err
	}
	files := 0
	if isWorkspace(dir) {
		if files, err = templatepack.InstallDir(filepath.Join(dir, storage.TemplatesDirName), p); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.out, "Installed %d of %d templates from %q (%d files)\n", n, len(p.Templates), p.Name, files)
	return nil
}

func (a *app) serve(args []string) error {
	fs := a.flagSet("serve")
	addr := fs.String("addr", a.cfg.Server.Addr, "listen address")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	root := "."
	if len(pos) > 0 {
		root = pos[0]
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mode, err := render.ParseMode(a.cfg.General.RenderMode)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	sess, err := editor.New(editor.Options{Mode: mode, ThemeColor: a.cfg.General.ThemeColor})
	if err != nil {
		return err
	}
	var ws *storage.Workspace
	if len(pos) > 0 {
		ws, err = storage.Open(root)
		if errors.Is(err, storage.ErrNotFound) {
			ws, err = storage.Init(root, sess.Snapshot(""))
		}
		if err != nil {
			return err
		}
		setWorkspace(ws)
		if err := sess.Restore(ws.Flyer); err != nil {
			return err
		}
	}
	lib, err := a.openLibrary(ctx, root)
	if err != nil {
		return err
	}
	defer func() { _ = lib.Close() }()

	srv := server.New(sess, server.Options{
		Addr:        *addr,
		AdminToken:  a.token,
		FetchRemote: a.cfg.Server.FetchRemoteImages,
		ExportScale: a.cfg.Export.Scale,
		BaseName:    a.cfg.Export.BaseName,
		Fonts:       a.fonts(),
		Library:     lib,
		Workspace:   ws,
		Telemetry:   a.tel,
	})
	if a.token == "" {
		a.log.Warn("no admin token configured; template editing is open to every client")
	}
	fmt.Fprintf(a.out, "Serving on http://%s\n", *addr)
	runErr := srv.Run(ctx)

	if ws != nil {
		notes := ws.Flyer.Notes
		ws.Flyer = sess.Snapshot(ws.Flyer.Name)
		ws.Flyer.Notes = notes
		if err := storage.Save(ws); err != nil {
			a.log.Error("save on exit failed", slog.Any("err", err))
		} else {
			a.log.Info("workspace saved", slog.String("root", ws.Root))
		}
	}
	return runErr
}
