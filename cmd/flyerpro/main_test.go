/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zalando/go-keyring"

	"flyerpro/internal/config"
	"flyerpro/internal/storage"
)

func isolate(t *testing.T) {
	t.Helper()
	keyring.MockInit()
	t.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv(config.EnvAdminToken, "")
	t.Setenv(config.EnvTelemetryOptIn, "false")
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(config.EnvLogFile, "")
	t.Setenv(config.EnvLibraryDriver, "")
	t.Setenv(config.EnvLibraryDSN, "")
	t.Cleanup(func() { setWorkspace(nil) })
}

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return out.String(), errOut.String(), code
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, code := runCLI(t, args...)
	if code != 0 {
		t.Fatalf("run %v: exit %d\nstderr: %s", args, code, errOut)
	}
	return out
}

func writeTemplate(t *testing.T, dir, name, html string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(html), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestVersionAndUsage(t *testing.T) {
	isolate(t)
	if out := mustRun(t, "version"); strings.TrimSpace(out) == "" {
		t.Fatal("version printed nothing")
	}
	if out := mustRun(t, "help"); !strings.Contains(out, "flyerpro serve") {
		t.Fatalf("usage missing serve:\n%s", out)
	}
	if _, _, code := runCLI(t); code != 2 {
		t.Fatalf("no args exit = %d, want 2", code)
	}
	_, errOut, code := runCLI(t, "frobnicate")
	if code != 2 || !strings.Contains(errOut, "unknown command") {
		t.Fatalf("unknown command: code=%d stderr=%q", code, errOut)
	}
}

func TestPresetsLists(t *testing.T) {
	isolate(t)
	out := mustRun(t, "presets")
	if !strings.Contains(out, "promo") {
		t.Fatalf("presets output missing promo:\n%s", out)
	}
}

func TestScan(t *testing.T) {
	isolate(t)
	src := writeTemplate(t, t.TempDir(), "card.html", "<h1>{{TITLE}}</h1><p>{{ BODY }}</p>{{TITLE}}{{QR_CODE}}")

	out := mustRun(t, "scan", src)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	want := []string{"TITLE\tTITLE", "BODY\tBODY", "QR_CODE\t(generated from -qr)"}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("scan (-want +got):\n%s", diff)
	}

	out = mustRun(t, "scan", src, "-json")
	if !strings.Contains(out, `"hasQr": true`) || !strings.Contains(out, `"BODY"`) {
		t.Fatalf("json scan = %s", out)
	}

	if _, _, code := runCLI(t, "scan"); code != 2 {
		t.Fatalf("scan without src exit = %d, want 2", code)
	}
	if _, _, code := runCLI(t, "scan", filepath.Join(t.TempDir(), "missing.html")); code != 1 {
		t.Fatalf("scan missing file exit = %d, want 1", code)
	}
}

func TestRenderAppliesValues(t *testing.T) {
	isolate(t)
	out := mustRun(t, "render", "preset:promo", "-set", "NAMA_PRODUK=Kopi Susu", "-set", "DISKON=25")
	if !strings.Contains(out, "Kopi Susu") || !strings.Contains(out, "25%") {
		t.Fatalf("values not applied:\n%s", out)
	}
	if strings.Contains(out, "{{DISKON}}") {
		t.Fatal("placeholder left in output")
	}
}

func TestRenderModesAndFlagErrors(t *testing.T) {
	isolate(t)
	src := writeTemplate(t, t.TempDir(), "t.html", "<p>{{MSG}}</p>")

	out := mustRun(t, "render", src, "-set", "MSG=<b>hi</b>", "-mode", "escape")
	if !strings.Contains(out, "&lt;b&gt;hi&lt;/b&gt;") {
		t.Fatalf("escape mode output = %q", out)
	}
	out = mustRun(t, "render", src, "-set", "MSG=<b>hi</b>")
	if !strings.Contains(out, "<b>hi</b>") {
		t.Fatalf("raw mode output = %q", out)
	}

	cases := [][]string{
		{"render", src, "-set", "novalue"},
		{"render", src, "-set", "bad name=x"},
		{"render", src, "-mode", "loud"},
		{"render", src, "-theme", "not-a-color"},
		{"render", src, "-nope"},
	}
	for _, args := range cases {
		if _, _, code := runCLI(t, args...); code != 2 {
			t.Errorf("run %v exit = %d, want 2", args, code)
		}
	}
}

func TestRenderLowercaseVariable(t *testing.T) {
	isolate(t)
	src := writeTemplate(t, t.TempDir(), "t.html", "<p>Hello {{name}}</p>")
	out := mustRun(t, "render", src, "-set", "name=World")
	if strings.TrimSpace(out) != "<p>Hello World</p>" {
		t.Fatalf("render = %q", out)
	}
}

func TestExportSingleFormats(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	src := writeTemplate(t, dir, "t.html", `<div style="width:200px;height:100px;background:var(--theme-color)">{{MSG}}</div>`)

	htmlOut := filepath.Join(dir, "out", "flyer.html")
	mustRun(t, "export", src, "-format", "html", "-out", htmlOut, "-set", "MSG=Hello", "-theme", "#ff0000", "-name", "Sale")
	doc, err := os.ReadFile(htmlOut)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<!DOCTYPE html>", "Hello", "#ff0000"} {
		if !strings.Contains(string(doc), want) {
			t.Errorf("html export missing %q", want)
		}
	}

	pngOut := filepath.Join(dir, "flyer.png")
	out := mustRun(t, "export", src, "-format", "png", "-out", pngOut, "-scale", "1")
	if strings.TrimSpace(out) != pngOut {
		t.Fatalf("export printed %q, want %q", out, pngOut)
	}
	data, err := os.ReadFile(pngOut)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatal("png export is not a PNG")
	}

	if _, _, code := runCLI(t, "export", src, "-format", "gif"); code != 2 {
		t.Fatalf("unknown format exit = %d, want 2", code)
	}
	if _, _, code := runCLI(t, "export", src, "-preset", "poster"); code != 2 {
		t.Fatalf("unknown preset exit = %d, want 2", code)
	}
}

func TestExportBatch(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	src := writeTemplate(t, dir, "t.html", `<div style="width:120px;height:80px">{{MSG}}</div>`)
	out := mustRun(t, "export", src, "-preset", "web", "-dir", dir, "-scale", "1", "-name", "batch")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("batch wrote %d files, want 2:\n%s", len(lines), out)
	}
	for _, p := range lines {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing batch output %s: %v", p, err)
		}
	}
}

func TestInitOpenAndWorkspaceExport(t *testing.T) {
	isolate(t)
	root := filepath.Join(t.TempDir(), "summer")
	mustRun(t, "init", root, "-name", "Summer Sale", "-theme", "#ff0000")

	out := mustRun(t, "open", root)
	for _, want := range []string{"Opened flyer: Summer Sale", "Template: promo", "Theme: #ff0000", "Filled: 0/2"} {
		if !strings.Contains(out, want) {
			t.Errorf("open output missing %q:\n%s", want, out)
		}
	}
	if ws := currentWorkspace(); ws == nil || ws.Flyer.Name != "Summer Sale" {
		t.Fatalf("current workspace = %+v", ws)
	}

	if _, _, code := runCLI(t, "init", root); code != 1 {
		t.Fatalf("second init exit = %d, want 1", code)
	}
	if _, _, code := runCLI(t, "init", filepath.Join(t.TempDir(), "x"), "-preset", "nope"); code != 2 {
		t.Fatalf("unknown preset exit = %d, want 2", code)
	}

	out = mustRun(t, "export", root, "-format", "html", "-set", "DISKON=40")
	want := filepath.Join(root, storage.ExportsDirName, "Summer-Sale.html")
	if got := strings.TrimSpace(out); got != want {
		t.Fatalf("workspace export went to %q, want %q", got, want)
	}

	lib, err := storage.OpenSQLite(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lib.Close() }()
	recs, err := lib.Exports(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Format != "html" || recs[0].Name != "Summer Sale" || recs[0].Bytes == 0 {
		t.Fatalf("export history = %+v", recs)
	}
}

func TestPackRoundTrip(t *testing.T) {
	isolate(t)
	base := t.TempDir()
	src := filepath.Join(base, "a")
	dst := filepath.Join(base, "b")
	mustRun(t, "init", src)
	mustRun(t, "init", dst)
	writeTemplate(t, filepath.Join(src, storage.TemplatesDirName), "menu.html", "<h1>{{DISH}}</h1>")

	zipPath := filepath.Join(base, "packs", "menus.zip")
	out := mustRun(t, "pack", "export", zipPath, "-dir", src, "-name", "Menus")
	if !strings.Contains(out, "Exported 1 templates") {
		t.Fatalf("pack export output = %q", out)
	}

	out = mustRun(t, "pack", "import", zipPath, "-dir", dst)
	if !strings.Contains(out, `Installed 1 of 1 templates from "Menus" (1 files)`) {
		t.Fatalf("pack import output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dst, storage.TemplatesDirName, "menu.html")); err != nil {
		t.Fatalf("template file not installed: %v", err)
	}
	lib, err := storage.OpenSQLite(context.Background(), dst)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lib.Close() }()
	e, err := lib.Get(context.Background(), "menu")
	if err != nil {
		t.Fatalf("library entry: %v", err)
	}
	if e.HTML != "<h1>{{DISH}}</h1>" {
		t.Fatalf("installed html = %q", e.HTML)
	}

	if _, _, code := runCLI(t, "pack"); code != 2 {
		t.Fatalf("pack without sub exit = %d, want 2", code)
	}
	if _, _, code := runCLI(t, "pack", "sync", zipPath); code != 2 {
		t.Fatalf("unknown pack sub exit = %d, want 2", code)
	}
}
