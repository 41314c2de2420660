/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */

// Package templatepack moves flyer templates between installations as zip
// archives with a pack.toml manifest.
package templatepack

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"flyerpro/internal/domain"
	"flyerpro/internal/export"
	applog "flyerpro/internal/log"
	"flyerpro/internal/storage"
	"flyerpro/internal/version"
)

const (
	ManifestName = "pack.toml"
	TemplatesDir = "templates"

	// maxTemplateBytes caps a single template read from an archive.
	maxTemplateBytes = 4 << 20
)

// Manifest is the pack.toml document.
type Manifest struct {
	Name      string    `toml:"name"`
	Created   time.Time `toml:"created"`
	Generator string    `toml:"generator,omitempty"`
	Templates []Entry   `toml:"template"`
}

// Entry points at one template file inside the archive.
type Entry struct {
	Name string `toml:"name"`
	File string `toml:"file"`
}

// Pack is an imported set of templates.
type Pack struct {
	Name      string
	Created   time.Time
	Templates []domain.Template
}

// Store is the part of the library Install needs.
type Store interface {
	Get(ctx context.Context, name string) (storage.Entry, error)
	Save(ctx context.Context, tpl domain.Template) error
}

// Export writes templates into a zip at zipPath: pack.toml at the root and
// one templates/<name>.html per template. Templates with an empty name are skipped.
func Export(name string, templates []domain.Template, zipPath string) error {
	l := applog.WithOperation(applog.WithComponent("templatepack"), "export").With(slog.String("zip", zipPath))
	if strings.TrimSpace(zipPath) == "" {
		return errors.New("zipPath is required")
	}
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath))
	}
	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		return fmt.Errorf("ensure zip dir: %w", err)
	}

	m := Manifest{Name: name, Created: time.Now().UTC().Truncate(time.Second), Generator: "flyerpro " + version.Version}
	files := map[string]string{}
	for _, t := range templates {
		tn := strings.TrimSpace(t.Name)
		if tn == "" {
			continue
		}
		base := export.SafeBaseName(tn)
		if base == "" {
			base = "template"
		}
		file := path.Join(TemplatesDir, base+".html")
		// distinct names can clean to the same file
		for i := 2; files[file] != ""; i++ {
			file = path.Join(TemplatesDir, fmt.Sprintf("%s-%d.html", base, i))
		}
		files[file] = t.HTML
		m.Templates = append(m.Templates, Entry{Name: tn, File: file})
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(ManifestName)
	if err != nil {
		return fmt.Errorf("add manifest: %w", err)
	}
	if err := toml.NewEncoder(w).Encode(m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	for _, e := range m.Templates {
		fw, err := zw.Create(e.File)
		if err != nil {
			return fmt.Errorf("add %s: %w", e.File, err)
		}
		if _, err := io.WriteString(fw, files[e.File]); err != nil {
			return fmt.Errorf("write %s: %w", e.File, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish zip: %w", err)
	}
	// On Windows, remove destination if present before create
	_ = os.Remove(zipPath)
	if err := os.WriteFile(zipPath, buf.Bytes(), 0o644); err != nil {
		l.Error("write pack failed", slog.Any("err", err))
		return fmt.Errorf("write zip: %w", err)
	}
	l.Info("template pack exported", slog.Int("templates", len(m.Templates)))
	return nil
}

// Import reads a pack archive. Entries whose file is missing from the archive
// are skipped with a warning.
func Import(zipPath string) (Pack, error) {
	l := applog.WithOperation(applog.WithComponent("templatepack"), "import").With(slog.String("zip", zipPath))
	var p Pack
	if strings.TrimSpace(zipPath) == "" {
		return p, errors.New("zipPath is required")
	}
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return p, fmt.Errorf("open pack: %w", err)
	}
	defer func() { _ = r.Close() }()

	byName := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		byName[path.Clean(f.Name)] = f
	}
	mf, ok := byName[ManifestName]
	if !ok {
		return p, fmt.Errorf("pack has no %s", ManifestName)
	}
	raw, err := readFile(mf)
	if err != nil {
		return p, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if _, err := toml.Decode(string(raw), &m); err != nil {
		return p, fmt.Errorf("parse manifest: %w", err)
	}
	p.Name, p.Created = strings.TrimSpace(m.Name), m.Created

	seen := map[string]bool{}
	for _, e := range m.Templates {
		f, ok := byName[path.Clean(e.File)]
		if !ok || f.FileInfo().IsDir() {
			l.Warn("skip missing template file", slog.String("file", e.File))
			continue
		}
		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = strings.TrimSuffix(path.Base(e.File), path.Ext(e.File))
		}
		if seen[name] {
			l.Warn("skip duplicate template", slog.String("name", name))
			continue
		}
		data, err := readFile(f)
		if err != nil {
			return p, fmt.Errorf("read %s: %w", e.File, err)
		}
		seen[name] = true
		p.Templates = append(p.Templates, domain.Template{Name: name, HTML: string(data)})
	}
	l.Info("template pack read", slog.String("pack", p.Name), slog.Int("templates", len(p.Templates)))
	return p, nil
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, maxTemplateBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxTemplateBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxTemplateBytes)
	}
	return data, nil
}

// Install stores the pack's templates into the library. Existing names are
// not overwritten. Returns the count of templates installed.
func Install(ctx context.Context, lib Store, p Pack) (int, error) {
	l := applog.WithOperation(applog.WithComponent("templatepack"), "install").With(slog.String("pack", p.Name))
	installed := 0
	for _, t := range p.Templates {
		if err := ctx.Err(); err != nil {
			return installed, err
		}
		_, err := lib.Get(ctx, t.Name)
		switch {
		case err == nil:
			l.Warn("skip existing template", slog.String("name", t.Name))
			continue
		case !errors.Is(err, storage.ErrNotFound):
			return installed, fmt.Errorf("lookup %s: %w", t.Name, err)
		}
		if err := lib.Save(ctx, t); err != nil {
			return installed, fmt.Errorf("save %s: %w", t.Name, err)
		}
		installed++
	}
	l.Info("template pack installed", slog.Int("templates", installed))
	return installed, nil
}

// InstallDir writes the pack's templates as <dir>/<name>.html, skipping files
// that already exist. Returns the count of files written.
func InstallDir(dir string, p Pack) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, errors.New("dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("ensure templates dir: %w", err)
	}
	installed := 0
	for _, t := range p.Templates {
		base := export.SafeBaseName(t.Name)
		if base == "" {
			continue
		}
		target := filepath.Join(dir, base+".html")
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.WriteFile(target, []byte(t.HTML), 0o644); err != nil {
			return installed, err
		}
		installed++
	}
	return installed, nil
}

// LoadDir reads every *.html file in dir as a template named after the file.
func LoadDir(dir string) ([]domain.Template, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []domain.Template
	for _, e := range ents {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".html") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Template{Name: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), HTML: string(data)})
	}
	return out, nil
}
