/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"flyerpro/internal/domain"
	applog "flyerpro/internal/log"
)

const (
	ManifestFileName = "flyer.json"
	BackupsDirName   = "backups"
	ExportsDirName   = "exports"
	TemplatesDirName = "templates"

	// MaxBackups is how many manifest backups Save keeps.
	MaxBackups = 20
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidManifest = errors.New("invalid manifest")
)

var standardSubDirs = []string{
	ExportsDirName,
	BackupsDirName,
	TemplatesDirName,
	IndexDirName,
}

// Workspace is a flyer project directory loaded from disk.
// Root contains flyer.json and the standard subfolders.
type Workspace struct {
	Root         string
	ManifestPath string
	Flyer        domain.Flyer
}

// ExportsDir is where exports of this workspace go.
func (ws *Workspace) ExportsDir() string { return filepath.Join(ws.Root, ExportsDirName) }

// BackupsDir holds manifest backups and crash reports.
func (ws *Workspace) BackupsDir() string { return filepath.Join(ws.Root, BackupsDirName) }

// Init creates a workspace at root (creating it if needed), scaffolds the
// standard subfolders and writes the manifest.
func Init(root string, f domain.Flyer) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	for _, d := range standardSubDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create subdir %s: %w", d, err)
		}
	}
	ws := &Workspace{
		Root:         root,
		ManifestPath: filepath.Join(root, ManifestFileName),
		Flyer:        f,
	}
	if err := Save(ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// Open loads an existing workspace. If the manifest cannot be read, parsed
// or validated, the latest backup is used instead.
func Open(root string) (*Workspace, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "open").With(slog.String("root", root))
	mpath := filepath.Join(root, ManifestFileName)
	f, err := readManifest(mpath)
	if err == nil {
		return &Workspace{Root: root, ManifestPath: mpath, Flyer: f}, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		if _, serr := os.Stat(filepath.Join(root, BackupsDirName)); serr != nil {
			return nil, fmt.Errorf("open workspace %s: %w", root, ErrNotFound)
		}
	}
	l.Warn("manifest unreadable, trying backup", slog.Any("err", err))
	bf, berr := openFromLatestBackup(root)
	if berr != nil {
		return nil, fmt.Errorf("open manifest: %w; backup attempt: %v", err, berr)
	}
	return &Workspace{Root: root, ManifestPath: mpath, Flyer: *bf}, nil
}

func readManifest(path string) (domain.Flyer, error) {
	var f domain.Flyer
	b, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := ValidateManifest(b); err != nil {
		return f, err
	}
	if err := json.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("parse manifest: %w", err)
	}
	return f, nil
}

// Save validates and writes the manifest atomically, first copying the
// previous manifest to a timestamped backup.
func Save(ws *Workspace) error {
	if ws == nil {
		return errors.New("nil Workspace")
	}
	if ws.Root == "" || ws.ManifestPath == "" {
		return errors.New("invalid Workspace: missing paths")
	}
	if strings.TrimSpace(ws.Flyer.Name) == "" {
		ws.Flyer.Name = filepath.Base(ws.Root)
	}
	if ws.Flyer.ThemeColor == "" {
		ws.Flyer.ThemeColor = domain.DefaultThemeColor
	}
	data, err := json.MarshalIndent(ws.Flyer, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := ValidateManifest(data); err != nil {
		return err
	}

	bdir := filepath.Join(ws.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	if prev, rerr := os.ReadFile(ws.ManifestPath); rerr == nil {
		stamp := time.Now().Format("20060102-150405.000")
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", ManifestFileName, stamp))
		if err := atomic.WriteFile(bpath, bytes.NewReader(prev)); err != nil {
			return fmt.Errorf("backup current manifest: %w", err)
		}
		pruneBackups(bdir, MaxBackups)
	}
	if err := atomic.WriteFile(ws.ManifestPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// SaveAs writes the manifest to a new root folder, scaffolding structure if needed, and updates the handle.
func SaveAs(ws *Workspace, newRoot string) error {
	if ws == nil {
		return errors.New("nil Workspace")
	}
	if newRoot == "" {
		return errors.New("new root is empty")
	}
	for _, d := range standardSubDirs {
		if err := os.MkdirAll(filepath.Join(newRoot, d), 0o755); err != nil {
			return fmt.Errorf("create subdir %s: %w", d, err)
		}
	}
	ws.Root = newRoot
	ws.ManifestPath = filepath.Join(newRoot, ManifestFileName)
	return Save(ws)
}

func backupNames(bdir string) ([]string, error) {
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, ManifestFileName+".") && strings.HasSuffix(name, ".bak") {
			names = append(names, name)
		}
	}
	sort.Strings(names) // timestamp in name yields lexicographic order
	return names, nil
}

func pruneBackups(bdir string, keep int) {
	names, err := backupNames(bdir)
	if err != nil || len(names) <= keep {
		return
	}
	for _, n := range names[:len(names)-keep] {
		_ = os.Remove(filepath.Join(bdir, n))
	}
}

// openFromLatestBackup tries backups newest first and returns the first valid one.
func openFromLatestBackup(root string) (*domain.Flyer, error) {
	bdir := filepath.Join(root, BackupsDirName)
	names, err := backupNames(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	if len(names) == 0 {
		return nil, errors.New("no backups found")
	}
	var lastErr error
	for i := len(names) - 1; i >= 0; i-- {
		f, err := readManifest(filepath.Join(bdir, names[i]))
		if err == nil {
			return &f, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no usable backup: %w", lastErr)
}

// AutosaveCrash writes the in-memory flyer as a backup without touching the
// manifest, so Open can fall back to it. Returns the backup path.
func AutosaveCrash(ws *Workspace) (string, error) {
	if ws == nil || ws.Root == "" {
		return "", errors.New("invalid Workspace: missing root")
	}
	data, err := json.MarshalIndent(ws.Flyer, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	bdir := ws.BackupsDir()
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backups dir: %w", err)
	}
	stamp := time.Now().Format("20060102-150405.000")
	bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s-crash.bak", ManifestFileName, stamp))
	if err := atomic.WriteFile(bpath, bytes.NewReader(append(data, '\n'))); err != nil {
		return "", fmt.Errorf("write crash autosave: %w", err)
	}
	return bpath, nil
}
