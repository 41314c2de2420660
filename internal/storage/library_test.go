/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"flyerpro/internal/domain"
)

func openTestLibrary(t *testing.T) *SQLLibrary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lib, err := OpenSQLite(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = lib.Close() })
	return lib
}

func TestOpenSQLiteCreatesFileAndMigrates(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	lib, err := OpenSQLite(ctx, root)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer lib.Close()
	if _, err := os.Stat(LibraryPath(root)); err != nil {
		t.Fatalf("library file missing: %v", err)
	}
	v, err := lib.SchemaVersion(ctx)
	if err != nil || v != schemaVersion {
		t.Fatalf("schema = %d (%v), want %d", v, err, schemaVersion)
	}
	var mode string
	if err := lib.DB().QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" && mode != "WAL" {
		t.Fatalf("expected WAL mode, got %s", mode)
	}
	var cnt int
	if err := lib.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('templates','template_revisions','exports')").Scan(&cnt); err != nil {
		t.Fatalf("query tables: %v", err)
	}
	if cnt != 3 {
		t.Fatalf("expected 3 tables, got %d", cnt)
	}
}

func TestReopenKeepsData(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	lib, err := OpenSQLite(ctx, root)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := lib.Save(ctx, domain.Template{Name: "kept", HTML: "<p>k</p>"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = lib.Close()

	lib, err = OpenSQLite(ctx, root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer lib.Close()
	e, err := lib.Get(ctx, "kept")
	if err != nil || e.HTML != "<p>k</p>" {
		t.Fatalf("Get after reopen = %+v, %v", e, err)
	}
}

func TestLibrarySaveGetListDelete(t *testing.T) {
	lib := openTestLibrary(t)
	ctx := context.Background()

	for _, tpl := range []domain.Template{
		{Name: "b-event", HTML: "<h1>{{EVENT}}</h1>"},
		{Name: "a-promo", HTML: "<h1>{{TITLE}}</h1>"},
	} {
		if err := lib.Save(ctx, tpl); err != nil {
			t.Fatalf("Save %s: %v", tpl.Name, err)
		}
	}
	if err := lib.Save(ctx, domain.Template{Name: "  "}); err == nil {
		t.Fatalf("expected error for empty name")
	}

	list, err := lib.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, e := range list {
		names = append(names, e.Name)
	}
	if diff := cmp.Diff([]string{"a-promo", "b-event"}, names); diff != "" {
		t.Fatalf("list order (-want +got):\n%s", diff)
	}

	e, err := lib.Get(ctx, "a-promo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(domain.Template{Name: "a-promo", HTML: "<h1>{{TITLE}}</h1>"}, e.Template()); diff != "" {
		t.Fatalf("template mismatch (-want +got):\n%s", diff)
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.Before(e.CreatedAt) {
		t.Fatalf("bad timestamps: %+v", e)
	}

	if err := lib.Delete(ctx, "a-promo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := lib.Get(ctx, "a-promo"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := lib.Delete(ctx, "a-promo"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLibraryRevisions(t *testing.T) {
	lib := openTestLibrary(t)
	ctx := context.Background()

	if err := lib.Save(ctx, domain.Template{Name: "promo", HTML: "v1"}); err != nil {
		t.Fatal(err)
	}
	// identical markup does not create a revision
	if err := lib.Save(ctx, domain.Template{Name: "promo", HTML: "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := lib.Save(ctx, domain.Template{Name: "promo", HTML: "v2"}); err != nil {
		t.Fatal(err)
	}
	if err := lib.Save(ctx, domain.Template{Name: "promo", HTML: "v3"}); err != nil {
		t.Fatal(err)
	}
	revs, err := lib.Revisions(ctx, "promo", 0)
	if err != nil {
		t.Fatalf("Revisions: %v", err)
	}
	want := []Revision{{Name: "promo", HTML: "v2"}, {Name: "promo", HTML: "v1"}}
	if diff := cmp.Diff(want, revs, cmpopts.IgnoreFields(Revision{}, "SavedAt")); diff != "" {
		t.Fatalf("revisions (-want +got):\n%s", diff)
	}
	e, _ := lib.Get(ctx, "promo")
	if e.HTML != "v3" {
		t.Fatalf("current html = %q", e.HTML)
	}
}

func TestLibraryRevisionsArePruned(t *testing.T) {
	lib := openTestLibrary(t)
	ctx := context.Background()
	for i := 0; i < MaxRevisions+5; i++ {
		if err := lib.Save(ctx, domain.Template{Name: "t", HTML: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}
	revs, err := lib.Revisions(ctx, "t", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != MaxRevisions {
		t.Fatalf("revisions = %d, want %d", len(revs), MaxRevisions)
	}
}

func TestLibrarySearch(t *testing.T) {
	lib := openTestLibrary(t)
	ctx := context.Background()
	for _, tpl := range []domain.Template{
		{Name: "Promo", HTML: "<h1>{{TITLE}}</h1>"},
		{Name: "event", HTML: "<p>{{EVENT_DATE}}</p>"},
		{Name: "cert_100%", HTML: "<p>certificate</p>"},
	} {
		if err := lib.Save(ctx, tpl); err != nil {
			t.Fatal(err)
		}
	}
	cases := map[string][]string{
		"promo":      {"Promo"},
		"event_date": {"event"},
		"100%":       {"cert_100%"},
		"nothing":    nil,
	}
	for q, want := range cases {
		t.Run(q, func(t *testing.T) {
			got, err := lib.Search(ctx, q, 10)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			var names []string
			for _, e := range got {
				names = append(names, e.Name)
			}
			if diff := cmp.Diff(want, names); diff != "" {
				t.Fatalf("search %q (-want +got):\n%s", q, diff)
			}
		})
	}
}

func TestLibraryExportHistory(t *testing.T) {
	lib := openTestLibrary(t)
	ctx := context.Background()
	id1, err := lib.RecordExport(ctx, ExportRecord{Name: "my-flyer", Format: "png", Path: "/tmp/a.png", Bytes: 10})
	if err != nil {
		t.Fatalf("RecordExport: %v", err)
	}
	id2, err := lib.RecordExport(ctx, ExportRecord{Name: "my-flyer", Format: "pdf", Path: "/tmp/a.pdf", Bytes: 20})
	if err != nil {
		t.Fatalf("RecordExport: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("ids not increasing: %d, %d", id1, id2)
	}
	recs, err := lib.Exports(ctx, 1)
	if err != nil {
		t.Fatalf("Exports: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != id2 || recs[0].Format != "pdf" || recs[0].Bytes != 20 {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if recs[0].CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}
}

func TestOpenLibraryDrivers(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenLibrary(ctx, "mongo", "", t.TempDir()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := OpenLibrary(ctx, "postgres", "", ""); err == nil {
		t.Fatalf("expected error for empty postgres dsn")
	}
	lib, err := OpenLibrary(ctx, "", "", t.TempDir())
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	_ = lib.Close()
}

func TestRebind(t *testing.T) {
	pg := &SQLLibrary{dialect: DialectPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	lite := &SQLLibrary{dialect: DialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}

// TestPostgresLibrary runs against a live server when FLY_PG_DSN is set.
func TestPostgresLibrary(t *testing.T) {
	dsn := os.Getenv("FLY_PG_DSN")
	if dsn == "" {
		t.Skip("FLY_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	lib, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer lib.Close()
	name := "pg-test-" + time.Now().Format("150405.000")
	if err := lib.Save(ctx, domain.Template{Name: name, HTML: "one"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := lib.Save(ctx, domain.Template{Name: name, HTML: "two"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	revs, err := lib.Revisions(ctx, name, 5)
	if err != nil || len(revs) != 1 || revs[0].HTML != "one" {
		t.Fatalf("revisions = %+v, %v", revs, err)
	}
	if _, err := lib.RecordExport(ctx, ExportRecord{Name: name, Format: "html", Path: "x.html"}); err != nil {
		t.Fatalf("RecordExport: %v", err)
	}
	if err := lib.Delete(ctx, name); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
