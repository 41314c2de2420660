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
	"time"

	"flyerpro/internal/domain"
)

// Entry is a template saved in the library.
type Entry struct {
	Name      string    `json:"name"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Template converts the entry for the editor.
func (e Entry) Template() domain.Template { return domain.Template{Name: e.Name, HTML: e.HTML} }

// Revision is a previous version of a library template.
type Revision struct {
	Name    string    `json:"name"`
	HTML    string    `json:"html"`
	SavedAt time.Time `json:"savedAt"`
}

// ExportRecord notes one export that was written.
type ExportRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Format    string    `json:"format"`
	Path      string    `json:"path"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// Library stores templates and the export history.
// Get and Delete return ErrNotFound for unknown names.
type Library interface {
	Save(ctx context.Context, tpl domain.Template) error
	Get(ctx context.Context, name string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Search(ctx context.Context, text string, limit int) ([]Entry, error)
	Delete(ctx context.Context, name string) error
	Revisions(ctx context.Context, name string, limit int) ([]Revision, error)
	RecordExport(ctx context.Context, rec ExportRecord) (int64, error)
	Exports(ctx context.Context, limit int) ([]ExportRecord, error)
	Close() error
}
