/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage implements workspace persistence and the template library.
// A workspace is a directory holding the canonical JSON manifest (flyer.json)
// with atomic writes and timestamped backups.
// The library keeps saved templates and the export history in SQL: an
// embedded SQLite database at <workspace>/.flyer/library.sqlite, or PostgreSQL
// for a shared library.
package storage
