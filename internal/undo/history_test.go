/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package undo

import (
	"strings"
	"testing"
	"time"
)

func TestUndoRedoRoundTrip(t *testing.T) {
	h := NewHistory(Config{})
	t0 := time.Now()
	h.Record("a", t0)
	h.Record("b", t0.Add(time.Second))

	prev, ok := h.Undo("c")
	if !ok || prev != "b" {
		t.Fatalf("undo = %q %v, want b", prev, ok)
	}
	prev, ok = h.Undo("b")
	if !ok || prev != "a" {
		t.Fatalf("undo = %q %v, want a", prev, ok)
	}
	if _, ok := h.Undo("a"); ok {
		t.Fatalf("expected empty undo stack")
	}
	next, ok := h.Redo("a")
	if !ok || next != "b" {
		t.Fatalf("redo = %q %v, want b", next, ok)
	}
	next, ok = h.Redo("b")
	if !ok || next != "c" {
		t.Fatalf("redo = %q %v, want c", next, ok)
	}
	if u, r := h.Depth(); u != 2 || r != 0 {
		t.Fatalf("depth = %d/%d", u, r)
	}
}

func TestRecordCoalescesBursts(t *testing.T) {
	h := NewHistory(Config{MinInterval: 100 * time.Millisecond})
	t0 := time.Now()
	h.Record("", t0)
	h.Record("H", t0.Add(10*time.Millisecond))
	h.Record("He", t0.Add(20*time.Millisecond))
	if u, _ := h.Depth(); u != 1 {
		t.Fatalf("expected one coalesced step, got %d", u)
	}
	prev, _ := h.Undo("Hel")
	if prev != "" {
		t.Fatalf("undo should return state before the burst, got %q", prev)
	}
}

func TestNewChangeClearsRedo(t *testing.T) {
	h := NewHistory(Config{})
	h.Record("a", time.Now())
	h.Undo("b")
	h.Record("a", time.Now())
	if _, ok := h.Redo("x"); ok {
		t.Fatalf("redo should be cleared by a new change")
	}
}

func TestCaps(t *testing.T) {
	h := NewHistory(Config{MaxDepth: 2})
	t0 := time.Now()
	for i := 0; i < 10; i++ {
		h.Record(strings.Repeat("x", i), t0.Add(time.Duration(i)*time.Second))
	}
	if u, _ := h.Depth(); u != 2 {
		t.Fatalf("MaxDepth not enforced: %d", u)
	}

	h = NewHistory(Config{MaxBytes: 10})
	for i := 0; i < 5; i++ {
		h.Record("xxxxx", t0.Add(time.Duration(i)*time.Second))
	}
	if u, _ := h.Depth(); u != 2 {
		t.Fatalf("MaxBytes not enforced: %d", u)
	}
	h.Reset()
	if u, r := h.Depth(); u != 0 || r != 0 {
		t.Fatalf("reset left %d/%d", u, r)
	}
}
