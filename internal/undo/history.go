/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package undo

import (
	"sync"
	"time"
)

// Config controls memory and depth caps and coalescing behavior.
type Config struct {
	// MaxBytes is a soft cap; the oldest entries are pruned when exceeded.
	MaxBytes int
	// MaxDepth limits the number of undo steps kept (0 means unlimited).
	MaxDepth int
	// MinInterval coalesces edits recorded within the interval into one undo step.
	MinInterval time.Duration
}

type entry struct {
	state string
	ts    time.Time
}

// History is an undo/redo stack of template states.
// It is safe for concurrent use.
type History struct {
	cfg  Config
	mu   sync.Mutex
	undo []entry
	redo []entry
	// last is when Record was last called; bursts within MinInterval share one step.
	last  time.Time
	bytes int
}

func NewHistory(cfg Config) *History {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 4 * 1024 * 1024
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	return &History{cfg: cfg}
}

// Record notes that the document is about to change away from prev at ts.
// Any new change invalidates redo.
func (h *History) Record(prev string, ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redo = nil
	coalesce := len(h.undo) > 0 && h.cfg.MinInterval > 0 && ts.Sub(h.last) < h.cfg.MinInterval
	h.last = ts
	if coalesce {
		// the state before the burst is already on the stack
		return
	}
	h.undo = append(h.undo, entry{state: prev, ts: ts})
	h.bytes += len(prev)
	h.enforceCapsLocked()
}

// Undo swaps current for the previous state. ok is false when there is nothing to undo.
func (h *History) Undo(current string) (prev string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undo) == 0 {
		return "", false
	}
	e := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.bytes -= len(e.state)
	h.redo = append(h.redo, entry{state: current, ts: time.Now()})
	h.last = time.Time{}
	return e.state, true
}

// Redo reverses the last Undo.
func (h *History) Redo(current string) (next string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redo) == 0 {
		return "", false
	}
	e := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, entry{state: current, ts: time.Now()})
	h.bytes += len(current)
	h.last = time.Time{}
	h.enforceCapsLocked()
	return e.state, true
}

// Reset drops all history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo, h.redo, h.bytes, h.last = nil, nil, 0, time.Time{}
}

// Depth returns the number of available undo and redo steps.
func (h *History) Depth() (undo, redo int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo), len(h.redo)
}

func (h *History) enforceCapsLocked() {
	drop := 0
	if h.cfg.MaxDepth > 0 && len(h.undo) > h.cfg.MaxDepth {
		drop = len(h.undo) - h.cfg.MaxDepth
	}
	for i := 0; i < drop; i++ {
		h.bytes -= len(h.undo[i].state)
	}
	// keep at least one step even if it alone exceeds MaxBytes
	for h.bytes > h.cfg.MaxBytes && len(h.undo)-drop > 1 {
		h.bytes -= len(h.undo[drop].state)
		drop++
	}
	if drop > 0 {
		h.undo = append([]entry(nil), h.undo[drop:]...)
	}
}
