// worker.go - Worker goroutine lifecycle management.
// Copyright (C) 2025  jab-r.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package worker provides background worker goroutine lifecycle
// management, patterned after the components embedding it.
package worker

import "sync"

// Worker is a container for managing background goroutines that are
// halted as a group.  It is intended to be embedded in structs that
// spawn workers.
type Worker struct {
	sync.WaitGroup

	initOnce sync.Once
	haltOnce sync.Once
	haltCh   chan interface{}
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan interface{})
	})
}

// Go spawns fn in a new goroutine tracked by the Worker.
func (w *Worker) Go(fn func()) {
	w.init()
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// HaltCh returns the channel that is closed when Halt is called.
// Workers select on this to terminate gracefully.
func (w *Worker) HaltCh() <-chan interface{} {
	w.init()
	return w.haltCh
}

// Halt signals all of the Worker's goroutines to terminate, and waits
// until they have done so.  Calling Halt more than once is a no-op.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
	w.Wait()
}
