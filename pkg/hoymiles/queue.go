// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import "sync"

// CommandQueue is the FIFO of commands waiting for one radio. The head is
// the command in flight; the policy operations never touch it.
type CommandQueue struct {
	mu    sync.Mutex
	items []Command
}

func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

func (q *CommandQueue) Push(cmd Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, cmd)
}

// Pop removes the head. It is a no-op on an empty queue.
func (q *CommandQueue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items[0] = nil
	q.items = q.items[1:]
}

// Front returns the head or nil.
func (q *CommandQueue) Front() Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *CommandQueue) Empty() bool {
	return q.Len() == 0
}

// RemoveAllEntriesForInverter drops every queued command for serial except
// the head.
func (q *CommandQueue) RemoveAllEntriesForInverter(serial Serial) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.filterTail(func(c Command) bool { return c.TargetAddress() == serial })
}

// RemoveDuplicatedEntries drops queued commands that cmd supersedes.
func (q *CommandQueue) RemoveDuplicatedEntries(cmd Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.filterTail(func(c Command) bool {
		return cmd.QueueInsertType() == InsertRemoveOldest && cmd.SameParameter(c)
	})
}

// ReplaceEntries puts cmd in place of the first queued equivalent, drops
// any further equivalents and reports whether anything was replaced.
func (q *CommandQueue) ReplaceEntries(cmd Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cmd.QueueInsertType() != InsertReplaceExistent {
		return false
	}
	replaced := false
	q.filterTail(func(c Command) bool {
		if !cmd.SameParameter(c) {
			return false
		}
		if replaced {
			return true
		}
		replaced = true
		return false
	})
	if !replaced {
		return false
	}
	for i := 1; i < len(q.items); i++ {
		if cmd.SameParameter(q.items[i]) {
			q.items[i] = cmd
			break
		}
	}
	return true
}

// CountSimilarCommands counts entries equivalent to cmd, head included.
func (q *CommandQueue) CountSimilarCommands(cmd Command) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.items {
		if cmd.SameParameter(c) {
			n++
		}
	}
	return n
}

// filterTail removes matching entries behind the head. Caller holds mu.
func (q *CommandQueue) filterTail(drop func(Command) bool) {
	if len(q.items) < 2 {
		return
	}
	kept := q.items[:1]
	for _, c := range q.items[1:] {
		if !drop(c) {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
}
