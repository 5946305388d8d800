// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LinkCounters is a point-in-time copy of the link statistics.
type LinkCounters struct {
	StartTime    time.Time
	TotalPackets uint64
	ValidPackets uint64
	CRCErrors    uint64
	DecodeErrors uint64
	Dropped      uint64 // well-formed but unexpected messages
	SentPackets  uint64
	Reconnects   uint64
}

// LinkStatistics tracks packet counters for a bridge link.
type LinkStatistics struct {
	mu sync.Mutex
	LinkCounters
}

// NewLinkStatistics creates a new statistics tracker
func NewLinkStatistics() *LinkStatistics {
	return &LinkStatistics{LinkCounters: LinkCounters{StartTime: time.Now()}}
}

// Update counts one decoder result.
func (s *LinkStatistics) Update(decodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalPackets++
	switch {
	case decodeErr == nil:
		s.ValidPackets++
	case errors.Is(decodeErr, ErrCRCMismatch):
		s.CRCErrors++
	default:
		s.DecodeErrors++
	}
}

func (s *LinkStatistics) countDropped() {
	s.mu.Lock()
	s.Dropped++
	s.mu.Unlock()
}

func (s *LinkStatistics) countSent() {
	s.mu.Lock()
	s.SentPackets++
	s.mu.Unlock()
}

func (s *LinkStatistics) countReconnect() {
	s.mu.Lock()
	s.Reconnects++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (s *LinkStatistics) Snapshot() LinkCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LinkCounters
}

// String returns a formatted statistics summary
func (s *LinkStatistics) String() string {
	c := s.Snapshot()
	elapsed := time.Since(c.StartTime)

	var validPercent, errorRate float64
	if c.TotalPackets > 0 {
		validPercent = float64(c.ValidPackets) * 100.0 / float64(c.TotalPackets)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		errorRate = float64(c.CRCErrors+c.DecodeErrors) / secs
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Bridge Link (%.0f seconds) ===\n", elapsed.Seconds())
	fmt.Fprintf(&b, "Received:        %8d\n", c.TotalPackets)
	fmt.Fprintf(&b, "Valid:           %8d (%.1f%%)\n", c.ValidPackets, validPercent)
	if c.CRCErrors > 0 {
		fmt.Fprintf(&b, "CRC Errors:      %8d\n", c.CRCErrors)
	}
	if c.DecodeErrors > 0 {
		fmt.Fprintf(&b, "Decode Errors:   %8d\n", c.DecodeErrors)
	}
	if c.Dropped > 0 {
		fmt.Fprintf(&b, "Dropped:         %8d\n", c.Dropped)
	}
	fmt.Fprintf(&b, "Sent:            %8d\n", c.SentPackets)
	fmt.Fprintf(&b, "Reconnects:      %8d\n", c.Reconnects)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", errorRate)
	return b.String()
}

// Reset resets all statistics counters
func (s *LinkStatistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LinkCounters = LinkCounters{StartTime: time.Now()}
}
