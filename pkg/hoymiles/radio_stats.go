// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"fmt"
	"sync"
	"time"
)

// RadioStatistics tracks request and answer outcomes for one inverter.
// The counters are informational only.
type RadioStatistics struct {
	mu sync.Mutex
	s  RadioStatsSnapshot
}

// RadioStatsSnapshot is a consistent copy of RadioStatistics.
type RadioStatsSnapshot struct {
	StartTime time.Time

	// Counters
	TxRequestData       uint64
	TxReRequestFragment uint64
	RxSuccess           uint64
	RxFailNoAnswer      uint64
	RxFailPartialAnswer uint64
	RxFailCorruptData   uint64

	LastRSSI      int8
	LastFrequency uint32
}

func NewRadioStatistics(now time.Time) *RadioStatistics {
	return &RadioStatistics{s: RadioStatsSnapshot{StartTime: now}}
}

func (r *RadioStatistics) update(fn func(s *RadioStatsSnapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.s)
}

func (r *RadioStatistics) Snapshot() RadioStatsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

// Reset clears all counters
func (r *RadioStatistics) Reset(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s = RadioStatsSnapshot{StartTime: now}
}

// Failures sums all failed answers.
func (s RadioStatsSnapshot) Failures() uint64 {
	return s.RxFailNoAnswer + s.RxFailPartialAnswer + s.RxFailCorruptData
}

// SuccessRate is the share of requests answered correctly, in percent.
func (s RadioStatsSnapshot) SuccessRate() float64 {
	if s.TxRequestData == 0 {
		return 0
	}
	return float64(s.RxSuccess) * 100.0 / float64(s.TxRequestData)
}

// String returns a formatted statistics summary
func (s RadioStatsSnapshot) String() string {
	var noAnswerPercent, partialPercent, corruptPercent float64
	if s.TxRequestData > 0 {
		noAnswerPercent = float64(s.RxFailNoAnswer) * 100.0 / float64(s.TxRequestData)
		partialPercent = float64(s.RxFailPartialAnswer) * 100.0 / float64(s.TxRequestData)
		corruptPercent = float64(s.RxFailCorruptData) * 100.0 / float64(s.TxRequestData)
	}

	result := fmt.Sprintf("=== Radio Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	result += fmt.Sprintf("Requests:        %8d\n", s.TxRequestData)
	result += fmt.Sprintf("Answered:        %8d (%.1f%%)\n", s.RxSuccess, s.SuccessRate())
	if s.TxReRequestFragment > 0 {
		result += fmt.Sprintf("Re-requests:     %8d\n", s.TxReRequestFragment)
	}
	if s.RxFailNoAnswer > 0 {
		result += fmt.Sprintf("No Answer:       %8d (%.1f%%)\n", s.RxFailNoAnswer, noAnswerPercent)
	}
	if s.RxFailPartialAnswer > 0 {
		result += fmt.Sprintf("Partial Answer:  %8d (%.1f%%)\n", s.RxFailPartialAnswer, partialPercent)
	}
	if s.RxFailCorruptData > 0 {
		result += fmt.Sprintf("Corrupt Data:    %8d (%.1f%%)\n", s.RxFailCorruptData, corruptPercent)
	}
	result += fmt.Sprintf("Last RSSI:       %8d dBm\n", s.LastRSSI)
	if s.LastFrequency > 0 {
		result += fmt.Sprintf("Last Frequency:  %8.3f MHz\n", float64(s.LastFrequency)/1e6)
	}
	result += "================================\n"

	return result
}
