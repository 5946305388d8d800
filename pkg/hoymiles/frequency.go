// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import "sync"

// FrequencyManager chooses the frequencies used to talk to one inverter.
// CMT inverters can be left on a different channel than the DTU expects,
// after a DTU restart for instance; the manager finds them again.
type FrequencyManager interface {
	TXFrequency(cmd Command) uint32
	RXFrequency(cmd Command) uint32
	ProcessRXResult(cmd Command, result VerifyResult)
	ShouldSendChangeChannelCommand() bool
	StartNextFetch()
	LastWorkingFrequency() uint32
}

// noopFrequencyManager serves inverters on the 2.4 GHz radio.
type noopFrequencyManager struct{}

func (noopFrequencyManager) TXFrequency(Command) uint32 { return 0 }
func (noopFrequencyManager) RXFrequency(Command) uint32 { return 0 }
func (noopFrequencyManager) ProcessRXResult(Command, VerifyResult) {}
func (noopFrequencyManager) ShouldSendChangeChannelCommand() bool { return false }
func (noopFrequencyManager) StartNextFetch() {}
func (noopFrequencyManager) LastWorkingFrequency() uint32 { return 0 }

// cmtBand is the part of the radio configuration the manager reads.
type cmtBand interface {
	InverterTargetFrequency() uint32
	BootFrequency() uint32
	Country() CountryDefinition
}

type cmtFrequencyManager struct {
	band cmtBand
	inv  *Inverter

	mu sync.Mutex
	// 0 until the first good answer
	lastWorkingFrequency uint32
	// -1 while not searching
	failedFetchCount int
	// frequency of the last receive window
	rxFrequency uint32
}

func newCMTFrequencyManager(band cmtBand, inv *Inverter) *cmtFrequencyManager {
	return &cmtFrequencyManager{band: band, inv: inv, failedFetchCount: -1}
}

func isChannelChange(cmd Command) bool {
	_, ok := cmd.(*ChannelChangeCommand)
	return ok
}

func (m *cmtFrequencyManager) TXFrequency(cmd Command) uint32 {
	if isChannelChange(cmd) {
		return m.band.BootFrequency()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frequency(cmd)
}

func (m *cmtFrequencyManager) RXFrequency(cmd Command) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isChannelChange(cmd) {
		m.rxFrequency = m.band.InverterTargetFrequency()
	} else {
		m.rxFrequency = m.frequency(cmd)
	}
	return m.rxFrequency
}

// frequency picks the target frequency in normal operation. Once the
// inverter stopped answering, retries walk the band around the target.
// Caller holds mu.
func (m *cmtFrequencyManager) frequency(cmd Command) uint32 {
	target := m.band.InverterTargetFrequency()
	retransmits := cmd.SendCount() - 1

	if m.inv.IsReachable() || m.failedFetchCount <= 0 {
		if m.lastWorkingFrequency == target || m.lastWorkingFrequency == 0 {
			return target
		}
		// a channel change may still be pending, alternate
		if retransmits%2 == 0 {
			return m.lastWorkingFrequency
		}
		return target
	}

	if retransmits == 0 {
		return target
	}
	return CMTSearchFrequency(m.failedFetchCount, cmd.SendCount(), target, m.band.Country())
}

func (m *cmtFrequencyManager) ProcessRXResult(cmd Command, result VerifyResult) {
	if result != FragmentOK {
		return
	}
	m.mu.Lock()
	// the answer arrived on the window opened at send time
	freq := m.rxFrequency
	if freq == 0 {
		freq = m.frequency(cmd)
	}
	m.lastWorkingFrequency = freq
	m.failedFetchCount = -1
	m.mu.Unlock()
	m.inv.RadioStats.update(func(s *RadioStatsSnapshot) { s.LastFrequency = freq })
}

func (m *cmtFrequencyManager) ShouldSendChangeChannelCommand() bool {
	if !m.inv.IsReachable() {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// nothing received yet, keep the plain startup sequence
	if m.lastWorkingFrequency == 0 {
		return false
	}
	return m.lastWorkingFrequency != m.band.InverterTargetFrequency()
}

func (m *cmtFrequencyManager) StartNextFetch() {
	reachable := m.inv.IsReachable()
	m.mu.Lock()
	defer m.mu.Unlock()
	if reachable {
		m.failedFetchCount = 0
	} else {
		m.failedFetchCount++
	}
}

func (m *cmtFrequencyManager) LastWorkingFrequency() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastWorkingFrequency
}

func positiveModulo(i, n int64) int64 {
	return (i%n + n) % n
}

// CMTSearchFrequency returns the frequency for a search retry. Successive
// sends of a command alternate below and above the target with a growing
// offset, and successive fetches shift the start point. The result always
// lies inside both the usable and the legal band of the country.
func CMTSearchFrequency(failedFetchCount, sendCount int, target uint32, band CountryDefinition) uint32 {
	// the send counter was bumped just before and the first send used the
	// target frequency
	transmissions := int64(sendCount - 2)
	// failedFetchCount starts at 1
	fetches := int64(failedFetchCount - 1)

	offset := (fetches + transmissions/2) % 20
	if transmissions%2 == 0 {
		offset = -offset
	}

	minUsable := max(band.MinFrequency, band.LegalMinFrequency)
	maxUsable := min(band.MaxFrequency, band.LegalMaxFrequency)
	width := int64(band.ChannelWidth)
	minOffset := -((int64(target) - int64(minUsable)) / width)
	maxOffset := (int64(maxUsable) - int64(target)) / width

	final := positiveModulo(offset-minOffset, maxOffset+1-minOffset) + minOffset
	return uint32(int64(target) + final*width)
}
