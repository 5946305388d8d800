// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Radio is a transceiver with its command queue.
type Radio interface {
	Kind() RadioKind
	Loop()
	IsInitialized() bool
	IsIdle() bool
	IsQueueEmpty() bool
	QueueLen() int
	Enqueue(cmd Command)
	CountSimilarCommands(cmd Command) int
	RemoveAllEntriesForInverter(serial Serial)
	DTUSerial() Serial

	attach(lookup inverterLookup)
	newFrequencyManager(inv *Inverter) FrequencyManager
	channelChangeCommand(inv *Inverter) Command
}

type inverterLookup interface {
	InverterBySerial(serial Serial) *Inverter
	InverterByFragment(f *Fragment) *Inverter
}

// RadioOptions configures either radio.
type RadioOptions struct {
	Logger logrus.FieldLogger
	Clock  Clock
	// DumpFrames logs every frame in hex at debug level.
	DumpFrames bool
}

func (o RadioOptions) withDefaults() RadioOptions {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	return o
}

// radioBase is the transceiver independent half of a radio: the queue,
// the receive window and the verify/act step.
type radioBase struct {
	kind       RadioKind
	log        logrus.FieldLogger
	clock      Clock
	dumpFrames bool

	dtuSerial   atomic.Uint64
	initialized atomic.Bool
	busy        atomic.Bool
	// set from the device interrupt handler
	packetReceived atomic.Bool

	queue    *CommandQueue
	deadline time.Time
	rx       fragmentRing
	lookup   inverterLookup

	// txFrame puts one frame on air and leaves the device receiving.
	txFrame func(cmd Command)
}

func newRadioBase(kind RadioKind, opts RadioOptions) radioBase {
	opts = opts.withDefaults()
	return radioBase{
		kind:       kind,
		log:        opts.Logger.WithField("radio", kind.String()),
		clock:      opts.Clock,
		dumpFrames: opts.DumpFrames,
		queue:      NewCommandQueue(),
	}
}

func (r *radioBase) Kind() RadioKind { return r.kind }
func (r *radioBase) IsInitialized() bool { return r.initialized.Load() }
func (r *radioBase) IsIdle() bool { return !r.busy.Load() }
func (r *radioBase) IsQueueEmpty() bool { return r.queue.Empty() }
func (r *radioBase) QueueLen() int { return r.queue.Len() }
func (r *radioBase) DTUSerial() Serial { return Serial(r.dtuSerial.Load()) }

func (r *radioBase) attach(lookup inverterLookup) { r.lookup = lookup }

func (r *radioBase) CountSimilarCommands(cmd Command) int {
	return r.queue.CountSimilarCommands(cmd)
}

func (r *radioBase) RemoveAllEntriesForInverter(serial Serial) {
	r.queue.RemoveAllEntriesForInverter(serial)
}

// Enqueue adds cmd according to its insert policy. Safe for concurrent use.
func (r *radioBase) Enqueue(cmd Command) {
	b := cmd.base()
	if b.traceID == "" {
		b.traceID = uuid.NewString()
	}
	switch cmd.QueueInsertType() {
	case InsertRemoveOldest:
		r.queue.RemoveDuplicatedEntries(cmd)
		r.queue.Push(cmd)
	case InsertReplaceExistent:
		r.queue.ReplaceEntries(cmd)
		// an equivalent is queued or in flight
		if r.queue.CountSimilarCommands(cmd) > 0 {
			return
		}
		r.queue.Push(cmd)
	default:
		r.queue.Push(cmd)
	}
	r.log.WithFields(logrus.Fields{
		"command": cmd.Name(),
		"serial":  cmd.TargetAddress().String(),
		"trace":   b.traceID,
	}).Debug("command queued")
}

// handleInterrupt is given to the device as interrupt handler.
func (r *radioBase) handleInterrupt() {
	r.packetReceived.Store(true)
}

func (r *radioBase) dumpFrame(dir string, data []byte, fields logrus.Fields) {
	if !r.dumpFrames {
		return
	}
	r.log.WithFields(fields).Debugf("%s % X", dir, data)
}

// transmit sends cmd and opens its receive window.
func (r *radioBase) transmit(cmd Command) {
	cmd.IncrementSendCount()
	cmd.SetRouterAddress(r.DTUSerial())

	r.txFrame(cmd)

	r.deadline = r.clock.Now().Add(cmd.Timeout())
	r.busy.Store(true)
}

// dispatchFragment hands a received frame to the inverter it came from.
func (r *radioBase) dispatchFragment(f *Fragment) {
	fields := logrus.Fields{"channel": f.Channel, "rssi": f.RSSI, "len": f.Len}
	if !f.CRCValid() {
		r.log.WithFields(fields).Warn("frame CRC8 mismatch, dropped")
		return
	}
	inv := r.lookup.InverterByFragment(f)
	if inv == nil {
		r.log.WithFields(fields).Debug("frame from unknown inverter, dropped")
		return
	}
	r.dumpFrame("RX", f.Bytes(), fields)
	inv.AddRxFragment(f.Bytes(), f.RSSI)
}

func (r *radioBase) sendLastPacketAgain() {
	if cmd := r.queue.Front(); cmd != nil {
		r.transmit(cmd)
	}
}

// sendRetransmitPacket re-requests one fragment of the head's answer.
func (r *radioBase) sendRetransmitPacket(fragmentID uint8) {
	cmd := r.queue.Front()
	if cmd == nil {
		return
	}
	req := cmd.RequestFrame(fragmentID)
	req.base().traceID = cmd.TraceID()
	r.transmit(req)
}

// finish drops the head and frees the radio.
func (r *radioBase) finish() {
	r.queue.Pop()
	r.busy.Store(false)
}

// handleReceivedPackage runs once per loop. While busy it waits for the
// receive window to close, or for a complete answer, then acts on the
// verify result. While idle it sends the next queued command.
func (r *radioBase) handleReceivedPackage() {
	if !r.busy.Load() {
		r.sendNext()
		return
	}

	cmd := r.queue.Front()
	if cmd == nil {
		r.busy.Store(false)
		return
	}
	inv := r.lookup.InverterBySerial(cmd.TargetAddress())
	complete := inv != nil && inv.rxComplete()
	if r.clock.Now().Before(r.deadline) && !complete {
		return
	}

	log := r.log.WithFields(logrus.Fields{
		"command": cmd.Name(),
		"serial":  cmd.TargetAddress().String(),
		"trace":   cmd.TraceID(),
	})
	if inv == nil {
		log.Warn("inverter removed while command in flight")
		r.finish()
		return
	}

	result := inv.VerifyAllFragments(cmd)
	inv.freq.ProcessRXResult(cmd, result)
	log = log.WithField("result", result.String())

	switch {
	case result == FragmentAllMissingResend:
		log.WithField("send", cmd.SendCount()).Debug("no answer, resending")
		r.sendLastPacketAgain()

	case result == FragmentAllMissingTimeout:
		log.Info("no answer")
		r.countFailure(inv, func(s *RadioStatsSnapshot) { s.RxFailNoAnswer++ })
		r.finish()

	case result == FragmentRetransmitTimeout:
		log.Info("retransmit limit reached")
		r.countFailure(inv, func(s *RadioStatsSnapshot) { s.RxFailPartialAnswer++ })
		r.finish()

	case result == FragmentHandleError:
		log.Warn("answer rejected")
		r.countFailure(inv, func(s *RadioStatsSnapshot) { s.RxFailCorruptData++ })
		r.finish()

	case result.IsRetransmit():
		log.Debug("requesting missing fragment")
		inv.RadioStats.update(func(s *RadioStatsSnapshot) { s.TxReRequestFragment++ })
		r.sendRetransmitPacket(uint8(result))

	default:
		log.Debug("answer complete")
		inv.RadioStats.update(func(s *RadioStatsSnapshot) { s.RxSuccess++ })
		r.finish()
	}
}

func (r *radioBase) countFailure(inv *Inverter, fn func(s *RadioStatsSnapshot)) {
	inv.RadioStats.update(func(s *RadioStatsSnapshot) {
		if s.TxRequestData > 0 {
			fn(s)
		}
	})
}

func (r *radioBase) sendNext() {
	cmd := r.queue.Front()
	if cmd == nil {
		return
	}
	inv := r.lookup.InverterBySerial(cmd.TargetAddress())
	if inv == nil {
		r.log.WithField("serial", cmd.TargetAddress().String()).Warn("command for unknown inverter dropped")
		r.queue.Pop()
		return
	}
	inv.clearRxFragmentBuffer()
	inv.RadioStats.update(func(s *RadioStatsSnapshot) { s.TxRequestData++ })
	r.transmit(cmd)
}

func (r *radioBase) String() string {
	return fmt.Sprintf("%s radio (dtu %s, queue %d)", r.kind, r.DTUSerial(), r.queue.Len())
}
