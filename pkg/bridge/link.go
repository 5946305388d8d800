// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/hoydtu/pkg/logger"
)

// LinkOptions configures a Link.
type LinkOptions struct {
	Logger logrus.FieldLogger
	// ReconnectDelay is the wait between failed dial attempts.
	ReconnectDelay time.Duration
	// PingInterval enables keepalive pings when > 0.
	PingInterval time.Duration
	// QueueSize bounds the outgoing frame queue.
	QueueSize int
	// BeginTimeout bounds the wait for the chip status after MsgBegin.
	BeginTimeout time.Duration
	// DumpFrames logs every encoded and decoded frame in hex.
	DumpFrames bool
}

func (o LinkOptions) withDefaults() LinkOptions {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.BeginTimeout <= 0 {
		o.BeginTimeout = 2 * time.Second
	}
	return o
}

// Link keeps a connection to the bridge firmware open and multiplexes the
// NRF and CMT views over it.
type Link struct {
	dial Dialer
	opts LinkOptions
	log  logrus.FieldLogger

	out   chan []byte
	stats *LinkStatistics

	connected atomic.Bool
	lastPong  atomic.Int64
	uptime    atomic.Uint64

	mu      sync.Mutex
	running bool

	nrf *NRF
	cmt *CMT
}

// NewLink creates a link that connects through dial once Run is called.
func NewLink(dial Dialer, opts LinkOptions) *Link {
	opts = opts.withDefaults()
	l := &Link{
		dial:  dial,
		opts:  opts,
		log:   opts.Logger.WithField("component", "bridge"),
		out:   make(chan []byte, opts.QueueSize),
		stats: NewLinkStatistics(),
	}
	l.nrf = &NRF{radioView: newRadioView(l, AddressNRF)}
	l.cmt = &CMT{radioView: newRadioView(l, AddressCMT)}
	return l
}

// NRF returns the 2.4 GHz chip of the bridge.
func (l *Link) NRF() *NRF { return l.nrf }

// CMT returns the sub-GHz chip of the bridge.
func (l *Link) CMT() *CMT { return l.cmt }

func (l *Link) Statistics() *LinkStatistics { return l.stats }

// IsConnected reports whether a connection is currently open.
func (l *Link) IsConnected() bool { return l.connected.Load() }

// LastPong returns the time of the last ping response, zero if none.
func (l *Link) LastPong() time.Time {
	ns := l.lastPong.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Uptime returns the bridge uptime from its last status report.
func (l *Link) Uptime() time.Duration {
	return time.Duration(l.uptime.Load()) * time.Millisecond
}

// Send queues a message for the bridge. It never blocks.
func (l *Link) Send(address uint64, msgType uint8, payload map[int]interface{}) error {
	frame, err := EncodeFrame(address, msgType, payload)
	if err != nil {
		return err
	}
	select {
	case l.out <- frame:
		return nil
	default:
		return fmt.Errorf("%s: %w", MessageName(msgType), ErrQueueFull)
	}
}

// Run connects and serves the link until ctx is done, reconnecting after
// connection failures. Chip configuration is replayed on every reconnect.
func (l *Link) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("bridge link already running")
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	first := true
	for {
		conn, err := l.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.WithError(err).Warn("bridge connect failed")
		} else {
			if !first {
				l.stats.countReconnect()
			}
			first = false
			err = l.serve(ctx, conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.WithError(err).Warn("bridge connection lost")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.ReconnectDelay):
		}
	}
}

func (l *Link) serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.connected.Store(true)
	defer func() {
		l.connected.Store(false)
		l.nrf.lost()
		l.cmt.lost()
	}()
	l.log.Info("bridge connected")

	// unblocks the reader
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// chip state is rebuilt from the views; anything queued while
	// disconnected is stale
	l.drain()
	l.nrf.replay()
	l.cmt.replay()

	werr := make(chan error, 1)
	go func() { werr <- l.writeLoop(ctx, conn) }()

	rerr := l.readLoop(conn)
	cancel()
	if err := <-werr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return rerr
}

func (l *Link) drain() {
	for {
		select {
		case <-l.out:
		default:
			return
		}
	}
}

func (l *Link) writeLoop(ctx context.Context, conn Conn) error {
	var ping <-chan time.Time
	if l.opts.PingInterval > 0 {
		t := time.NewTicker(l.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping:
			if err := l.Send(AddressBridge, MsgPingRequest, nil); err != nil {
				l.log.WithError(err).Debug("ping not queued")
			}
		case frame := <-l.out:
			l.dump("tx", frame)
			if _, err := conn.Write(frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			l.stats.countSent()
		}
	}
}

func (l *Link) readLoop(conn Conn) error {
	dec := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, b := range buf[:n] {
			p, err := dec.DecodeByte(b)
			if p == nil && err == nil {
				continue
			}
			l.stats.Update(err)
			if err != nil {
				l.log.WithError(err).Debug("bridge frame discarded")
				continue
			}
			l.handle(p)
		}
	}
}

func (l *Link) handle(p *Packet) {
	if err := p.ParseError(); err != nil {
		l.stats.countDropped()
		l.log.WithError(err).Debug("bridge payload undecodable")
		return
	}
	l.dump("rx", p.Payload())

	var view *radioView
	switch p.Address() {
	case AddressNRF:
		view = l.nrf.radioView
	case AddressCMT:
		view = l.cmt.radioView
	}

	switch {
	case p.Type() == MsgPingResponse:
		if up, ok := GetMapUint(p.PayloadMap(), KeyUptime); ok {
			l.uptime.Store(up)
		}
		l.lastPong.Store(time.Now().UnixNano())
	case p.Type() == MsgStatus && view != nil:
		view.status(p.PayloadMap())
	case p.Type() == MsgFrame && view != nil:
		view.frame(p.PayloadMap())
	default:
		l.stats.countDropped()
		l.log.WithFields(logrus.Fields{
			"address": p.Address(),
			"type":    MessageName(p.Type()),
		}).Debug("unexpected bridge message")
	}
}

func (l *Link) dump(dir string, data []byte) {
	if l.opts.DumpFrames {
		logger.HexDump(l.log, dir, data)
	}
}
