// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"io"
	"math/rand"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================
// Fuzz Helpers
// ============================================================

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func silentLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// decodeAll feeds data to a fresh decoder and returns every packet and error.
func decodeAll(data []byte) ([]*Packet, []error) {
	d := NewDecoder()
	var packets []*Packet
	var errs []error
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if p != nil {
			packets = append(packets, p)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return packets, errs
}

// ============================================================
// Fake Firmware
// ============================================================

// fakeFirmware is the bridge end of a net.Pipe. It answers MsgBegin with a
// connected status and pings with a pong, and records every packet.
type fakeFirmware struct {
	conn     net.Conn
	received chan *Packet
	silent   bool
}

func newFakeFirmware(silent bool) (*fakeFirmware, Conn) {
	host, fw := net.Pipe()
	f := &fakeFirmware{
		conn:     fw,
		received: make(chan *Packet, 128),
		silent:   silent,
	}
	go f.serve()
	return f, host
}

func (f *fakeFirmware) serve() {
	dec := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			p, _ := dec.DecodeByte(b)
			if p == nil {
				continue
			}
			select {
			case f.received <- p:
			default:
			}
			if f.silent {
				continue
			}
			switch p.Type() {
			case MsgBegin:
				f.send(p.Address(), MsgStatus, map[int]interface{}{KeyConnected: true})
			case MsgPingRequest:
				f.send(AddressBridge, MsgPingResponse, map[int]interface{}{KeyUptime: 1234})
			}
		}
	}
}

func (f *fakeFirmware) send(address uint64, msgType uint8, payload map[int]interface{}) {
	frame, err := EncodeFrame(address, msgType, payload)
	if err != nil {
		panic(err)
	}
	f.conn.Write(frame)
}

// next returns the next packet the host sent.
func (f *fakeFirmware) next(t *testing.T) *Packet {
	t.Helper()
	select {
	case p := <-f.received:
		return p
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bridge message")
		return nil
	}
}

// queueDialer hands out the given connections in order.
func queueDialer(conns ...Conn) Dialer {
	ch := make(chan Conn, len(conns))
	for _, c := range conns {
		ch <- c
	}
	return func(ctx context.Context) (Conn, error) {
		select {
		case c := <-ch:
			return c, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// runLink starts l in the background and stops it at test cleanup.
func runLink(t *testing.T, l *Link) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// corruptCRC returns frame with its CRC low byte flipped, re-stuffed.
func corruptCRC(t *testing.T, frame []byte) []byte {
	t.Helper()
	data, err := UnstuffBytes(frame[1 : len(frame)-1])
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0x01
	out := []byte{StartByte}
	out = append(out, stuffBytes(data)...)
	return append(out, EndByte)
}
