// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	nrfHopInterval = 4 * time.Millisecond

	nrfRSSICarrier   int8 = -30
	nrfRSSINoCarrier int8 = -80
)

// nrfChannels is the hopping sequence shared with the inverters.
var nrfChannels = [...]uint8{3, 23, 40, 61, 75}

// RadioNRF drives HM and HERF inverters on 2.4 GHz.
type RadioNRF struct {
	radioBase
	dev NRFDevice

	rxChannelIndex int
	txChannelIndex int
	lastHop        time.Time
}

func NewRadioNRF(dev NRFDevice, opts RadioOptions) *RadioNRF {
	r := &RadioNRF{
		radioBase:      newRadioBase(RadioNRF24, opts),
		dev:            dev,
		rxChannelIndex: 0,
		txChannelIndex: 2,
	}
	r.txFrame = r.sendEsbPacket
	return r
}

// Init configures the device and starts listening on the DTU address.
func (r *RadioNRF) Init() error {
	if err := r.dev.Begin(); err != nil {
		return fmt.Errorf("nrf24 begin: %w", err)
	}
	if !r.dev.IsConnected() {
		return fmt.Errorf("nrf24: %w", ErrRadioUnavailable)
	}
	r.log.Info("connection successful")

	r.dev.SetInterruptHandler(r.handleInterrupt)
	if err := r.dev.SetRetries(0, 0); err != nil {
		return fmt.Errorf("nrf24 retries: %w", err)
	}
	if err := r.openReadingPipe(); err != nil {
		return err
	}
	if err := r.dev.StartListening(); err != nil {
		return fmt.Errorf("nrf24 start listening: %w", err)
	}
	r.lastHop = r.clock.Now()
	r.initialized.Store(true)
	return nil
}

func (r *RadioNRF) IsConnected() bool {
	return r.dev.IsConnected()
}

// SetDTUSerial sets the address the DTU listens on and sends from.
func (r *RadioNRF) SetDTUSerial(s Serial) error {
	r.dtuSerial.Store(uint64(s))
	if !r.IsInitialized() {
		return nil
	}
	return r.openReadingPipe()
}

func (r *RadioNRF) openReadingPipe() error {
	if err := r.dev.OpenReadingPipe(r.DTUSerial().RadioID()); err != nil {
		return fmt.Errorf("nrf24 reading pipe: %w", err)
	}
	return nil
}

func (r *RadioNRF) nextRxChannel() uint8 {
	r.rxChannelIndex = (r.rxChannelIndex + 1) % len(nrfChannels)
	return nrfChannels[r.rxChannelIndex]
}

func (r *RadioNRF) nextTxChannel() uint8 {
	r.txChannelIndex = (r.txChannelIndex + 1) % len(nrfChannels)
	return nrfChannels[r.txChannelIndex]
}

func (r *RadioNRF) switchRxChannel() {
	if err := r.dev.StopListening(); err != nil {
		r.log.WithError(err).Warn("stop listening failed")
	}
	if err := r.dev.SetChannel(r.nextRxChannel()); err != nil {
		r.log.WithError(err).Warn("channel hop failed")
	}
	if err := r.dev.StartListening(); err != nil {
		r.log.WithError(err).Warn("start listening failed")
	}
}

// Loop hops the receive channel, drains or dispatches received frames and
// advances the send/receive state machine.
func (r *RadioNRF) Loop() {
	if !r.IsInitialized() {
		return
	}

	now := r.clock.Now()
	if now.Sub(r.lastHop) >= nrfHopInterval {
		r.lastHop = now
		r.switchRxChannel()
	}

	if r.packetReceived.Swap(false) {
		r.drain()
	} else if f, ok := r.rx.Pop(); ok {
		r.dispatchFragment(&f)
	}

	r.handleReceivedPackage()
}

func (r *RadioNRF) drain() {
	channel := nrfChannels[r.rxChannelIndex]
	for r.dev.Available() {
		if r.rx.Full() {
			r.log.Warn("receive buffer full, flushing")
			if err := r.dev.FlushRx(); err != nil {
				r.log.WithError(err).Warn("flush failed")
			}
			return
		}
		data, err := r.dev.Read()
		if err != nil {
			r.log.WithError(err).Warn("read failed")
			return
		}
		rssi := nrfRSSINoCarrier
		if r.dev.CarrierDetected() {
			rssi = nrfRSSICarrier
		}
		r.rx.Push(NewFragment(data, channel, rssi))
	}
}

func (r *RadioNRF) sendEsbPacket(cmd Command) {
	log := r.log.WithFields(logrus.Fields{"command": cmd.Name(), "trace": cmd.TraceID()})

	if err := r.dev.StopListening(); err != nil {
		log.WithError(err).Warn("stop listening failed")
	}
	channel := r.nextTxChannel()
	if err := r.dev.SetChannel(channel); err != nil {
		log.WithError(err).Warn("set tx channel failed")
	}
	if err := r.dev.OpenWritingPipe(cmd.TargetAddress().RadioID()); err != nil {
		log.WithError(err).Warn("writing pipe failed")
	}
	if err := r.dev.SetRetries(3, 15); err != nil {
		log.WithError(err).Warn("set retries failed")
	}

	payload := cmd.DataPayload()
	r.dumpFrame("TX", payload, logrus.Fields{"command": cmd.Name(), "channel": channel})
	if err := r.dev.Write(payload); err != nil {
		log.WithError(err).Warn("write failed")
	}

	if err := r.dev.SetRetries(0, 0); err != nil {
		log.WithError(err).Warn("reset retries failed")
	}
	if err := r.openReadingPipe(); err != nil {
		log.WithError(err).Warn("reading pipe failed")
	}
	if err := r.dev.SetChannel(r.nextRxChannel()); err != nil {
		log.WithError(err).Warn("set rx channel failed")
	}
	if err := r.dev.StartListening(); err != nil {
		log.WithError(err).Warn("start listening failed")
	}
}

func (r *RadioNRF) newFrequencyManager(*Inverter) FrequencyManager {
	return noopFrequencyManager{}
}

func (r *RadioNRF) channelChangeCommand(*Inverter) Command {
	return nil
}
