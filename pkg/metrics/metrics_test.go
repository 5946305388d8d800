// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/hoydtu/pkg/bridge"
	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

// idleNRF is a connected chip that never receives anything.
type idleNRF struct{}

func (idleNRF) Begin() error { return nil }
func (idleNRF) IsConnected() bool { return true }
func (idleNRF) SetInterruptHandler(func()) {}
func (idleNRF) SetChannel(uint8) error { return nil }
func (idleNRF) OpenReadingPipe(uint64) error { return nil }
func (idleNRF) OpenWritingPipe(uint64) error { return nil }
func (idleNRF) SetRetries(uint8, uint8) error { return nil }
func (idleNRF) StartListening() error { return nil }
func (idleNRF) StopListening() error { return nil }
func (idleNRF) Write([]byte) error { return nil }
func (idleNRF) Available() bool { return false }
func (idleNRF) Read() ([]byte, error) { return nil, nil }
func (idleNRF) FlushRx() error { return nil }
func (idleNRF) CarrierDetected() bool { return false }

func newTestEngine(t *testing.T) (*hoymiles.Engine, *hoymiles.Inverter) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	radio := hoymiles.NewRadioNRF(idleNRF{}, hoymiles.RadioOptions{Logger: log})
	if err := radio.Init(); err != nil {
		t.Fatal(err)
	}
	engine := hoymiles.NewEngine(hoymiles.EngineOptions{Logger: log, NRF: radio})
	inv, err := engine.AddInverter("roof", 0x112100001234)
	if err != nil {
		t.Fatal(err)
	}
	return engine, inv
}

func TestCollector_FreshInverter(t *testing.T) {
	engine, _ := newTestEngine(t)
	c := NewCollector(engine, nil)

	expected := `
# HELP hoydtu_inverter_reachable 1 if the inverter answers stats requests.
# TYPE hoydtu_inverter_reachable gauge
hoydtu_inverter_reachable{name="roof",serial="112100001234"} 1
# HELP hoydtu_radio_rx_failures_total Failed answers by reason.
# TYPE hoydtu_radio_rx_failures_total counter
hoydtu_radio_rx_failures_total{name="roof",reason="corrupt_data",serial="112100001234"} 0
hoydtu_radio_rx_failures_total{name="roof",reason="no_answer",serial="112100001234"} 0
hoydtu_radio_rx_failures_total{name="roof",reason="partial_answer",serial="112100001234"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"hoydtu_inverter_reachable", "hoydtu_radio_rx_failures_total"); err != nil {
		t.Error(err)
	}

	// nothing decoded yet
	for _, name := range []string{"hoydtu_inverter_value", "hoydtu_inverter_limit_percent", "hoydtu_radio_frequency_hz"} {
		if n := testutil.CollectAndCount(c, name); n != 0 {
			t.Errorf("%s: expected no samples, got %d", name, n)
		}
	}
}

func TestCollector_DecodedValues(t *testing.T) {
	engine, inv := newTestEngine(t)
	c := NewCollector(engine, nil)

	inv.Statistics.AppendFragment(0, make([]byte, inv.Statistics.ExpectedByteCount()))
	inv.Statistics.SetLastUpdate(time.Unix(1700000000, 0))
	inv.SystemConfigPara.SetLimitPercent(80)
	inv.SystemConfigPara.SetLastUpdateRequest(time.Unix(1700000000, 0))

	if n := testutil.CollectAndCount(c, "hoydtu_inverter_value"); n != len(inv.Statistics.Fields()) {
		t.Errorf("expected one sample per field (%d), got %d", len(inv.Statistics.Fields()), n)
	}

	expected := `
# HELP hoydtu_inverter_limit_percent Active power limit read back from the inverter.
# TYPE hoydtu_inverter_limit_percent gauge
hoydtu_inverter_limit_percent{name="roof",serial="112100001234"} 80
# HELP hoydtu_inverter_last_update_timestamp_seconds Time of the last statistics answer.
# TYPE hoydtu_inverter_last_update_timestamp_seconds gauge
hoydtu_inverter_last_update_timestamp_seconds{name="roof",serial="112100001234"} 1.7e+09
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"hoydtu_inverter_limit_percent", "hoydtu_inverter_last_update_timestamp_seconds"); err != nil {
		t.Error(err)
	}
}

func TestCollector_Bridge(t *testing.T) {
	engine, _ := newTestEngine(t)
	stats := bridge.NewLinkStatistics()
	stats.Update(nil)
	stats.Update(bridge.ErrCRCMismatch)

	c := NewCollector(engine, stats)
	expected := `
# HELP hoydtu_bridge_received_total Frames received from the radio bridge by result.
# TYPE hoydtu_bridge_received_total counter
hoydtu_bridge_received_total{result="crc_error"} 1
hoydtu_bridge_received_total{result="decode_error"} 0
hoydtu_bridge_received_total{result="dropped"} 0
hoydtu_bridge_received_total{result="valid"} 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "hoydtu_bridge_received_total"); err != nil {
		t.Error(err)
	}
}

func TestNewRegistry(t *testing.T) {
	engine, _ := newTestEngine(t)
	reg := NewRegistry(NewCollector(engine, nil))
	n, err := testutil.GatherAndCount(reg, "hoydtu_radio_tx_requests_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 sample, got %d", n)
	}
}
