// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports inverter values and radio statistics to
// Prometheus. Values are read from the engine at scrape time.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/hoydtu/pkg/bridge"
	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

const namespace = "hoydtu"

// InverterSource lists the inverters to export. *hoymiles.Engine satisfies it.
type InverterSource interface {
	Inverters() []*hoymiles.Inverter
}

var (
	inverterLabels = []string{"serial", "name"}

	txRequestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "radio", "tx_requests_total"),
		"Requests sent to the inverter.", inverterLabels, nil)
	txReRequestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "radio", "tx_rerequests_total"),
		"Fragment re-requests sent to the inverter.", inverterLabels, nil)
	rxSuccessDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "radio", "rx_success_total"),
		"Answers received completely.", inverterLabels, nil)
	rxFailDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "radio", "rx_failures_total"),
		"Failed answers by reason.", append(inverterLabels, "reason"), nil)
	rssiDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "radio", "rssi_dbm"),
		"Signal strength of the last received fragment.", inverterLabels, nil)
	frequencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "radio", "frequency_hz"),
		"Frequency of the last successful answer.", inverterLabels, nil)

	reachableDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "inverter", "reachable"),
		"1 if the inverter answers stats requests.", inverterLabels, nil)
	producingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "inverter", "producing"),
		"1 if the inverter reports AC power.", inverterLabels, nil)
	lastUpdateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "inverter", "last_update_timestamp_seconds"),
		"Time of the last statistics answer.", inverterLabels, nil)
	limitDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "inverter", "limit_percent"),
		"Active power limit read back from the inverter.", inverterLabels, nil)
	eventsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "inverter", "events"),
		"Entries in the last fetched event log.", inverterLabels, nil)
	fieldDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "inverter", "value"),
		"Decoded statistics value.", append(inverterLabels, "type", "channel", "field", "unit"), nil)

	bridgePacketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bridge", "received_total"),
		"Frames received from the radio bridge by result.", []string{"result"}, nil)
	bridgeSentDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bridge", "sent_total"),
		"Frames sent to the radio bridge.", nil, nil)
	bridgeReconnectsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bridge", "reconnects_total"),
		"Reconnects to the radio bridge.", nil, nil)
)

// Collector is a prometheus.Collector over an inverter source and an
// optional bridge link.
type Collector struct {
	src  InverterSource
	link *bridge.LinkStatistics
}

func NewCollector(src InverterSource, link *bridge.LinkStatistics) *Collector {
	return &Collector{src: src, link: link}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		txRequestsDesc, txReRequestsDesc, rxSuccessDesc, rxFailDesc, rssiDesc, frequencyDesc,
		reachableDesc, producingDesc, lastUpdateDesc, limitDesc, eventsDesc, fieldDesc,
	} {
		ch <- d
	}
	if c.link != nil {
		ch <- bridgePacketsDesc
		ch <- bridgeSentDesc
		ch <- bridgeReconnectsDesc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, inv := range c.src.Inverters() {
		collectInverter(ch, inv)
	}
	if c.link != nil {
		s := c.link.Snapshot()
		ch <- prometheus.MustNewConstMetric(bridgePacketsDesc, prometheus.CounterValue, float64(s.ValidPackets), "valid")
		ch <- prometheus.MustNewConstMetric(bridgePacketsDesc, prometheus.CounterValue, float64(s.CRCErrors), "crc_error")
		ch <- prometheus.MustNewConstMetric(bridgePacketsDesc, prometheus.CounterValue, float64(s.DecodeErrors), "decode_error")
		ch <- prometheus.MustNewConstMetric(bridgePacketsDesc, prometheus.CounterValue, float64(s.Dropped), "dropped")
		ch <- prometheus.MustNewConstMetric(bridgeSentDesc, prometheus.CounterValue, float64(s.SentPackets))
		ch <- prometheus.MustNewConstMetric(bridgeReconnectsDesc, prometheus.CounterValue, float64(s.Reconnects))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func collectInverter(ch chan<- prometheus.Metric, inv *hoymiles.Inverter) {
	serial, name := inv.Serial().String(), inv.Name()
	counter := func(d *prometheus.Desc, v uint64, extra ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), append([]string{serial, name}, extra...)...)
	}
	gauge := func(d *prometheus.Desc, v float64, extra ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append([]string{serial, name}, extra...)...)
	}

	rs := inv.RadioStats.Snapshot()
	counter(txRequestsDesc, rs.TxRequestData)
	counter(txReRequestsDesc, rs.TxReRequestFragment)
	counter(rxSuccessDesc, rs.RxSuccess)
	counter(rxFailDesc, rs.RxFailNoAnswer, "no_answer")
	counter(rxFailDesc, rs.RxFailPartialAnswer, "partial_answer")
	counter(rxFailDesc, rs.RxFailCorruptData, "corrupt_data")
	if rs.RxSuccess > 0 {
		gauge(rssiDesc, float64(rs.LastRSSI))
	}
	if rs.LastFrequency != 0 {
		gauge(frequencyDesc, float64(rs.LastFrequency))
	}

	gauge(reachableDesc, boolValue(inv.IsReachable()))
	gauge(producingDesc, boolValue(inv.IsProducing()))

	if !inv.SystemConfigPara.LastUpdateRequest().IsZero() {
		gauge(limitDesc, float64(inv.SystemConfigPara.LimitPercent()))
	}
	if !inv.EventLog.LastUpdate().IsZero() {
		gauge(eventsDesc, float64(inv.EventLog.EntryCount()))
	}

	last := inv.Statistics.LastUpdate()
	if last.IsZero() {
		return
	}
	gauge(lastUpdateDesc, float64(last.Unix()))
	for _, f := range inv.Statistics.Fields() {
		v := inv.Statistics.ChannelFieldValue(f.Type, f.Channel, f.Field)
		gauge(fieldDesc, float64(v), f.Type.String(), strconv.Itoa(int(f.Channel)), f.Field.String(), f.Field.Unit())
	}
}

// NewRegistry returns a registry with the collector and the Go runtime
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Serve exposes reg on listen at path until ctx is done.
func Serve(ctx context.Context, listen, path string, reg *prometheus.Registry, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.WithField("listen", listen).Info("metrics endpoint started")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}
