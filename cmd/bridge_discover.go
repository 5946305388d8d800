// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hoydtu/pkg/bridge"
)

var discoverTimeout int

var bridgeDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find the radio chips attached to the bridge",
	Long: `Send BEGIN to the nRF24L01+ and CMT2300A addresses and collect the STATUS
reports. Each report tells whether the chip answered on its SPI bus.

BEGIN initializes the chip, so do not run this while hoydtu run or monitor is
using the same bridge.

Exit codes:
  0 - At least one radio chip present
  1 - No radio chip present or no answer
  2 - Connection error`,
	RunE: runBridgeDiscover,
}

func init() {
	bridgeCmd.AddCommand(bridgeDiscoverCmd)
	bridgeDiscoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 3, "Timeout in seconds to wait for status reports")
}

// chipStatus is the answer of one chip address.
type chipStatus struct {
	address   uint64
	answered  bool
	connected bool
	carrier   bool
}

func (c chipStatus) name() string {
	if c.address == bridge.AddressCMT {
		return "CMT2300A"
	}
	return "nRF24L01+"
}

func runBridgeDiscover(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := openBridge(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("hoydtu - Bridge Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", discoverTimeout)

	chips := []*chipStatus{{address: bridge.AddressNRF}, {address: bridge.AddressCMT}}
	for _, c := range chips {
		wireBytes, err := bridge.EncodeFrame(c.address, bridge.MsgBegin, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Sending BEGIN to %s...\n", c.name())
		if _, err := conn.Write(wireBytes); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			os.Exit(2)
		}
	}

	errc := make(chan error, 1)
	chunks := readChunks(conn, errc)
	if err := collectStatus(bridge.NewDecoder(), chunks, errc, chips, time.Duration(discoverTimeout)*time.Second); err != nil {
		fmt.Printf("READ FAILED: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("\n--- Discovery summary ---\n")
	present := 0
	for _, c := range chips {
		switch {
		case !c.answered:
			fmt.Printf("%-10s no answer\n", c.name())
		case c.connected:
			present++
			fmt.Printf("%-10s present (carrier %s)\n", c.name(), onOffText(c.carrier))
		default:
			fmt.Printf("%-10s missing\n", c.name())
		}
	}

	if present == 0 {
		fmt.Printf("No radio chip found. Check the bridge wiring and firmware.\n")
		os.Exit(1)
	}
	return nil
}

func onOffText(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// collectStatus records STATUS reports until every chip answered or the
// timeout passed. Only a read error is returned.
func collectStatus(decoder *bridge.Decoder, chunks <-chan []byte, errc <-chan error, chips []*chipStatus, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	pending := len(chips)
	for pending > 0 {
		select {
		case data := <-chunks:
			for _, b := range data {
				packet, err := decoder.DecodeByte(b)
				if err != nil || packet == nil || packet.Type() != bridge.MsgStatus {
					continue
				}
				for _, c := range chips {
					if c.address != packet.Address() {
						continue
					}
					if !c.answered {
						pending--
					}
					c.answered = true
					m := packet.PayloadMap()
					c.connected, _ = bridge.GetMapBool(m, bridge.KeyConnected)
					c.carrier, _ = bridge.GetMapBool(m, bridge.KeyCarrier)
					fmt.Printf("\nSTATUS from %s: connected=%v\n", c.name(), c.connected)
				}
			}
		case err := <-errc:
			return err
		case <-deadline.C:
			return nil
		}
	}
	return nil
}
