// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hoydtu/pkg/bridge"
)

var (
	showAll       bool
	statsInterval int

	pingTimeout int
	pingCount   int
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Diagnostics for the radio bridge co-processor",
	Long: `Tools that talk to the radio bridge directly, without the inverter engine.

Supports both serial and WebSocket connections.`,
}

var bridgeLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Decode and display bridge traffic",
	Long: `Continuously decode bridge packets as they arrive and track link errors.

Decode errors are ignored until the first valid packet synchronizes the
decoder. After that every CRC or framing error is printed. Use --show-all to
print every decoded packet, radio frames included.

A statistics summary is printed at the configured interval.`,
	RunE: runBridgeLog,
}

var bridgePingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send PING_REQUEST to the bridge and wait for PING_RESPONSE",
	Long: `Send PING_REQUEST packets to the bridge and wait for PING_RESPONSE.

The bridge answers with its uptime. This verifies:
  - The serial port or WebSocket connection is established
  - HTTP Basic authentication works
  - The bridge firmware is processing packets

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runBridgePing,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.AddCommand(bridgeLogCmd)
	bridgeCmd.AddCommand(bridgePingCmd)

	bridgeLogCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	bridgeLogCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")

	bridgePingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	bridgePingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// openBridge loads the connection settings and opens one connection.
func openBridge(cmd *cobra.Command) (bridge.Conn, string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	return OpenConnection(cfg.Bridge)
}

// readChunks copies reads from conn into a channel until the connection
// fails.
func readChunks(conn bridge.Conn, errc chan<- error) <-chan []byte {
	out := make(chan []byte, 10)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errc <- err
				return
			}
			if n == 0 {
				continue
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- data
		}
	}()
	return out
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(w io.Writer, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(w, "[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Fprintf(w, "  >>> DECODE FAILED <<<\n\n")
}

// logState is the synchronization and statistics state of bridge log.
type logState struct {
	decoder *bridge.Decoder
	stats   *bridge.LinkStatistics
	showAll bool

	synchronized           bool
	invalidBytesBeforeSync int
}

func newLogState(showAll bool) *logState {
	return &logState{
		decoder: bridge.NewDecoder(),
		stats:   bridge.NewLinkStatistics(),
		showAll: showAll,
	}
}

func (s *logState) process(w io.Writer, data []byte) {
	for _, b := range data {
		packet, decodeErr := s.decoder.DecodeByte(b)

		if decodeErr != nil {
			if s.synchronized {
				s.stats.Update(decodeErr)
				printDecodeError(w, decodeErr)
			} else {
				// not synced yet, just count invalid bytes
				s.invalidBytesBeforeSync++
			}
			continue
		}
		if packet == nil {
			continue
		}

		if !s.synchronized {
			s.synchronized = true
			if s.invalidBytesBeforeSync > 0 {
				fmt.Fprintf(w, "[SYNC] Synchronized after skipping %d invalid bytes\n\n", s.invalidBytesBeforeSync)
			} else {
				fmt.Fprintf(w, "[SYNC] Synchronized\n\n")
			}
		}
		s.stats.Update(nil)

		switch {
		case packet.ParseError() != nil:
			fmt.Fprint(w, bridge.FormatPacket(packet))
		case packet.Type() == bridge.MsgPingResponse || packet.Type() == bridge.MsgStatus:
			// always shown, they are rare and tell the link state
			fmt.Fprint(w, bridge.FormatPacket(packet))
		case s.showAll:
			fmt.Fprint(w, bridge.FormatPacket(packet))
		}
	}
}

func runBridgeLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := openBridge(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("hoydtu - Bridge Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	state := newLogState(showAll)
	out := cmd.OutOrStdout()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	errc := make(chan error, 1)
	chunks := readChunks(conn, errc)

	for {
		select {
		case data := <-chunks:
			state.process(out, data)

		case <-statsTicker.C:
			fmt.Fprintln(out)
			fmt.Fprint(out, state.stats.String())
			fmt.Fprintln(out)

		case err := <-errc:
			if errors.Is(err, bridge.ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Printf("Connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)

		case <-interrupt:
			fmt.Fprintln(out)
			fmt.Fprint(out, state.stats.String())
			return nil
		}
	}
}

func runBridgePing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := openBridge(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("hoydtu - Bridge Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	wireBytes, err := bridge.EncodeFrame(bridge.AddressBridge, bridge.MsgPingRequest, nil)
	if err != nil {
		return err
	}

	decoder := bridge.NewDecoder()
	errc := make(chan error, 1)
	chunks := readChunks(conn, errc)
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if _, err := conn.Write(wireBytes); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		packet, err := waitForPong(decoder, chunks, errc, time.Duration(pingTimeout)*time.Second)
		switch {
		case err == nil:
			uptime, _ := bridge.GetMapUint(packet.PayloadMap(), bridge.KeyUptime)
			fmt.Printf("PONG from bridge, uptime=%s, rtt=%v\n", bridge.FormatUptime(uptime), time.Since(startTime).Round(time.Millisecond))
			successCount++
		case errors.Is(err, errPingTimeout):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		default:
			fmt.Printf("READ FAILED: %v\n", err)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

var errPingTimeout = errors.New("ping timeout")

// waitForPong decodes incoming bytes until a PING_RESPONSE arrives. Radio
// frames and status reports in between are skipped.
func waitForPong(decoder *bridge.Decoder, chunks <-chan []byte, errc <-chan error, timeout time.Duration) (*bridge.Packet, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case data := <-chunks:
			for _, b := range data {
				packet, err := decoder.DecodeByte(b)
				if err != nil || packet == nil {
					continue
				}
				if packet.Type() == bridge.MsgPingResponse {
					return packet, nil
				}
			}
		case err := <-errc:
			return nil, err
		case <-deadline.C:
			return nil, errPingTimeout
		}
	}
}
