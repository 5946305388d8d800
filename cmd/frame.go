// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

// frameOptions holds the flags of the frame command.
type frameOptions struct {
	target    string
	dtu       string
	limit     float32
	limitType string
	channel   uint8
	country   string
	power     string
	frameNo   uint8
	unixTime  int64
}

var frameOpts frameOptions

type frameBuilder func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error)

func frameTime(opts frameOptions) time.Time {
	if opts.unixTime == 0 {
		return time.Now()
	}
	return time.Unix(opts.unixTime, 0)
}

var frameKinds = map[string]frameBuilder{
	"realtime": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		return hoymiles.NewRealTimeRunDataCommand(target, dtu, frameTime(opts)), nil
	},
	"sysconfig": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		return hoymiles.NewSystemConfigParaCommand(target, dtu, frameTime(opts)), nil
	},
	"alarm": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		return hoymiles.NewAlarmDataCommand(target, dtu, frameTime(opts)), nil
	},
	"devinfo-all": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		return hoymiles.NewDevInfoAllCommand(target, dtu, frameTime(opts)), nil
	},
	"devinfo-simple": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		return hoymiles.NewDevInfoSimpleCommand(target, dtu, frameTime(opts)), nil
	},
	"gridprofile": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		return hoymiles.NewGridOnProFileParaCommand(target, dtu, frameTime(opts)), nil
	},
	"request-frame": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		return hoymiles.NewRequestFrameCommand(target, dtu, opts.frameNo), nil
	},
	"channel-change": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		country, err := hoymiles.ParseCountryMode(opts.country)
		if err != nil {
			return nil, err
		}
		c := hoymiles.NewChannelChangeCommand(target, dtu, opts.channel)
		c.SetCountryMode(country)
		return c, nil
	},
	"power": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		c := hoymiles.NewPowerControlCommand(target, dtu)
		switch strings.ToLower(opts.power) {
		case "on":
			c.SetPowerOn(true)
		case "off":
			c.SetPowerOn(false)
		case "restart":
			c.SetRestart()
		default:
			return nil, fmt.Errorf("--power must be on, off or restart, got %q", opts.power)
		}
		return c, nil
	},
	"limit": func(target, dtu hoymiles.Serial, opts frameOptions) (hoymiles.Command, error) {
		t, err := hoymiles.ParsePowerLimitControlType(opts.limitType)
		if err != nil {
			return nil, err
		}
		c := hoymiles.NewActivePowerControlCommand(target, dtu)
		c.SetActivePowerLimit(opts.limit, t)
		return c, nil
	},
}

func frameKindNames() []string {
	names := make([]string, 0, len(frameKinds))
	for k := range frameKinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var frameCmd = &cobra.Command{
	Use:   "frame <kind>",
	Short: "Print the radio frame of a command",
	Long: `Build one inverter command and print its frame bytes, CRC8 included.

Kinds: ` + strings.Join(frameKindNames(), ", ") + `

Examples:
  hoydtu frame realtime --target 114172220003 --time 1700000000
  hoydtu frame limit --target 114172220003 --limit 50 --type RelativNonPersistent
  hoydtu frame channel-change --target 116412345678 --country EU --channel 20
  hoydtu frame power --target 114172220003 --power restart`,
	Args: cobra.ExactArgs(1),
	RunE: runFrame,
}

func init() {
	rootCmd.AddCommand(frameCmd)
	f := frameCmd.Flags()
	f.StringVar(&frameOpts.target, "target", "", "Inverter serial number (required)")
	f.StringVar(&frameOpts.dtu, "dtu", "199912345678", "DTU serial number")
	f.Float32Var(&frameOpts.limit, "limit", 100, "Power limit (percent or watts, see --type)")
	f.StringVar(&frameOpts.limitType, "type", hoymiles.RelativNonPersistent.String(), "Limit type")
	f.Uint8Var(&frameOpts.channel, "channel", 0, "Channel for channel-change")
	f.StringVar(&frameOpts.country, "country", "EU", "Country mode for channel-change (EU, US, BR)")
	f.StringVar(&frameOpts.power, "power", "on", "Power action: on, off or restart")
	f.Uint8Var(&frameOpts.frameNo, "frame", 1, "Fragment number for request-frame")
	f.Int64Var(&frameOpts.unixTime, "time", 0, "Unix time embedded in data requests (default now)")
	_ = frameCmd.MarkFlagRequired("target")
}

func runFrame(cmd *cobra.Command, args []string) error {
	c, err := buildFrame(args[0], frameOpts)
	if err != nil {
		return err
	}
	printFrame(cmd.OutOrStdout(), c)
	return nil
}

func buildFrame(kind string, opts frameOptions) (hoymiles.Command, error) {
	build, ok := frameKinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown frame kind %q (want one of %s)", kind, strings.Join(frameKindNames(), ", "))
	}
	target, err := hoymiles.ParseSerial(opts.target)
	if err != nil {
		return nil, fmt.Errorf("--target: %w", err)
	}
	dtu, err := hoymiles.ParseSerial(opts.dtu)
	if err != nil {
		return nil, fmt.Errorf("--dtu: %w", err)
	}
	return build(target, dtu, opts)
}

func printFrame(w io.Writer, c hoymiles.Command) {
	data := c.DataPayload()
	fmt.Fprintf(w, "Command: %s\n", c.Name())
	fmt.Fprintf(w, "Target:  %s (radio id %010X)\n", c.TargetAddress(), c.TargetAddress().RadioID())
	fmt.Fprintf(w, "Router:  %s\n", c.RouterAddress())
	fmt.Fprintf(w, "Length:  %d\n", len(data))
	fmt.Fprintf(w, "Frame:   % X\n", data)
}
