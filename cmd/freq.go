// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

var (
	freqCountry   string
	freqFrequency uint32
	freqFetches   int
	freqSends     int
)

var freqCmd = &cobra.Command{
	Use:   "freq",
	Short: "Print the sub-GHz channel table and search sequence",
	Long: `Print the CMT2300A channel plan of a country and the frequencies tried
when an HMS/HMT inverter stops answering on its target frequency.

Each search row is one failed fetch; the columns are the resends of the
request within that fetch.`,
	RunE: runFreq,
}

func init() {
	rootCmd.AddCommand(freqCmd)
	freqCmd.Flags().StringVar(&freqCountry, "country", "EU", "Country mode (EU, US, BR)")
	freqCmd.Flags().Uint32Var(&freqFrequency, "frequency", 0, "Inverter target frequency in Hz (default: country default)")
	freqCmd.Flags().IntVar(&freqFetches, "fetches", 4, "Failed fetches to show in the search sequence")
	freqCmd.Flags().IntVar(&freqSends, "sends", hoymiles.DefaultMaxResendCount+1, "Sends per fetch to show in the search sequence")
}

func runFreq(cmd *cobra.Command, args []string) error {
	mode, err := hoymiles.ParseCountryMode(freqCountry)
	if err != nil {
		return err
	}
	band := hoymiles.Country(mode)

	target := freqFrequency
	if target == 0 {
		target = band.DefaultFrequency
	}
	if band.ChannelFromFrequency(target) == hoymiles.InvalidChannel {
		return fmt.Errorf("%.3f MHz: %w", mhz(target), hoymiles.ErrInvalidFrequency)
	}

	out := cmd.OutOrStdout()
	printChannelTable(out, mode, band, target)
	fmt.Fprintln(out)
	printSearchSequence(out, band, target, freqFetches, freqSends)
	return nil
}

func mhz(hz uint32) float64 {
	return float64(hz) / 1e6
}

func printChannelTable(w io.Writer, mode hoymiles.CountryMode, band hoymiles.CountryDefinition, target uint32) {
	fmt.Fprintf(w, "=== %s band: %.3f - %.3f MHz, %d kHz channels ===\n",
		mode, mhz(band.MinFrequency), mhz(band.MaxFrequency), band.ChannelWidth/1000)
	fmt.Fprintf(w, "%-8s %-12s %s\n", "Channel", "Frequency", "Notes")
	for _, ch := range band.Channels() {
		f := band.FrequencyFromChannel(ch)
		var notes []string
		if f == target {
			notes = append(notes, "target")
		}
		if f == band.DefaultFrequency {
			notes = append(notes, "default")
		}
		if f == band.BootFrequency {
			notes = append(notes, "boot")
		}
		if f < band.LegalMinFrequency || f > band.LegalMaxFrequency {
			notes = append(notes, "not legal")
		}
		fmt.Fprintf(w, "%-8d %-12s %s\n", ch, fmt.Sprintf("%.3f MHz", mhz(f)), strings.Join(notes, ", "))
	}
}

func printSearchSequence(w io.Writer, band hoymiles.CountryDefinition, target uint32, fetches, sends int) {
	fmt.Fprintf(w, "=== Search sequence around %.3f MHz ===\n", mhz(target))
	for fetch := 1; fetch <= fetches; fetch++ {
		row := []string{fmt.Sprintf("%.3f", mhz(target))}
		// the first send of a fetch always uses the target
		for send := 2; send <= sends; send++ {
			row = append(row, fmt.Sprintf("%.3f", mhz(hoymiles.CMTSearchFrequency(fetch, send, target, band))))
		}
		fmt.Fprintf(w, "Fetch %-3d %s\n", fetch, strings.Join(row, " "))
	}
}
