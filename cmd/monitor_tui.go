// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/hoydtu/pkg/bridge"
	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	refreshInterval   = time.Second
	maxLogEntries     = 100
	maxInverterEvents = 6
)

// Focus states
const (
	focusInverterList = iota
	focusLimitInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type eventEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// inverterItem is the list row for one inverter, refreshed every tick.
type inverterItem struct {
	name      string
	serial    hoymiles.Serial
	typ       hoymiles.InverterType
	reachable bool
	producing bool
	polling   bool
	power     float32
	hasPower  bool
}

// Implement list.Item interface
func (i inverterItem) Title() string       { return i.name }
func (i inverterItem) FilterValue() string { return i.serial.String() }

func (i inverterItem) Description() string {
	state := "unreachable"
	switch {
	case !i.polling:
		state = "disabled"
	case i.producing:
		state = fmt.Sprintf("%.1f W", i.power)
	case i.reachable:
		state = "idle"
	}
	return fmt.Sprintf("%s | %s", i.typ, state)
}

func snapshotInverter(inv *hoymiles.Inverter) inverterItem {
	item := inverterItem{
		name:      inv.Name(),
		serial:    inv.Serial(),
		typ:       inv.Type(),
		reachable: inv.IsReachable(),
		producing: inv.IsProducing(),
		polling:   inv.EnablePolling(),
	}
	if inv.Statistics.HasChannelFieldValue(hoymiles.TypeAC, 0, hoymiles.FieldPAC) {
		item.power = inv.Statistics.ChannelFieldValue(hoymiles.TypeAC, 0, hoymiles.FieldPAC)
		item.hasPower = true
	}
	return item
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	gw       *gateway
	connInfo string

	inverters    []inverterItem
	inverterList list.Model

	events []eventEntry

	limitInput   textinput.Model
	focusedField int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type logEventMsg struct {
	timestamp time.Time
	message   string
	isError   bool
}

type limitResultMsg struct {
	name  string
	limit float32
	err   error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(gw *gateway) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "100"
	ti.CharLimit = 5
	ti.Width = 8

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	inverterList := list.New([]list.Item{}, delegate, 30, 10)
	inverterList.Title = "Inverters"
	inverterList.SetShowStatusBar(false)
	inverterList.SetShowHelp(false)
	inverterList.SetFilteringEnabled(false)

	connInfo := "SPI"
	if gw.link != nil {
		connInfo = gw.info
	}

	m := monitorModel{
		gw:           gw,
		connInfo:     connInfo,
		inverterList: inverterList,
		limitInput:   ti,
		focusedField: focusInverterList,
		width:        80,
		height:       24,
	}
	m.refresh()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		m.refresh()
		return m, monitorTickCmd()

	case logEventMsg:
		m.addLogEntry(msg.timestamp, msg.message, msg.isError)

	case limitResultMsg:
		if msg.err != nil {
			m.addLogEntry(time.Now(), fmt.Sprintf("%s: limit not sent: %v", msg.name, msg.err), true)
		} else {
			m.addLogEntry(time.Now(), fmt.Sprintf("%s: limit %.1f %% queued", msg.name, msg.limit), false)
		}
	}

	var cmd tea.Cmd
	if m.focusedField == focusLimitInput {
		m.limitInput, cmd = m.limitInput.Update(msg)
	} else {
		m.inverterList, cmd = m.inverterList.Update(msg)
	}
	return m, cmd
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusLimitInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		m.toggleFocus()
		return m, nil

	case "enter":
		if m.focusedField == focusLimitInput {
			return m.sendLimit()
		}

	case "esc":
		if m.focusedField == focusLimitInput {
			m.toggleFocus()
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.focusedField == focusLimitInput {
		m.limitInput, cmd = m.limitInput.Update(msg)
	} else {
		m.inverterList, cmd = m.inverterList.Update(msg)
	}
	return m, cmd
}

func (m *monitorModel) toggleFocus() {
	if m.focusedField == focusLimitInput || m.selected() == nil {
		m.focusedField = focusInverterList
		m.limitInput.Blur()
		return
	}
	m.focusedField = focusLimitInput
	m.limitInput.Focus()
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("HOYDTU MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.gw.link != nil && !m.gw.link.IsConnected() {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=send limit", connStatus)))
	s.WriteString("\n")

	if m.gw.link != nil && m.gw.link.IsConnected() {
		uptime := uint64(m.gw.link.Uptime().Milliseconds())
		s.WriteString(fmt.Sprintf(" %s %s",
			labelStyle.Render("Bridge Uptime:"),
			valueStyle.Render(bridge.FormatUptime(uptime))))
	}
	s.WriteString("\n\n")

	if len(m.inverters) == 0 {
		s.WriteString(warningStyle.Render("No inverters configured"))
		s.WriteString("\n\n")
		s.WriteString(m.renderEventLog(labelStyle, headerStyle, warningStyle, errorStyle, boxStyle))
		return s.String()
	}

	// Layout: left panel (inverters) | right panel (details)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusInverterList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	listPanel := listStyle.Render(m.inverterList.View())

	detailStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusLimitInput {
		detailStyle = focusedBoxStyle.Width(rightWidth)
	}
	detailPanel := detailStyle.Render(m.renderDetailPanel(labelStyle, valueStyle, headerStyle, errorStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, listPanel, " ", detailPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(labelStyle, headerStyle, warningStyle, errorStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func formatField(inv *hoymiles.Inverter, t hoymiles.ChannelType, ch uint8, f hoymiles.FieldID) string {
	if !inv.Statistics.HasChannelFieldValue(t, ch, f) {
		return "n/a"
	}
	v := inv.Statistics.ChannelFieldValue(t, ch, f)
	if unit := f.Unit(); unit != "" {
		return fmt.Sprintf("%.1f %s", v, unit)
	}
	return fmt.Sprintf("%.2f", v)
}

func (m monitorModel) renderDetailPanel(labelStyle, valueStyle, headerStyle, errorStyle lipgloss.Style) string {
	var s strings.Builder

	inv := m.selectedInverter()
	if inv == nil {
		s.WriteString(headerStyle.Render("No inverter selected"))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s (%s, %s radio)\n",
		labelStyle.Render("Selected:"), inv.Serial(), inv.Type(), inv.RadioKind()))
	if inv.DevInfo.ContainsValidData() {
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Firmware:"), inv.DevInfo.FirmwareVersion()))
	}
	if !inv.IsReachable() {
		s.WriteString(errorStyle.Render("Not reachable"))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	s.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s\n",
		labelStyle.Render("AC:"), valueStyle.Render(formatField(inv, hoymiles.TypeAC, 0, hoymiles.FieldPAC)),
		labelStyle.Render("Today:"), valueStyle.Render(formatField(inv, hoymiles.TypeAC, 0, hoymiles.FieldYD)),
		labelStyle.Render("Total:"), valueStyle.Render(formatField(inv, hoymiles.TypeAC, 0, hoymiles.FieldYT)),
	))
	s.WriteString(fmt.Sprintf("%s %s  %s %s\n",
		labelStyle.Render("Grid:"), valueStyle.Render(formatField(inv, hoymiles.TypeAC, 0, hoymiles.FieldUAC)),
		labelStyle.Render("Temp:"), valueStyle.Render(formatField(inv, hoymiles.TypeInverter, 0, hoymiles.FieldT)),
	))
	for _, ch := range inv.Statistics.ChannelsByType(hoymiles.TypeDC) {
		s.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render(fmt.Sprintf("DC %d:", ch+1)),
			valueStyle.Render(formatField(inv, hoymiles.TypeDC, ch, hoymiles.FieldPDC))))
	}
	s.WriteString("\n")

	s.WriteString(fmt.Sprintf("%s %s (%s)\n",
		labelStyle.Render("Limit:"),
		valueStyle.Render(fmt.Sprintf("%.1f %%", inv.SystemConfigPara.LimitPercent())),
		inv.SystemConfigPara.LastLimitCommandSuccess()))

	s.WriteString(labelStyle.Render("New limit %: "))
	if m.focusedField == focusLimitInput {
		s.WriteString(m.limitInput.View())
	} else {
		val := m.limitInput.Value()
		if val == "" {
			val = m.limitInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	if !inv.EnableCommands() {
		s.WriteString(headerStyle.Render("  (read only)"))
	}
	s.WriteString("\n")

	entries := inv.EventLog.Entries()
	if len(entries) > 0 {
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Inverter events:"))
		s.WriteString("\n")
		start := len(entries) - maxInverterEvents
		if start < 0 {
			start = 0
		}
		for _, e := range entries[start:] {
			s.WriteString("  " + e.String() + "\n")
		}
	}

	return s.String()
}

func (m monitorModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder

	if inv := m.selectedInverter(); inv != nil {
		rs := inv.RadioStats.Snapshot()
		failures := valueStyle.Render("0")
		if rs.Failures() > 0 {
			failures = errorStyle.Render(fmt.Sprintf("%d", rs.Failures()))
		}
		content.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
			labelStyle.Render("Requests:"), valueStyle.Render(fmt.Sprintf("%d", rs.TxRequestData)),
			labelStyle.Render("Answered:"), valueStyle.Render(fmt.Sprintf("%.1f%%", rs.SuccessRate())),
			labelStyle.Render("Failed:"), failures,
			labelStyle.Render("RSSI:"), valueStyle.Render(fmt.Sprintf("%d dBm", rs.LastRSSI)),
		))
		if rs.LastFrequency > 0 {
			content.WriteString(fmt.Sprintf("  %s %s",
				labelStyle.Render("Freq:"),
				valueStyle.Render(fmt.Sprintf("%.3f MHz", float64(rs.LastFrequency)/1e6))))
		}
	}

	if ls := m.gw.linkStatistics(); ls != nil {
		c := ls.Snapshot()
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		errs := c.CRCErrors + c.DecodeErrors
		errText := valueStyle.Render("0")
		if errs > 0 {
			errText = errorStyle.Render(fmt.Sprintf("%d", errs))
		}
		content.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
			labelStyle.Render("Bridge rx:"), valueStyle.Render(fmt.Sprintf("%d", c.ValidPackets)),
			labelStyle.Render("tx:"), valueStyle.Render(fmt.Sprintf("%d", c.SentPackets)),
			labelStyle.Render("Errors:"), errText,
			labelStyle.Render("Reconnects:"), valueStyle.Render(fmt.Sprintf("%d", c.Reconnects)),
		))
	}

	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m monitorModel) renderEventLog(labelStyle, headerStyle, warningStyle, errorStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := m.height - 30
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.events) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.events) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.events[startIdx:] {
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m monitorModel) sendLimit() (tea.Model, tea.Cmd) {
	sel := m.selected()
	if sel == nil {
		return m, nil
	}

	val := m.limitInput.Value()
	if val == "" {
		val = m.limitInput.Placeholder
	}
	pct, err := strconv.ParseFloat(val, 32)
	if err != nil || pct < 0 || pct > 100 {
		m.addLogEntry(time.Now(), fmt.Sprintf("Invalid limit: %s (0 to 100 %%)", val), true)
		return m, nil
	}

	engine, name, serial, limit := m.gw.engine, sel.name, sel.serial, float32(pct)
	m.limitInput.SetValue("")
	m.toggleFocus()
	return m, func() tea.Msg {
		err := engine.SendActivePowerControlRequest(serial, limit, hoymiles.RelativNonPersistent)
		return limitResultMsg{name: name, limit: limit, err: err}
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLogEntry(ts time.Time, message string, isError bool) {
	m.events = append(m.events, eventEntry{timestamp: ts, message: message, isError: isError})
	if len(m.events) > maxLogEntries {
		m.events = m.events[len(m.events)-maxLogEntries:]
	}
}

// refresh rebuilds the list rows from the engine.
func (m *monitorModel) refresh() {
	invs := m.gw.engine.Inverters()
	m.inverters = make([]inverterItem, len(invs))
	items := make([]list.Item, len(invs))
	for i, inv := range invs {
		m.inverters[i] = snapshotInverter(inv)
		items[i] = m.inverters[i]
	}
	m.inverterList.SetItems(items)
}

func (m monitorModel) selected() *inverterItem {
	idx := m.inverterList.Index()
	if idx < 0 || idx >= len(m.inverters) {
		return nil
	}
	return &m.inverters[idx]
}

func (m monitorModel) selectedInverter() *hoymiles.Inverter {
	sel := m.selected()
	if sel == nil {
		return nil
	}
	return m.gw.engine.InverterBySerial(sel.serial)
}

func (m *monitorModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.inverterList.SetSize(28, listHeight)
}
