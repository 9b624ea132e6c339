// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/busline/busd/lib/busclient"
)

var (
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	faintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("236")).Foreground(lipgloss.Color("255"))
	lossyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	borderStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type statsMsg struct {
	connections []busclient.ConnectionStatus
	err         error
}

type tickMsg time.Time

// model is a read-only bubbletea Model over a single bus's live
// connection state, polled on an interval.
type model struct {
	client   *busclient.Client
	interval time.Duration

	connections []busclient.ConnectionStatus
	cursor      int
	lastError   error
	lastPolled  time.Time

	width  int
	height int
}

func newModel(socket string, interval time.Duration) (*model, error) {
	client, err := busclient.Dial(socket)
	if err != nil {
		return nil, err
	}
	return &model{client: client, interval: interval}, nil
}

func (m *model) Close() error {
	return m.client.Close()
}

func (m *model) Init() tea.Cmd {
	return m.poll()
}

func (m *model) poll() tea.Cmd {
	return func() tea.Msg {
		conns, err := m.client.Stats()
		return statsMsg{connections: conns, err: err}
	}
}

func (m *model) scheduleNextPoll() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.connections)-1 {
				m.cursor++
			}
		case "r":
			return m, m.poll()
		}
		return m, nil

	case statsMsg:
		m.lastError = msg.err
		if msg.err == nil {
			m.connections = sortedByID(msg.connections)
			m.lastPolled = time.Now()
			if m.cursor >= len(m.connections) {
				m.cursor = len(m.connections) - 1
			}
			if m.cursor < 0 {
				m.cursor = 0
			}
		}
		return m, m.scheduleNextPoll()

	case tickMsg:
		return m, m.poll()
	}
	return m, nil
}

func sortedByID(conns []busclient.ConnectionStatus) []busclient.ConnectionStatus {
	out := append([]busclient.ConnectionStatus(nil), conns...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("busline viewer — %d connection(s)", len(m.connections))))
	b.WriteString("\n")
	if !m.lastPolled.IsZero() {
		b.WriteString(faintStyle.Render(fmt.Sprintf("last polled %s ago", time.Since(m.lastPolled).Round(time.Second))))
		b.WriteString("\n")
	}
	if m.lastError != nil {
		b.WriteString(lossyStyle.Render("error: " + m.lastError.Error()))
		b.WriteString("\n")
	}
	b.WriteString(borderStyle.Render(strings.Repeat("─", tableWidth)))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(headerRow()))
	b.WriteString("\n")

	for i, c := range m.connections {
		row := formatRow(c)
		if i == m.cursor {
			row = selectedStyle.Render(row)
		} else if c.Lossy {
			row = lossyStyle.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}

	if len(m.connections) > 0 && m.cursor < len(m.connections) {
		b.WriteString("\n")
		b.WriteString(detailView(m.connections[m.cursor]))
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ select · r refresh · q quit"))
	return b.String()
}

const tableWidth = 88

func headerRow() string {
	return fmt.Sprintf("%-6s %-12s %-6s %-6s %-8s %-10s %-8s %s",
		"CONN", "ENDPOINT", "UID", "GID", "MAILBOX", "POOL", "LOSSY", "NAMES")
}

func formatRow(c busclient.ConnectionStatus) string {
	pool := fmt.Sprintf("%s/%s", humanize.Bytes(c.PoolUsed), humanize.Bytes(c.PoolCap))
	names := strings.Join(c.OwnedNames, ",")
	if len(names) > 28 {
		names = names[:25] + "..."
	}
	return fmt.Sprintf("%-6d %-12s %-6d %-6d %-8d %-10s %-8v %s",
		c.ID, c.Endpoint, c.UID, c.GID, c.MailboxSize, pool, c.Lossy, names)
}

func detailView(c busclient.ConnectionStatus) string {
	generations := make([]string, len(c.Generations))
	for i, g := range c.Generations {
		generations[i] = fmt.Sprintf("%d", g)
	}
	return faintStyle.Render(fmt.Sprintf(
		"connection %d: pid=%d owned_names=%v match_generations=[%s]",
		c.ID, c.PID, c.OwnedNames, strings.Join(generations, ", "),
	))
}
