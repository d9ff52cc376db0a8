package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/discovery"
)

// UpdateMsg carries a discovery update into the monitor.
type UpdateMsg discovery.Update

type toggledMsg struct {
	id  string
	on  bool
	err error
}

// TogglePower switches a device's relay. The monitor runs it off the UI
// goroutine.
type TogglePower func(dev *client.Device, on bool) error

type monitorKeys struct {
	Up     key.Binding
	Down   key.Binding
	Toggle key.Binding
	Quit   key.Binding
}

func (k monitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.Quit}
}

func (k monitorKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultMonitorKeys = monitorKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle: key.NewBinding(key.WithKeys("t", " "), key.WithHelp("t", "toggle power")),
	Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Monitor is a live table of discovered devices.
type Monitor struct {
	table   table.Model
	spinner spinner.Model
	help    help.Model
	keys    monitorKeys

	devices map[string]*client.Device
	snaps   map[string]client.Snapshot
	order   []string

	toggle TogglePower
	status string
	events int
	width  int
}

var monitorColumns = []int{10, 18, 6, 12, 21, 8, 5, 8}

// NewMonitor creates a monitor seeded with already known devices.
func NewMonitor(devices []*client.Device, toggle TogglePower) *Monitor {
	cols := make([]table.Column, len(DeviceHeaders))
	for i, h := range DeviceHeaders {
		cols[i] = table.Column{Title: h, Width: monitorColumns[i]}
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(PrimaryColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(TextColor).
		Background(PrimaryColor)

	t := table.New(table.WithColumns(cols), table.WithFocused(true), table.WithHeight(10))
	t.SetStyles(styles)

	m := &Monitor{
		table:   t,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(PrimaryColor))),
		help:    help.New(),
		keys:    defaultMonitorKeys,
		devices: make(map[string]*client.Device),
		snaps:   make(map[string]client.Snapshot),
		toggle:  toggle,
	}
	for _, dev := range devices {
		m.track(dev, dev.Snapshot())
	}
	m.refresh()
	return m
}

func (m *Monitor) track(dev *client.Device, s client.Snapshot) {
	if _, ok := m.snaps[s.ID]; !ok {
		m.order = append(m.order, s.ID)
		sort.Strings(m.order)
	}
	if dev != nil {
		m.devices[s.ID] = dev
	}
	m.snaps[s.ID] = s
}

func (m *Monitor) refresh() {
	rows := make([]table.Row, 0, len(m.order))
	for _, id := range m.order {
		rows = append(rows, table.Row(DeviceRow(m.snaps[id])))
	}
	m.table.SetRows(rows)
}

func (m *Monitor) selected() (string, bool) {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return "", false
	}
	return row[0], true
}

// Init implements tea.Model
func (m *Monitor) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case UpdateMsg:
		m.events++
		m.track(msg.Device, msg.Snapshot)
		m.refresh()
		m.status = fmt.Sprintf("%s %s", msg.Snapshot.Summary(), msg.Name)
		return m, nil

	case toggledMsg:
		if msg.err != nil {
			m.status = ErrorMessageStyle.Render(fmt.Sprintf("%s: %v", msg.id, msg.err))
		} else {
			m.status = fmt.Sprintf("%s switched %s", msg.id, onOff(msg.on))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			return m, m.toggleSelected()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Monitor) toggleSelected() tea.Cmd {
	id, ok := m.selected()
	if !ok || m.toggle == nil {
		return nil
	}
	dev, ok := m.devices[id]
	if !ok {
		return nil
	}
	on := !m.snaps[id].PowerOn
	toggle := m.toggle
	m.status = fmt.Sprintf("switching %s %s...", id, onOff(on))
	return func() tea.Msg {
		return toggledMsg{id: id, on: on, err: toggle(dev, on)}
	}
}

// View implements tea.Model
func (m *Monitor) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s Watching for devices", m.spinner.View())))
	b.WriteString(SubtitleStyle.Render(fmt.Sprintf("%d devices, %d events", len(m.order), m.events)))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(HintStyle.Render(" " + m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// RunMonitor shows the monitor until the user quits or ctx is done. Updates
// from d are fed into the table as they arrive.
func RunMonitor(ctx context.Context, d *discovery.Discovery, toggle TogglePower) error {
	m := NewMonitor(d.Devices(), toggle)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())

	cancel := d.OnUpdate(func(u discovery.Update) {
		go p.Send(UpdateMsg(u))
	})
	defer cancel()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// toggleTimeout bounds a toggle issued from the monitor.
const toggleTimeout = 5 * time.Second

// DeviceToggle returns a TogglePower that calls SetPowerState with opts.
func DeviceToggle(ctx context.Context, opts client.SendOptions) TogglePower {
	return func(dev *client.Device, on bool) error {
		ctx, cancel := context.WithTimeout(ctx, toggleTimeout)
		defer cancel()
		return dev.SetPowerState(ctx, on, opts)
	}
}
