package ui

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/muurk/smartplug/internal/client"
)

// Printer writes styled output for one-shot commands.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a Printer that writes to w, or to os.Stdout if w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

// Width returns the width used for boxes.
func (p *Printer) Width() int { return p.width }

// Print writes content to the output
func (p *Printer) Print(content string) {
	_, _ = fmt.Fprint(p.out, content)
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a title with an optional muted subtitle.
func (p *Printer) PrintHeader(title, subtitle string) {
	lines := []string{TitleStyle.Render(strings.ToUpper(title))}
	if subtitle != "" {
		lines = append(lines, SubtitleStyle.Render(subtitle))
	}
	p.Println(lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(p.width - 2).
		Render(strings.Join(lines, "\n")))
}

// PrintResult prints a result box.
func (p *Printer) PrintResult(r *Result) {
	p.Println(r.SetWidth(p.width).Render())
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details ...Detail) {
	p.PrintResult(NewSuccessResult(title, details...))
}

// PrintError prints a failure result box with troubleshooting hints.
func (p *Printer) PrintError(title string, err error, hints ...string) {
	p.PrintResult(NewFailureResult(title, err, hints...))
}

// DeviceHeaders are the columns of the device table.
var DeviceHeaders = []string{"ID", "ALIAS", "TYPE", "MODEL", "ADDRESS", "STATUS", "POWER", "WATTS"}

// DeviceRow returns the table cells for a snapshot, unstyled.
func DeviceRow(s client.Snapshot) []string {
	power := "off"
	if s.PowerOn {
		power = "on"
	}
	watts := "-"
	if s.Emeter != nil {
		watts = strconv.FormatFloat(s.Emeter.PowerW, 'f', 1, 64)
	}
	status := string(s.Status)
	if status == "" {
		status = "-"
	}
	return []string{
		s.ID,
		s.Alias,
		string(s.Kind),
		s.Model,
		net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		status,
		power,
		watts,
	}
}

// RenderDeviceTable renders snapshots as a bordered table.
func RenderDeviceTable(snaps []client.Snapshot) string {
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, DeviceRow(s))
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(PrimaryColor)).
		Headers(DeviceHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return base.Foreground(PrimaryColor).Bold(true)
			}
			if row < 0 || row >= len(rows) {
				return base
			}
			switch DeviceHeaders[col] {
			case "STATUS":
				if rows[row][col] == string(client.StatusOffline) {
					return base.Inherit(OfflineStyle)
				}
				return base.Inherit(OnlineStyle)
			case "POWER":
				if rows[row][col] == "on" {
					return base.Inherit(OnStyle)
				}
				return base.Inherit(OffStyle)
			}
			return base
		}).
		Render()
}

// PrintDevices prints snapshots as a table, or a hint when there are none.
func (p *Printer) PrintDevices(snaps []client.Snapshot) {
	if len(snaps) == 0 {
		p.Println(HintStyle.Render("No devices found."))
		return
	}
	p.Println(RenderDeviceTable(snaps))
}
