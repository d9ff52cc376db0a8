package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple - headers, borders
	SuccessColor = lipgloss.Color("#43BF6D") // Green - online, on
	ErrorColor   = lipgloss.Color("#FF5555") // Red - errors, offline
	WarningColor = lipgloss.Color("#FFA500") // Orange - warnings
	MutedColor   = lipgloss.Color("#626262") // Gray - secondary info
	TextColor    = lipgloss.Color("#FFFFFF")
)

// Layout constants
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 120
	defaultHeight    = 24
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Bold(true).
			PaddingLeft(2)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			PaddingLeft(2)

	KeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(15)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	SuccessTitleStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	ErrorTitleStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	WarningTitleStyle = lipgloss.NewStyle().
				Foreground(WarningColor).
				Bold(true)

	ErrorMessageStyle = lipgloss.NewStyle().
				Foreground(ErrorColor)

	HintStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	OnStyle      = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	OffStyle     = lipgloss.NewStyle().Foreground(MutedColor)
	OnlineStyle  = lipgloss.NewStyle().Foreground(SuccessColor)
	OfflineStyle = lipgloss.NewStyle().Foreground(ErrorColor)
)

// Markers
const (
	SuccessMarker = "✓"
	FailureMarker = "✗"
	WarningMarker = "⚠"
)

// GetTerminalWidth returns the terminal width clamped to the supported range.
func GetTerminalWidth() int {
	w, _ := GetTerminalSize()
	return w
}

// GetTerminalSize returns the terminal width and height, with fallbacks
// when stdout is not a terminal.
func GetTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth, defaultHeight
	}
	return clampWidth(width), height
}

func clampWidth(width int) int {
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}

// IsTerminal reports whether stdout is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func boxStyle(color lipgloss.Color, width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Width(clampWidth(width) - 2).
		Padding(0, 2)
}
