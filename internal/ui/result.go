package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ResultType indicates success or failure
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

// Detail is one key/value line in a result box.
type Detail struct {
	Key   string
	Value string
}

// Result is a bordered box summarising the outcome of a command.
type Result struct {
	Type    ResultType
	Title   string   // e.g. "Kitchen switched on"
	Details []Detail // rendered in order
	Error   error    // failure results only
	Hints   []string // failure results only
	Width   int
}

// NewSuccessResult creates a success result box
func NewSuccessResult(title string, details ...Detail) *Result {
	return &Result{Type: ResultSuccess, Title: title, Details: details, Width: GetTerminalWidth()}
}

// NewFailureResult creates a failure result box
func NewFailureResult(title string, err error, hints ...string) *Result {
	return &Result{Type: ResultFailure, Title: title, Error: err, Hints: hints, Width: GetTerminalWidth()}
}

// NewWarningResult creates a warning result box
func NewWarningResult(title string, details ...Detail) *Result {
	return &Result{Type: ResultWarning, Title: title, Details: details, Width: GetTerminalWidth()}
}

// SetWidth sets the width used for rendering.
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// AddDetail appends a detail line.
func (r *Result) AddDetail(key, value string) *Result {
	r.Details = append(r.Details, Detail{Key: key, Value: value})
	return r
}

// Render returns the styled result box as a string
func (r *Result) Render() string {
	var (
		marker, word string
		title        lipgloss.Style
		color        lipgloss.Color
	)
	switch r.Type {
	case ResultFailure:
		marker, word, title, color = FailureMarker, "FAILED", ErrorTitleStyle, ErrorColor
	case ResultWarning:
		marker, word, title, color = WarningMarker, "WARNING", WarningTitleStyle, WarningColor
	default:
		marker, word, title, color = SuccessMarker, "SUCCESS", SuccessTitleStyle, SuccessColor
	}

	lines := []string{"", title.Render(fmt.Sprintf(" %s  %s  ─  %s", marker, word, r.Title)), ""}

	for _, d := range r.Details {
		lines = append(lines, KeyStyle.Render(" "+d.Key+":")+" "+ValueStyle.Render(d.Value))
	}
	if len(r.Details) > 0 {
		lines = append(lines, "")
	}

	if r.Error != nil {
		lines = append(lines, ErrorMessageStyle.Render(" Error: "+r.Error.Error()), "")
	}
	if len(r.Hints) > 0 {
		lines = append(lines, HintStyle.Bold(true).Render(" Troubleshooting:"))
		for _, h := range r.Hints {
			lines = append(lines, HintStyle.Render("   • "+h))
		}
		lines = append(lines, "")
	}

	return boxStyle(color, r.Width).Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
