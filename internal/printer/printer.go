package printer

import (
	"fmt"

	"github.com/fatih/color"
)

type Func func(format string, a ...interface{}) string

// ColorPrinter decorates log lines per severity. A plain printer is used for
// JSON output and non-TTY sinks.
type ColorPrinter struct {
	Success Func
	Error   Func
	Warning Func
	Info    Func
	Debug   Func
}

func NewColorPrinter() *ColorPrinter {
	return &ColorPrinter{
		Success: color.New(color.FgGreen).SprintfFunc(),
		Error:   color.New(color.FgRed).SprintfFunc(),
		Warning: color.New(color.FgYellow).SprintfFunc(),
		Info:    color.New(color.FgBlue).SprintfFunc(),
		Debug:   color.New(color.FgCyan).SprintfFunc(),
	}
}

func NewPlainPrinter() *ColorPrinter {
	return &ColorPrinter{
		Success: fmt.Sprintf,
		Error:   fmt.Sprintf,
		Warning: fmt.Sprintf,
		Info:    fmt.Sprintf,
		Debug:   fmt.Sprintf,
	}
}

func New(colored bool) *ColorPrinter {
	if colored {
		return NewColorPrinter()
	}
	return NewPlainPrinter()
}
