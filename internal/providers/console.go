package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"logpipe/internal/models"
	"logpipe/internal/utils"
)

// consoleMu serializes color selection and writes across every console
// provider, since they usually share one terminal.
var consoleMu sync.Mutex

// Formatter renders a message for the console.
type Formatter func(msg *models.LogMessage) (string, error)

// ColorMode selects when the console provider colors its output.
type ColorMode string

const (
	// ColorAuto colors output on a terminal that supports it.
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ConsoleOptions configures a ConsoleProvider.
type ConsoleOptions struct {
	Filter models.CategoryFilter

	// Formatter defaults to TextFormatter.
	Formatter Formatter

	// Output defaults to os.Stdout, the primary stream. Color is applied to
	// the primary stream only unless Color is ColorAlways.
	Output io.Writer

	Color ColorMode
}

// ConsoleProvider writes each message as one line to the console.
type ConsoleProvider struct {
	base
	formatter Formatter
	out       io.Writer
	colors    map[models.Category]*color.Color
	logger    *utils.Logger
}

// categoryColors maps each category to its console color.
var categoryColors = map[models.Category][]color.Attribute{
	models.Trace:     {color.FgHiBlack},
	models.Debug:     {color.FgCyan},
	models.Info:      {color.FgWhite},
	models.StartStop: {color.FgGreen},
	models.Warning:   {color.FgYellow},
	models.Error:     {color.FgRed},
	models.Fatal:     {color.FgHiWhite, color.BgRed, color.Bold},
}

// NewConsoleProvider creates a console provider
func NewConsoleProvider(options ConsoleOptions) (*ConsoleProvider, error) {
	p := &ConsoleProvider{
		base:      newBase(TypeConsole, options.Filter),
		formatter: options.Formatter,
		out:       options.Output,
		logger:    utils.NewLogger("console-provider"),
	}
	if p.formatter == nil {
		p.formatter = TextFormatter
	}
	primary := p.out == nil || p.out == os.Stdout
	if p.out == nil {
		p.out = os.Stdout
	}

	switch options.Color {
	case "", ColorAuto:
		if primary {
			p.colors = newCategoryColors(nil)
		}
	case ColorAlways:
		p.colors = newCategoryColors(func(c *color.Color) { c.EnableColor() })
	case ColorNever:
	default:
		return nil, invalidOptions("unknown color mode %q", options.Color)
	}
	return p, nil
}

func newCategoryColors(configure func(*color.Color)) map[models.Category]*color.Color {
	colors := make(map[models.Category]*color.Color, len(categoryColors))
	for category, attrs := range categoryColors {
		c := color.New(attrs...)
		if configure != nil {
			configure(c)
		}
		colors[category] = c
	}
	return colors
}

// Accept writes msg. Formatting and write failures are reported on the
// diagnostic logger instead of being returned.
func (p *ConsoleProvider) Accept(ctx context.Context, msg *models.LogMessage) error {
	line, err := p.format(msg)
	if err != nil {
		p.logger.Error("Failed to format message", "index", msg.Index, "error", err, "message", msg.Message)
		return nil
	}
	line = strings.TrimSuffix(line, "\n")

	// The color sequence, the text, the reset and the newline reach the
	// writer as one unit.
	consoleMu.Lock()
	defer consoleMu.Unlock()

	if c := p.colorFor(msg.Category); c != nil {
		if _, err = c.Fprint(p.out, line); err == nil {
			_, err = io.WriteString(p.out, "\n")
		}
	} else {
		_, err = io.WriteString(p.out, line+"\n")
	}
	if err != nil {
		p.logger.Error("Failed to write message", "index", msg.Index, "error", err, "message", msg.Message)
	}
	return nil
}

func (p *ConsoleProvider) format(msg *models.LogMessage) (line string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("formatter panic: %v", r)
		}
	}()
	return p.formatter(msg)
}

// colorFor returns the color of the most severe category bit set.
func (p *ConsoleProvider) colorFor(category models.Category) *color.Color {
	if p.colors == nil {
		return nil
	}
	cats := models.Categories()
	for i := len(cats) - 1; i >= 0; i-- {
		if category.Has(cats[i]) {
			return p.colors[cats[i]]
		}
	}
	return nil
}

// TextFormatter renders
// "2006-01-02T15:04:05.000Z Warning  [app] Class.Method #12: text k=v".
func TextFormatter(msg *models.LogMessage) (string, error) {
	var b strings.Builder
	b.WriteString(msg.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Fprintf(&b, " %-9s", msg.Category)
	if msg.Application != "" {
		fmt.Fprintf(&b, " [%s]", msg.Application)
	}
	if origin := msg.Origin(); origin != "" {
		b.WriteString(" ")
		b.WriteString(origin)
	}
	fmt.Fprintf(&b, " #%d: %s", msg.Thread, msg.Message)
	if msg.Attributes != "" {
		b.WriteString(" ")
		b.WriteString(msg.Attributes)
	}
	if msg.Exception != "" {
		fmt.Fprintf(&b, "\n  %s: %s", msg.ExceptionLevel, msg.Exception)
	}
	if msg.StackTrace != "" {
		b.WriteString("\n")
		b.WriteString(indent(msg.StackTrace, "    "))
	}
	return b.String(), nil
}

// JSONFormatter renders the message as one JSON object.
func JSONFormatter(msg *models.LogMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	return string(data), nil
}

// FormatterByName resolves "text" or "json".
func FormatterByName(name string) (Formatter, error) {
	switch strings.ToLower(name) {
	case "", "text":
		return TextFormatter, nil
	case "json":
		return JSONFormatter, nil
	default:
		return nil, invalidOptions("unknown console format %q", name)
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
