package models

import (
	"fmt"
	"strings"
)

// Category classifies a log message by severity or purpose. Values are bit
// flags so that filters can enable or disable several categories at once.
type Category uint32

const (
	None      Category = 0
	Trace     Category = 1 << 0
	Debug     Category = 1 << 1
	Info      Category = 1 << 2
	StartStop Category = 1 << 3
	Warning   Category = 1 << 4
	Error     Category = 1 << 5
	Fatal     Category = 1 << 6

	// AllCategories is the union of every known category.
	AllCategories = Trace | Debug | Info | StartStop | Warning | Error | Fatal
)

// orderedCategories lists single categories from least to most severe.
var orderedCategories = []Category{Trace, Debug, Info, StartStop, Warning, Error, Fatal}

var categoryNames = map[Category]string{
	Trace:     "Trace",
	Debug:     "Debug",
	Info:      "Info",
	StartStop: "StartStop",
	Warning:   "Warning",
	Error:     "Error",
	Fatal:     "Fatal",
}

// Categories returns the single categories in severity order.
func Categories() []Category {
	out := make([]Category, len(orderedCategories))
	copy(out, orderedCategories)
	return out
}

// Has reports whether any bit of other is set in c.
func (c Category) Has(other Category) bool {
	return c&other != 0
}

// Known strips bits that do not belong to a defined category.
func (c Category) Known() Category {
	return c & AllCategories
}

// String returns the "|"-joined names of the categories set in c.
func (c Category) String() string {
	if c == None {
		return "None"
	}
	var names []string
	for _, single := range orderedCategories {
		if c&single != 0 {
			names = append(names, categoryNames[single])
		}
	}
	if unknown := c &^ AllCategories; unknown != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(unknown)))
	}
	return strings.Join(names, "|")
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category produced by MarshalText or ParseCategory input.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory parses names separated by "|" or ",". Matching is case
// insensitive; "all" and "none" are accepted, as is the legacy "warn" alias.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return None, nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' })
	return ParseCategories(fields)
}

// ParseCategories parses a list of category names into a single mask.
func ParseCategories(names []string) (Category, error) {
	var out Category
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
			continue
		case "none":
		case "all", "*":
			out |= AllCategories
		case "trace":
			out |= Trace
		case "debug":
			out |= Debug
		case "info":
			out |= Info
		case "startstop", "start_stop", "start-stop":
			out |= StartStop
		case "warning", "warn":
			out |= Warning
		case "error":
			out |= Error
		case "fatal":
			out |= Fatal
		default:
			return None, fmt.Errorf("unknown category %q", raw)
		}
	}
	return out, nil
}

// AtLeast returns the categories at or above min in severity order. StartStop
// sits between Info and Warning.
func AtLeast(min Category) Category {
	var out Category
	found := false
	for _, single := range orderedCategories {
		if single == min {
			found = true
		}
		if found {
			out |= single
		}
	}
	return out
}

// CategoryFilter decides which categories a sink (or the service) accepts.
//
// A category passes when it shares a bit with Enabled and none with Disabled:
// Disabled always wins when both masks contain the same bit.
type CategoryFilter struct {
	Enabled  Category `json:"enabled" yaml:"enabled"`
	Disabled Category `json:"disabled" yaml:"disabled"`
}

// AllowAll returns a filter that accepts every category.
func AllowAll() CategoryFilter {
	return CategoryFilter{Enabled: AllCategories}
}

// NewCategoryFilter builds a filter from explicit masks.
func NewCategoryFilter(enabled, disabled Category) CategoryFilter {
	return CategoryFilter{Enabled: enabled, Disabled: disabled}
}

// Allows reports whether a message of category c passes the filter.
func (f CategoryFilter) Allows(c Category) bool {
	return c&f.Enabled != 0 && c&f.Disabled == 0
}

// OrDefault replaces an empty Enabled mask with AllCategories, keeping Disabled.
func (f CategoryFilter) OrDefault() CategoryFilter {
	if f.Enabled == None {
		f.Enabled = AllCategories
	}
	return f
}

// Effective returns the set of categories the filter lets through.
func (f CategoryFilter) Effective() Category {
	return f.Enabled.Known() &^ f.Disabled
}

func (f CategoryFilter) String() string {
	return fmt.Sprintf("enabled=%s disabled=%s", f.Enabled, f.Disabled)
}
