package providers

import (
	"fmt"
	"sort"

	"logpipe/internal/models"
)

// ColumnSpec names a registered extractor for a database column. It is the
// form columns take in the provider catalog.
type ColumnSpec struct {
	// Name is the table column.
	Name string `json:"name" yaml:"name"`

	// Source is the extractor name; it defaults to Name.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	Nullable  bool `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	MaxLength int  `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var columnExtractors = map[string]func(*models.LogMessage) any{
	"index":       func(m *models.LogMessage) any { return m.Index },
	"timestamp":   func(m *models.LogMessage) any { return m.Timestamp },
	"machine":     func(m *models.LogMessage) any { return m.Machine },
	"user":        func(m *models.LogMessage) any { return m.User },
	"application": func(m *models.LogMessage) any { return m.Application },
	"instance_id": func(m *models.LogMessage) any { return m.InstanceID },
	"version":     func(m *models.LogMessage) any { return m.Version },
	"class":       func(m *models.LogMessage) any { return nullIfEmpty(m.Class) },
	"method":      func(m *models.LogMessage) any { return nullIfEmpty(m.Method) },
	"thread":      func(m *models.LogMessage) any { return m.Thread },
	"category":    func(m *models.LogMessage) any { return m.Category.String() },
	"message":     func(m *models.LogMessage) any { return m.Message },
	"attributes":  func(m *models.LogMessage) any { return nullIfEmpty(m.Attributes) },
	"exception_level": func(m *models.LogMessage) any {
		if m.ExceptionLevel == models.None {
			return nil
		}
		return m.ExceptionLevel.String()
	},
	"exception":   func(m *models.LogMessage) any { return nullIfEmpty(m.Exception) },
	"stack_trace": func(m *models.LogMessage) any { return nullIfEmpty(m.StackTrace) },
}

// ColumnSources returns the registered extractor names, sorted.
func ColumnSources() []string {
	names := make([]string, 0, len(columnExtractors))
	for name := range columnExtractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildColumns resolves catalog column specs against the extractor table.
func BuildColumns(specs []ColumnSpec) ([]Column, error) {
	columns := make([]Column, 0, len(specs))
	for _, spec := range specs {
		source := spec.Source
		if source == "" {
			source = spec.Name
		}
		extract, ok := columnExtractors[source]
		if !ok {
			return nil, invalidOptions("unknown column source %q", source)
		}
		columns = append(columns, Column{
			Name:      spec.Name,
			Value:     extract,
			Nullable:  spec.Nullable,
			MaxLength: spec.MaxLength,
		})
	}
	return columns, nil
}

// DefaultColumnSpecs matches the log_messages table created by
// storage.CreateLogTableSQL.
func DefaultColumnSpecs() []ColumnSpec {
	return []ColumnSpec{
		{Name: "index"},
		{Name: "timestamp"},
		{Name: "machine", MaxLength: 255},
		{Name: "user", MaxLength: 255},
		{Name: "application", MaxLength: 255},
		{Name: "instance_id", MaxLength: 64},
		{Name: "version", MaxLength: 64},
		{Name: "class", Nullable: true, MaxLength: 255},
		{Name: "method", Nullable: true, MaxLength: 255},
		{Name: "thread"},
		{Name: "category", MaxLength: 128},
		{Name: "message"},
		{Name: "attributes", Nullable: true},
		{Name: "exception_level", Nullable: true, MaxLength: 128},
		{Name: "exception", Nullable: true},
		{Name: "stack_trace", Nullable: true},
	}
}

// DefaultColumns is BuildColumns(DefaultColumnSpecs()).
func DefaultColumns() []Column {
	columns, err := BuildColumns(DefaultColumnSpecs())
	if err != nil {
		panic(fmt.Sprintf("default columns: %v", err))
	}
	return columns
}
