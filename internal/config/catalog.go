package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"logpipe/internal/models"
	"logpipe/internal/providers"
)

// ErrInvalidCatalog is wrapped by every catalog validation failure.
var ErrInvalidCatalog = errors.New("invalid provider catalog")

// Catalog lists the providers the pipeline may run. Entries with
// enabled: false stay available for the admin API to enable later.
//
//	providers:
//	  - type: memory
//	    key: recent
//	    options: {capacity: 1000, fill_factor: 80}
//	  - type: console
//	    categories: Warning|Error|Fatal
//	    options: {format: text, color: auto}
type Catalog struct {
	Providers []ProviderEntry `yaml:"providers" json:"providers"`
}

// ProviderEntry is one catalog line.
type ProviderEntry struct {
	Type string `yaml:"type" json:"type"`
	Key  string `yaml:"key,omitempty" json:"key,omitempty"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Categories is the enabled mask; empty means every category.
	Categories models.Category `yaml:"categories,omitempty" json:"categories,omitempty"`
	// Exclude is the disabled mask. It wins over Categories.
	Exclude models.Category `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	// Options holds the type-specific settings, decoded by DecodeOptions.
	Options yaml.Node `yaml:"options,omitempty" json:"-"`
}

// Descriptor returns the registry descriptor of the entry.
func (e ProviderEntry) Descriptor() providers.Descriptor {
	return providers.Descriptor{Type: e.Type, Key: e.Key}
}

// IsEnabled reports whether the entry is applied at startup.
func (e ProviderEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Filter returns the entry's category filter.
func (e ProviderEntry) Filter() models.CategoryFilter {
	return models.NewCategoryFilter(e.Categories, e.Exclude).OrDefault()
}

// DecodeOptions decodes the options block into out. A missing block leaves
// out unchanged.
func (e ProviderEntry) DecodeOptions(out any) error {
	if e.Options.Kind == 0 {
		return nil
	}
	if err := e.Options.Decode(out); err != nil {
		return fmt.Errorf("%s options: %w", e.Descriptor(), err)
	}
	return nil
}

// Per-type option blocks.

type MemorySpec struct {
	providers.RetentionOptions `yaml:",inline"`
}

type SnapshotSpec struct {
	providers.RetentionOptions `yaml:",inline"`
	ClearOnGet                 bool `yaml:"clear_on_get"`
}

type ConsoleSpec struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// Color is "auto", "always" or "never".
	Color string `yaml:"color"`
	// Stream is "stdout" or "stderr".
	Stream string `yaml:"stream"`
}

type DatabaseSpec struct {
	Table          string                 `yaml:"table"`
	Columns        []providers.ColumnSpec `yaml:"columns"`
	ThrowOnFailure bool                   `yaml:"throw_on_failure"`

	// CreateTable creates the default log table when it is missing.
	CreateTable bool `yaml:"create_table"`
}

type RedisSpec struct {
	ListKey  string `yaml:"list_key"`
	Capacity int64  `yaml:"capacity"`
}

type S3Spec struct {
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	FlushSize     int           `yaml:"flush_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compress      bool          `yaml:"compress"`
}

type FileSpec struct {
	// Path is a template with one %s for the rotation timestamp.
	Path          string        `yaml:"path"`
	MaxSize       int64         `yaml:"max_size"`
	MaxFiles      int           `yaml:"max_files"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultMemorySpec keeps 1000 messages and evicts down to 80%.
func DefaultMemorySpec() MemorySpec {
	return MemorySpec{providers.RetentionOptions{Capacity: 1000, FillFactor: 80}}
}

// DefaultSnapshotSpec keeps 500 messages and clears them when read.
func DefaultSnapshotSpec() SnapshotSpec {
	return SnapshotSpec{
		RetentionOptions: providers.RetentionOptions{Capacity: 500, FillFactor: 80},
		ClearOnGet:       true,
	}
}

// LoadCatalog reads and validates a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultCatalog runs a memory ring, a clear-on-get snapshot store for
// warnings and errors, and the console.
func DefaultCatalog() *Catalog {
	c := &Catalog{}
	c.mustAdd(ProviderEntry{Type: providers.TypeMemory, Key: "recent"}, DefaultMemorySpec())
	c.mustAdd(ProviderEntry{
		Type:       providers.TypeSnapshot,
		Key:        "ui",
		Categories: models.Warning | models.Error | models.Fatal,
	}, DefaultSnapshotSpec())
	c.mustAdd(ProviderEntry{
		Type:    providers.TypeConsole,
		Exclude: models.Trace | models.Debug,
	}, ConsoleSpec{Format: "text", Color: "auto", Stream: "stdout"})
	return c
}

func (c *Catalog) mustAdd(e ProviderEntry, options any) {
	if err := e.Options.Encode(options); err != nil {
		panic(err)
	}
	c.Providers = append(c.Providers, e)
}

// Find returns the entry for d.
func (c *Catalog) Find(d providers.Descriptor) (ProviderEntry, bool) {
	for _, e := range c.Providers {
		if e.Descriptor() == d {
			return e, true
		}
	}
	return ProviderEntry{}, false
}

// Enabled returns the entries applied at startup, in catalog order.
func (c *Catalog) Enabled() []ProviderEntry {
	var out []ProviderEntry
	for _, e := range c.Providers {
		if e.IsEnabled() {
			out = append(out, e)
		}
	}
	return out
}

// Validate rejects unknown types, duplicate descriptors and option blocks
// that do not decode or hold invalid retention settings.
func (c *Catalog) Validate() error {
	known := make(map[string]bool)
	for _, t := range providers.Types() {
		known[t] = true
	}

	seen := make(map[providers.Descriptor]bool)
	for i, e := range c.Providers {
		if !known[e.Type] {
			return fmt.Errorf("%w: entry %d: unknown provider type %q", ErrInvalidCatalog, i, e.Type)
		}
		d := e.Descriptor()
		if seen[d] {
			return fmt.Errorf("%w: duplicate provider %s", ErrInvalidCatalog, d)
		}
		seen[d] = true

		if err := validateOptions(e); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
	}
	return nil
}

func validateOptions(e ProviderEntry) error {
	switch e.Type {
	case providers.TypeMemory:
		spec := DefaultMemorySpec()
		if err := e.DecodeOptions(&spec); err != nil {
			return err
		}
		return wrapDescriptor(e, spec.Validate())
	case providers.TypeSnapshot:
		spec := DefaultSnapshotSpec()
		if err := e.DecodeOptions(&spec); err != nil {
			return err
		}
		return wrapDescriptor(e, spec.Validate())
	case providers.TypeConsole:
		var spec ConsoleSpec
		if err := e.DecodeOptions(&spec); err != nil {
			return err
		}
		if _, err := providers.FormatterByName(spec.Format); err != nil {
			return wrapDescriptor(e, err)
		}
		switch spec.Stream {
		case "", "stdout", "stderr":
		default:
			return fmt.Errorf("%s: unknown stream %q", e.Descriptor(), spec.Stream)
		}
	case providers.TypeDatabase:
		var spec DatabaseSpec
		if err := e.DecodeOptions(&spec); err != nil {
			return err
		}
		if len(spec.Columns) > 0 {
			if _, err := providers.BuildColumns(spec.Columns); err != nil {
				return wrapDescriptor(e, err)
			}
		}
	case providers.TypeRedis:
		var spec RedisSpec
		if err := e.DecodeOptions(&spec); err != nil {
			return err
		}
		if spec.Capacity < 0 {
			return fmt.Errorf("%s: capacity must not be negative", e.Descriptor())
		}
	case providers.TypeS3:
		var spec S3Spec
		if err := e.DecodeOptions(&spec); err != nil {
			return err
		}
		if spec.Bucket == "" {
			return fmt.Errorf("%s: bucket is required", e.Descriptor())
		}
	case providers.TypeFile:
		var spec FileSpec
		if err := e.DecodeOptions(&spec); err != nil {
			return err
		}
		if spec.Path == "" {
			return fmt.Errorf("%s: path is required", e.Descriptor())
		}
	}
	return nil
}

func wrapDescriptor(e ProviderEntry, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", e.Descriptor(), err)
}
