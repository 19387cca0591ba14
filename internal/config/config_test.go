package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/dispatch"
	"logpipe/internal/models"
	"logpipe/internal/providers"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "logpipe", cfg.AppName)
	assert.Equal(t, "8080", cfg.Admin.HTTPPort)
	assert.Equal(t, 12*time.Hour, cfg.Admin.TokenTTL)
	assert.Equal(t, dispatch.DefaultConfig(), cfg.Dispatcher)
	assert.Equal(t, models.AllowAll(), cfg.Service.Filter)
	assert.Equal(t, DeadLetterMemory, cfg.DeadLetter.Backend)
	assert.Equal(t, time.Second, cfg.Retry.MinInterval)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Catalog.Path)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("LOGPIPE_APP_NAME", "billing")
	t.Setenv("LOGPIPE_QUEUE_CAPACITY", "50")
	t.Setenv("LOGPIPE_BATCH_TIMEOUT", "1s")
	t.Setenv("LOGPIPE_FAN_OUT", "concurrent")
	t.Setenv("LOGPIPE_SERVICE_CATEGORIES", "info,warning,error")
	t.Setenv("LOGPIPE_SERVICE_EXCLUDE", "warning")
	t.Setenv("LOGPIPE_DATABASE_URL", "postgres://localhost/logs")
	t.Setenv("LOGPIPE_DB_MAX_OPEN_CONNS", "3")
	t.Setenv("LOGPIPE_REDIS_ADDRESS", "localhost:6379")
	t.Setenv("LOGPIPE_DLQ_BACKEND", "Redis")
	t.Setenv("LOGPIPE_S3_PATH_STYLE", "true")
	t.Setenv("LOGPIPE_CATALOG", "/etc/logpipe/catalog.yaml")
	t.Setenv("LOGPIPE_CATALOG_WATCH", "1")
	t.Setenv("LOGPIPE_MAX_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.AppName)
	assert.Equal(t, 50, cfg.Dispatcher.QueueCapacity)
	assert.Equal(t, time.Second, cfg.Dispatcher.BatchTimeout)
	assert.Equal(t, dispatch.Concurrent, cfg.Dispatcher.FanOut)
	assert.Equal(t, dispatch.DefaultConfig().MaxConcurrency, cfg.Dispatcher.MaxConcurrency)
	assert.True(t, cfg.Service.Filter.Allows(models.Info))
	assert.False(t, cfg.Service.Filter.Allows(models.Warning))
	assert.False(t, cfg.Service.Filter.Allows(models.Debug))
	assert.Equal(t, "postgres://localhost/logs", cfg.Database.URL)
	assert.Equal(t, 3, cfg.Database.MaxOpenConns)
	assert.Equal(t, DeadLetterRedis, cfg.DeadLetter.Backend)
	assert.True(t, cfg.S3.UsePathStyle)
	assert.Equal(t, "/etc/logpipe/catalog.yaml", cfg.Catalog.Path)
	assert.True(t, cfg.Catalog.Watch)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"fan-out", map[string]string{"LOGPIPE_FAN_OUT": "broadcast"}},
		{"categories", map[string]string{"LOGPIPE_SERVICE_CATEGORIES": "loud"}},
		{"dlq backend", map[string]string{"LOGPIPE_DLQ_BACKEND": "kafka"}},
		{"redis dlq without redis", map[string]string{"LOGPIPE_DLQ_BACKEND": "redis"}},
		{"password without secret", map[string]string{"LOGPIPE_ADMIN_PASSWORD_HASH": "$argon2id$..."}},
		{"retry bounds", map[string]string{"LOGPIPE_RETRY_MIN_INTERVAL": "10s", "LOGPIPE_RETRY_MAX_INTERVAL": "1s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

const sampleCatalog = `
providers:
  - type: memory
    key: recent
    options:
      capacity: 200
  - type: console
    categories: Warning|Error|Fatal
    options: {format: json, color: never, stream: stderr}
  - type: s3
    key: archive
    enabled: false
    options:
      bucket: logs
      flush_interval: 30s
      compress: true
  - type: file
    exclude: trace,debug
    options:
      path: /var/log/logpipe/app-%s.jsonl
      max_size: 1048576
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, c.Providers, 4)

	enabled := c.Enabled()
	require.Len(t, enabled, 3)
	assert.Equal(t, providers.Descriptor{Type: "memory", Key: "recent"}, enabled[0].Descriptor())

	memory := DefaultMemorySpec()
	require.NoError(t, enabled[0].DecodeOptions(&memory))
	assert.Equal(t, 200, memory.Capacity)
	assert.Equal(t, 80, memory.FillFactor)

	console := c.Providers[1]
	assert.True(t, console.Filter().Allows(models.Error))
	assert.False(t, console.Filter().Allows(models.Info))
	var consoleSpec ConsoleSpec
	require.NoError(t, console.DecodeOptions(&consoleSpec))
	assert.Equal(t, ConsoleSpec{Format: "json", Color: "never", Stream: "stderr"}, consoleSpec)

	archive, ok := c.Find(providers.Descriptor{Type: "s3", Key: "archive"})
	require.True(t, ok)
	assert.False(t, archive.IsEnabled())
	var s3Spec S3Spec
	require.NoError(t, archive.DecodeOptions(&s3Spec))
	assert.Equal(t, 30*time.Second, s3Spec.FlushInterval)
	assert.True(t, s3Spec.Compress)

	file := c.Providers[3]
	assert.False(t, file.Filter().Allows(models.Debug))
	assert.True(t, file.Filter().Allows(models.Info))

	_, ok = c.Find(providers.Descriptor{Type: "s3"})
	assert.False(t, ok)
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown type", "providers:\n  - type: kafka\n"},
		{"duplicate", "providers:\n  - type: console\n  - type: console\n"},
		{"fill factor", "providers:\n  - type: memory\n    options: {fill_factor: 120}\n"},
		{"negative capacity", "providers:\n  - type: snapshot\n    options: {capacity: -1}\n"},
		{"unknown field", "providers:\n  - type: console\n    colour: red\n"},
		{"unknown category", "providers:\n  - type: console\n    categories: Loud\n"},
		{"console format", "providers:\n  - type: console\n    options: {format: xml}\n"},
		{"s3 bucket", "providers:\n  - type: s3\n"},
		{"file path", "providers:\n  - type: file\n"},
		{"column source", "providers:\n  - type: database\n    options:\n      columns: [{name: x, source: nope}]\n"},
		{"bad duration", "providers:\n  - type: s3\n    options: {bucket: b, flush_interval: soon}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestParseCatalog_Empty(t *testing.T) {
	c, err := ParseCatalog(nil)
	require.NoError(t, err)
	assert.Empty(t, c.Providers)
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	require.NoError(t, c.Validate())

	var descriptors []string
	for _, e := range c.Enabled() {
		descriptors = append(descriptors, e.Descriptor().String())
	}
	assert.Equal(t, []string{"memory/recent", "snapshot/ui", "console"}, descriptors)

	ui, ok := c.Find(providers.Descriptor{Type: "snapshot", Key: "ui"})
	require.True(t, ok)
	var spec SnapshotSpec
	require.NoError(t, ui.DecodeOptions(&spec))
	assert.True(t, spec.ClearOnGet)
	assert.Equal(t, 500, spec.Capacity)
	assert.False(t, ui.Filter().Allows(models.Info))
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.Providers, 4)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
