package app

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/config"
	"logpipe/internal/dispatch"
	"logpipe/internal/host"
	"logpipe/internal/models"
	"logpipe/internal/providers"
	"logpipe/internal/storage"
)

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeDB struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && strings.HasPrefix(query, "INSERT") {
		return nil, f.err
	}
	f.queries = append(f.queries, query)
	return fakeResult{}, nil
}

func (f *fakeDB) Rebind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

func (f *fakeDB) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDB) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeDB) inserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.queries {
		if strings.HasPrefix(q, "INSERT") {
			n++
		}
	}
	return n
}

type fakeObjects struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeObjects) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, *params.Key)
	return &s3.PutObjectOutput{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AppName: "test",
		Version: "0.0.1",
		PodName: "pod-0",
		Dispatcher: dispatch.Config{
			BatchTimeout:  10 * time.Millisecond,
			ShutdownGrace: 2 * time.Second,
		},
		DeadLetter: config.DeadLetterConfig{Backend: config.DeadLetterMemory, Capacity: 100, Name: "test"},
		Retry:      config.RetryConfig{MinInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	}
}

func parseCatalog(t *testing.T, text string) *config.Catalog {
	t.Helper()
	c, err := config.ParseCatalog([]byte(text))
	require.NoError(t, err)
	return c
}

func newTestPipeline(t *testing.T, catalog string, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithCatalog(parseCatalog(t, catalog))}, opts...)
	p, err := New(context.Background(), testConfig(), opts...)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Close() })
	return p
}

func view(t *testing.T, p *Pipeline, d providers.Descriptor) []*models.LogMessage {
	t.Helper()
	msgs, err := p.View(context.Background(), d, 0)
	require.NoError(t, err)
	return msgs
}

var (
	recent = providers.Descriptor{Type: "memory", Key: "recent"}
	ui     = providers.Descriptor{Type: "snapshot", Key: "ui"}
)

const memoryAndSnapshot = `
providers:
  - type: memory
    key: recent
  - type: snapshot
    key: ui
    categories: Warning|Error|Fatal
    options: {capacity: 10, fill_factor: 50, clear_on_get: true}
`

func TestPipeline_DeliversServiceMessages(t *testing.T) {
	p := newTestPipeline(t, memoryAndSnapshot)
	svc := p.Service()

	svc.Info("hello")
	svc.Warning("disk almost full", "free", "2%")
	svc.Trace("noise")

	// The pipeline's own StartStop message comes first.
	require.Eventually(t, func() bool {
		msgs, err := p.View(context.Background(), recent, 0)
		return err == nil && len(msgs) == 4
	}, 2*time.Second, 10*time.Millisecond)

	msgs := view(t, p, recent)
	assert.Equal(t, "Pipeline started", msgs[0].Message)
	assert.Equal(t, "hello", msgs[1].Message)
	assert.Equal(t, "test", msgs[1].Application)

	warnings := view(t, p, ui)
	require.Len(t, warnings, 1)
	assert.Equal(t, "disk almost full", warnings[0].Message)
	assert.Equal(t, "free=2%", warnings[0].Attributes)

	assert.Empty(t, view(t, p, ui), "snapshot is cleared when read")
	assert.Len(t, view(t, p, recent), 4, "memory view is not consumed")
}

func TestPipeline_Providers(t *testing.T) {
	p := newTestPipeline(t, memoryAndSnapshot)

	statuses := p.Providers()
	require.Len(t, statuses, 2)
	assert.Equal(t, recent, statuses[0].Descriptor)
	assert.True(t, statuses[0].Viewable)
	assert.Equal(t, models.AllowAll(), statuses[0].Filter)
	assert.False(t, statuses[1].Filter.Allows(models.Info))
}

func TestPipeline_ApplyReconciles(t *testing.T) {
	p := newTestPipeline(t, memoryAndSnapshot)
	before, ok := p.Registry().Lookup(recent)
	require.True(t, ok)

	// Unchanged entries keep their provider.
	require.NoError(t, p.Apply(context.Background(), parseCatalog(t, memoryAndSnapshot)))
	same, _ := p.Registry().Lookup(recent)
	assert.Same(t, before, same)

	dir := t.TempDir()
	require.NoError(t, p.Apply(context.Background(), parseCatalog(t, `
providers:
  - type: memory
    key: recent
    options: {capacity: 5}
  - type: file
    options:
      path: `+filepath.Join(dir, "app-%s.jsonl")+`
`)))

	var got []string
	for _, d := range p.Registry().Describe() {
		got = append(got, d.String())
	}
	assert.Equal(t, []string{"memory/recent", "file"}, got)

	after, _ := p.Registry().Lookup(recent)
	assert.NotSame(t, before, after)
}

func TestPipeline_EnableDisable(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline(t, `
providers:
  - type: memory
    key: recent
  - type: file
    key: audit
    enabled: false
    options:
      path: `+filepath.Join(dir, "audit-%s.jsonl")+`
`)
	ctx := context.Background()
	audit := providers.Descriptor{Type: "file", Key: "audit"}

	_, ok := p.Registry().Lookup(audit)
	assert.False(t, ok)

	require.NoError(t, p.Enable(ctx, audit))
	_, ok = p.Registry().Lookup(audit)
	assert.True(t, ok)

	assert.ErrorIs(t, p.Enable(ctx, audit), ErrAlreadyEnabled)
	assert.ErrorIs(t, p.Enable(ctx, providers.Descriptor{Type: "s3"}), ErrUnknownProvider)

	_, err := p.View(ctx, audit, 10)
	assert.ErrorIs(t, err, ErrNotViewable)

	require.NoError(t, p.Disable(ctx, audit))
	assert.ErrorIs(t, p.Disable(ctx, audit), ErrNotEnabled)

	_, err = p.View(ctx, audit, 10)
	assert.ErrorIs(t, err, ErrNotEnabled)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestPipeline_MissingBackendDoesNotBlockOthers(t *testing.T) {
	p, err := New(context.Background(), testConfig(), WithCatalog(parseCatalog(t, `
providers:
  - type: database
  - type: memory
    key: recent
`)))
	require.NoError(t, err)
	defer p.Close()

	err = p.Apply(context.Background(), p.Catalog())
	assert.ErrorIs(t, err, storage.ErrNotConfigured)

	_, ok := p.Registry().Lookup(recent)
	assert.True(t, ok)
}

func TestPipeline_DatabaseProvider(t *testing.T) {
	db := &fakeDB{}
	p := newTestPipeline(t, `
providers:
  - type: database
    options: {create_table: true, throw_on_failure: true}
`, WithDatabase(db))

	statements := db.statements()
	require.NotEmpty(t, statements)
	assert.True(t, strings.HasPrefix(statements[0], `CREATE TABLE IF NOT EXISTS "log_messages"`))

	p.Service().Info("stored")
	require.Eventually(t, func() bool { return db.inserts() == 2 }, 2*time.Second, 10*time.Millisecond)

	db.setErr(errors.New("connection reset"))
	p.Service().Error(errors.New("boom"), "lost")

	require.Eventually(t, func() bool {
		items, err := p.Failures(context.Background(), 0)
		return err == nil && len(items) == 1
	}, 2*time.Second, 10*time.Millisecond)

	failures, err := p.Failures(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "database", failures[0].Provider)
	assert.Equal(t, "lost", failures[0].Message.Message)

	db.setErr(nil)
	require.NoError(t, p.Redeliver(context.Background(), failures[0].ID))
	assert.Equal(t, 3, db.inserts())
}

func TestPipeline_RedisProviderAndDeadLetterQueue(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := testConfig()
	cfg.DeadLetter.Backend = config.DeadLetterRedis
	p, err := New(context.Background(), cfg,
		WithRedisClient(client),
		WithCatalog(parseCatalog(t, `
providers:
  - type: redis
    key: tail
    options: {capacity: 3}
`)))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 5; i++ {
		p.Service().Info("message")
	}
	require.NoError(t, p.Stop(context.Background()))

	n, err := client.LLen(context.Background(), "logpipe:tail").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// The injected client stays open.
	assert.NoError(t, client.Ping(context.Background()).Err())
	assert.NoError(t, p.Health(context.Background()))
}

func TestPipeline_S3Provider(t *testing.T) {
	objects := &fakeObjects{}
	p, err := New(context.Background(), testConfig(),
		WithObjectStore(objects),
		WithCatalog(parseCatalog(t, `
providers:
  - type: s3
    options: {bucket: logs, prefix: app/}
`)))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	p.Service().Info("archived")
	require.NoError(t, p.Stop(context.Background()))

	require.Len(t, objects.keys, 1)
	assert.True(t, strings.HasPrefix(objects.keys[0], "app/"))
	assert.Contains(t, objects.keys[0], "pod-0-")
}

func TestPipeline_WatchCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  - type: memory\n    key: recent\n"), 0o644))

	cfg := testConfig()
	cfg.Catalog = config.CatalogConfig{Path: path, Watch: true}
	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	assert.Equal(t, 1, p.Registry().Len())

	// An invalid catalog is ignored.
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  - type: kafka\n"), 0o644))
	time.Sleep(3 * catalogDebounce)
	assert.Equal(t, 1, p.Registry().Len())

	require.NoError(t, os.WriteFile(path, []byte(memoryAndSnapshot), 0o644))
	assert.Eventually(t, func() bool {
		_, ok := p.Registry().Lookup(ui)
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPipeline_Reload(t *testing.T) {
	p := newTestPipeline(t, memoryAndSnapshot)
	assert.Error(t, p.Reload(context.Background()))
}

func TestPipeline_HostUnit(t *testing.T) {
	p, err := New(context.Background(), testConfig(), WithCatalog(parseCatalog(t, memoryAndSnapshot)))
	require.NoError(t, err)

	h := host.New(p)
	require.NoError(t, h.Start(context.Background()))
	p.Service().Info("via host")
	require.NoError(t, h.Stop(context.Background()))

	stats := p.Stats()
	assert.False(t, stats.Running)
	assert.Positive(t, stats.Delivered)
}
