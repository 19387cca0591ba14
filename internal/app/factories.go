package app

import (
	"context"
	"fmt"

	"logpipe/internal/config"
	"logpipe/internal/providers"
	"logpipe/internal/storage"
)

// BuildFunc creates the provider described by a catalog entry. It runs with
// the pipeline lock held and may use the pipeline's shared clients.
type BuildFunc func(ctx context.Context, p *Pipeline, e config.ProviderEntry) (providers.Provider, error)

func defaultFactories() map[string]BuildFunc {
	return map[string]BuildFunc{
		providers.TypeMemory:   buildMemory,
		providers.TypeSnapshot: buildSnapshot,
		providers.TypeConsole:  buildConsole,
		providers.TypeDatabase: buildDatabase,
		providers.TypeRedis:    buildRedis,
		providers.TypeS3:       buildS3,
		providers.TypeFile:     buildFile,
	}
}

func buildMemory(ctx context.Context, p *Pipeline, e config.ProviderEntry) (providers.Provider, error) {
	spec := config.DefaultMemorySpec()
	if err := e.DecodeOptions(&spec); err != nil {
		return nil, err
	}
	return providers.NewMemoryProvider(providers.MemoryOptions{
		Filter:    e.Filter(),
		Retention: spec.RetentionOptions,
	})
}

func buildSnapshot(ctx context.Context, p *Pipeline, e config.ProviderEntry) (providers.Provider, error) {
	spec := config.DefaultSnapshotSpec()
	if err := e.DecodeOptions(&spec); err != nil {
		return nil, err
	}
	return providers.NewSnapshotProvider(providers.SnapshotOptions{
		Filter:     e.Filter(),
		Retention:  spec.RetentionOptions,
		ClearOnGet: spec.ClearOnGet,
	})
}

func buildConsole(ctx context.Context, p *Pipeline, e config.ProviderEntry) (providers.Provider, error) {
	var spec config.ConsoleSpec
	if err := e.DecodeOptions(&spec); err != nil {
		return nil, err
	}
	formatter, err := providers.FormatterByName(spec.Format)
	if err != nil {
		return nil, err
	}
	return providers.NewConsoleProvider(providers.ConsoleOptions{
		Filter:    e.Filter(),
		Formatter: formatter,
		Output:    consoleOutput(spec.Stream),
		Color:     providers.ColorMode(spec.Color),
	})
}

func buildDatabase(ctx context.Context, p *Pipeline, e config.ProviderEntry) (providers.Provider, error) {
	var spec config.DatabaseSpec
	if err := e.DecodeOptions(&spec); err != nil {
		return nil, err
	}
	if spec.Table == "" {
		spec.Table = storage.DefaultLogTable
	}

	columns := providers.DefaultColumns()
	if len(spec.Columns) > 0 {
		var err error
		if columns, err = providers.BuildColumns(spec.Columns); err != nil {
			return nil, err
		}
	}

	db, err := p.database(ctx)
	if err != nil {
		return nil, err
	}

	if spec.CreateTable {
		if _, err := db.ExecContext(ctx, storage.CreateLogTableSQL(spec.Table)); err != nil {
			return nil, fmt.Errorf("failed to create log table %s: %w", spec.Table, err)
		}
	}

	return providers.NewDatabaseProvider(db, providers.DatabaseOptions{
		Filter:         e.Filter(),
		Table:          spec.Table,
		Columns:        columns,
		ThrowOnFailure: spec.ThrowOnFailure,
	})
}

func buildRedis(ctx context.Context, p *Pipeline, e config.ProviderEntry) (providers.Provider, error) {
	var spec config.RedisSpec
	if err := e.DecodeOptions(&spec); err != nil {
		return nil, err
	}
	if spec.ListKey == "" {
		spec.ListKey = "logpipe:logs"
		if e.Key != "" {
			spec.ListKey = "logpipe:" + e.Key
		}
	}

	client, err := p.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	return providers.NewRedisProvider(client, providers.RedisOptions{
		Filter:   e.Filter(),
		ListKey:  spec.ListKey,
		Capacity: spec.Capacity,
	})
}

func buildS3(ctx context.Context, p *Pipeline, e config.ProviderEntry) (providers.Provider, error) {
	var spec config.S3Spec
	if err := e.DecodeOptions(&spec); err != nil {
		return nil, err
	}

	client, err := p.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	return providers.NewS3Provider(client, providers.S3Options{
		Filter:        e.Filter(),
		Bucket:        spec.Bucket,
		Prefix:        spec.Prefix,
		PodName:       p.cfg.PodName,
		FlushSize:     spec.FlushSize,
		FlushInterval: spec.FlushInterval,
		Compress:      spec.Compress,
	})
}

func buildFile(ctx context.Context, p *Pipeline, e config.ProviderEntry) (providers.Provider, error) {
	var spec config.FileSpec
	if err := e.DecodeOptions(&spec); err != nil {
		return nil, err
	}
	return providers.NewFileProvider(providers.FileOptions{
		Filter:        e.Filter(),
		FileTemplate:  spec.Path,
		MaxSize:       spec.MaxSize,
		MaxFiles:      spec.MaxFiles,
		FlushInterval: spec.FlushInterval,
	})
}
