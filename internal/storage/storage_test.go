package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"bad connection", driver.ErrBadConn, true},
		{"wrapped bad connection", fmt.Errorf("insert: %w", driver.ErrBadConn), true},
		{"deadline", context.DeadlineExceeded, true},
		{"connection failure class", &pq.Error{Code: "08006"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"cannot connect now", &pq.Error{Code: "57P03"}, true},
		{"invalid password", &pq.Error{Code: "28P01"}, false},
		{"unknown database", &pq.Error{Code: "3D000"}, false},
		{"syntax error", &pq.Error{Code: "42601"}, false},
		{"dial error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestDBConfig_DSN(t *testing.T) {
	cfg := DefaultDBConfig()
	cfg.Password = "it's"

	assert.Equal(t,
		`host=localhost port=5432 dbname=logpipe user=postgres sslmode=disable password='it\'s'`,
		cfg.DSN())
	assert.NotContains(t, cfg.Redacted(), "it's")

	cfg.URL = "postgres://app:secret@db:5432/logs?sslmode=require"
	assert.Equal(t, cfg.URL, cfg.DSN())
	assert.NotContains(t, cfg.Redacted(), "secret")
	assert.Contains(t, cfg.Redacted(), "db:5432")
}

func TestCreateLogTableSQL(t *testing.T) {
	ddl := CreateLogTableSQL("audit.log_messages")
	assert.True(t, strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "audit"."log_messages" (`))
	assert.Contains(t, ddl, `"stack_trace"     TEXT`)
	assert.Contains(t, ddl, `PRIMARY KEY ("instance_id", "index")`)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewRedisClient_Errors(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestNewS3Client(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3Config{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	require.NoError(t, err)

	opts := client.Options()
	assert.Equal(t, "us-east-1", opts.Region)
	assert.True(t, opts.UsePathStyle)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://localhost:9000", *opts.BaseEndpoint)
}
