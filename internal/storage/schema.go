package storage

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// DefaultLogTable is the table written by the database provider unless the
// catalog names another one.
const DefaultLogTable = "log_messages"

// CreateLogTableSQL returns the DDL for a log table holding the default
// database provider columns. table may be schema-qualified.
func CreateLogTableSQL(table string) string {
	parts := strings.Split(table, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(strings.TrimSpace(part))
	}
	name := strings.Join(parts, ".")

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    "index"           BIGINT       NOT NULL,
    "timestamp"       TIMESTAMPTZ  NOT NULL,
    "machine"         VARCHAR(255) NOT NULL,
    "user"            VARCHAR(255) NOT NULL,
    "application"     VARCHAR(255) NOT NULL,
    "instance_id"     VARCHAR(64)  NOT NULL,
    "version"         VARCHAR(64)  NOT NULL,
    "class"           VARCHAR(255),
    "method"          VARCHAR(255),
    "thread"          BIGINT       NOT NULL,
    "category"        VARCHAR(128) NOT NULL,
    "message"         TEXT         NOT NULL,
    "attributes"      TEXT,
    "exception_level" VARCHAR(128),
    "exception"       TEXT,
    "stack_trace"     TEXT,
    PRIMARY KEY ("instance_id", "index")
)`, name)
}
