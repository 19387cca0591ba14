package providers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lib/pq"

	"logpipe/internal/models"
	"logpipe/internal/utils"
)

// Execer is the subset of *sqlx.DB used by the database provider.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

// Column maps one table column to a value taken from the message.
type Column struct {
	Name string

	// Value extracts the column value. A nil result is SQL NULL.
	Value func(msg *models.LogMessage) any

	Nullable bool

	// MaxLength limits string values, in runes. 0 means unlimited.
	MaxLength int
}

// DatabaseOptions configures a DatabaseProvider.
type DatabaseOptions struct {
	Filter models.CategoryFilter

	// Table may be schema-qualified ("logs.entries").
	Table   string
	Columns []Column

	// ThrowOnFailure makes validation failures and unexpected row counts
	// errors. Otherwise the message is skipped without error.
	ThrowOnFailure bool
}

// DatabaseProvider inserts one row per message.
type DatabaseProvider struct {
	base
	db             Execer
	columns        []Column
	query          string
	throwOnFailure bool
	logger         *utils.Logger
}

// NewDatabaseProvider builds the insert statement once and returns the provider.
func NewDatabaseProvider(db Execer, options DatabaseOptions) (*DatabaseProvider, error) {
	if db == nil {
		return nil, invalidOptions("database connection is required")
	}
	if strings.TrimSpace(options.Table) == "" {
		return nil, invalidOptions("table is required")
	}
	if len(options.Columns) == 0 {
		return nil, invalidOptions("at least one column is required")
	}

	names := make([]string, len(options.Columns))
	placeholders := make([]string, len(options.Columns))
	seen := make(map[string]bool, len(options.Columns))
	for i, col := range options.Columns {
		if col.Name == "" || col.Value == nil {
			return nil, invalidOptions("column %d needs a name and a value extractor", i)
		}
		if seen[col.Name] {
			return nil, invalidOptions("duplicate column %q", col.Name)
		}
		seen[col.Name] = true
		names[i] = pq.QuoteIdentifier(col.Name)
		placeholders[i] = "?"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteTable(options.Table),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
	)

	return &DatabaseProvider{
		base:           newBase(TypeDatabase, options.Filter),
		db:             db,
		columns:        options.Columns,
		query:          db.Rebind(query),
		throwOnFailure: options.ThrowOnFailure,
		logger:         utils.NewLogger("database-provider"),
	}, nil
}

// Query returns the prepared insert statement.
func (p *DatabaseProvider) Query() string {
	return p.query
}

// Accept validates and inserts msg.
func (p *DatabaseProvider) Accept(ctx context.Context, msg *models.LogMessage) error {
	args, verr := p.values(msg)
	if verr != nil {
		if p.throwOnFailure {
			return verr
		}
		p.logger.Debug("Skipping message that failed validation", "index", msg.Index, "error", verr)
		return nil
	}

	result, err := p.db.ExecContext(ctx, p.query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert log message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows != 1 {
		if p.throwOnFailure {
			return fmt.Errorf("%w: %d", ErrUnexpectedRowCount, rows)
		}
		p.logger.Debug("Insert affected an unexpected number of rows", "index", msg.Index, "rows", rows)
	}
	return nil
}

func (p *DatabaseProvider) values(msg *models.LogMessage) ([]any, *ValidationError) {
	args := make([]any, len(p.columns))
	for i, col := range p.columns {
		v := col.Value(msg)
		if v == nil {
			if !col.Nullable {
				return nil, &ValidationError{Column: col.Name, Reason: "value is required"}
			}
			args[i] = nil
			continue
		}
		if s, ok := v.(string); ok && col.MaxLength > 0 {
			if n := utf8.RuneCountInString(s); n > col.MaxLength {
				return nil, &ValidationError{
					Column: col.Name,
					Reason: fmt.Sprintf("length %d exceeds maximum %d", n, col.MaxLength),
				}
			}
		}
		args[i] = v
	}
	return args, nil
}

// quoteTable quotes each part of a possibly schema-qualified table name.
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(strings.TrimSpace(part))
	}
	return strings.Join(parts, ".")
}
