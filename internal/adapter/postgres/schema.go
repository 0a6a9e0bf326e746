package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. pgx.Tx and pgxpool.Pool satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema writes each entity kind to one deployment's tables.
type Schema interface {
	Name() string
	Table(kind domain.Kind) string
	Write(ctx context.Context, db Execer, kind domain.Kind, b domain.Batch) error
}

// SchemaOptions configures table adapters.
type SchemaOptions struct {
	// ChunkSize is the maximum number of rows per INSERT statement.
	ChunkSize int
	// SessionID, when non-zero, is written as session_id on hosted rows
	// instead of resolving it from the record's session key.
	SessionID int
	// LegacyBooleanRainfall writes rainfall as a boolean for direct
	// deployments whose weather.rainfall column predates the numeric type.
	LegacyBooleanRainfall bool
}

// Schema names accepted by NewSchema.
const (
	SchemaDirect = "direct"
	SchemaHosted = "hosted"
)

// NewSchema returns the adapter for a schema name.
func NewSchema(name string, opts SchemaOptions) (Schema, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	switch name {
	case SchemaDirect:
		return &directSchema{opts: opts}, nil
	case SchemaHosted:
		return &hostedSchema{opts: opts}, nil
	}
	return nil, fmt.Errorf("unknown store schema %q", name)
}

const defaultChunkSize = 1000

// column is one INSERT target. Expr wraps the placeholder, e.g.
// "(SELECT id FROM public.sessions WHERE key = %s)"; empty means the bare
// placeholder.
type column struct {
	Name string
	Expr string
}

func cols(names ...string) []column {
	out := make([]column, len(names))
	for i, n := range names {
		out[i] = column{Name: n}
	}
	return out
}

// insertSpec describes a multi-row INSERT. Suffix is appended verbatim
// (ON CONFLICT clauses).
type insertSpec struct {
	Table   string
	Columns []column
	Suffix  string
}

// buildInsert renders rows [start, end) as one statement.
func buildInsert(spec insertSpec, start, end int, row func(i int) []any) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(spec.Table)
	sb.WriteString(" (")
	for i, c := range spec.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.Name)
	}
	sb.WriteString(") VALUES ")

	args := make([]any, 0, (end-start)*len(spec.Columns))
	for i := start; i < end; i++ {
		values := row(i)
		if i > start {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, c := range spec.Columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			args = append(args, values[j])
			placeholder := "$" + strconv.Itoa(len(args))
			if c.Expr != "" {
				sb.WriteString(fmt.Sprintf(c.Expr, placeholder))
			} else {
				sb.WriteString(placeholder)
			}
		}
		sb.WriteByte(')')
	}
	if spec.Suffix != "" {
		sb.WriteByte(' ')
		sb.WriteString(spec.Suffix)
	}
	return sb.String(), args
}

// execChunked writes n rows in statements of at most chunk rows.
func execChunked(ctx context.Context, db Execer, spec insertSpec, n, chunk int, row func(i int) []any) error {
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		sql, args := buildInsert(spec, start, end, row)
		if _, err := db.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert into %s rows %d-%d: %w", spec.Table, start, end-1, err)
		}
	}
	return nil
}

// upsertSuffix renders ON CONFLICT (keys) DO UPDATE SET col = EXCLUDED.col
// for every non-key column, plus any extra assignments.
func upsertSuffix(keys []string, columns []column, extra ...string) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var sets []string
	for _, c := range columns {
		if !isKey[c.Name] {
			sets = append(sets, c.Name+" = EXCLUDED."+c.Name)
		}
	}
	sets = append(sets, extra...)
	return "ON CONFLICT (" + strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// coalesceSuffix is upsertSuffix where nullable columns keep the stored
// value when the incoming one is NULL. Columns in overwrite are replaced
// unconditionally.
func coalesceSuffix(table string, keys []string, columns []column, overwrite ...string) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	replace := make(map[string]bool, len(overwrite))
	for _, c := range overwrite {
		replace[c] = true
	}
	bare := table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		bare = table[i+1:]
	}
	var sets []string
	for _, c := range columns {
		switch {
		case isKey[c.Name]:
		case replace[c.Name]:
			sets = append(sets, c.Name+" = EXCLUDED."+c.Name)
		default:
			sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", c.Name, c.Name, bare, c.Name))
		}
	}
	return "ON CONFLICT (" + strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}
