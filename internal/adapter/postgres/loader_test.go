package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs       []execCall
	failOn      map[string]error
	beginErr    error
	commits     int
	rollbacks   int
	spCommits   int
	spRollbacks int
}

func (db *fakeDB) Begin(_ context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return &fakeTx{db: db}, nil
}

// fakeTx implements the pgx.Tx methods the loader uses; the embedded
// interface panics if anything else is called.
type fakeTx struct {
	pgx.Tx
	db     *fakeDB
	nested bool
	closed bool
}

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) {
	return &fakeTx{db: t.db, nested: true}, nil
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.db.execs = append(t.db.execs, execCall{sql: sql, args: args})
	for substr, err := range t.db.failOn {
		if strings.Contains(sql, substr) {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	if t.nested {
		t.db.spCommits++
	} else {
		t.db.commits++
	}
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	if t.nested {
		t.db.spRollbacks++
	} else {
		t.db.rollbacks++
	}
	return nil
}

// --- helpers ---

var ts0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func sampleBatch() domain.Batch {
	return domain.Batch{
		Sessions: []domain.Session{{SessionKey: 9165, Name: ptr("Race")}},
		Drivers:  []domain.Driver{{DriverNumber: 44, Name: ptr("Lewis HAMILTON"), SessionKey: ptr(9165)}},
		Laps: []domain.LapData{{DriverNumber: 44, LapNumber: 12, LapTime: ptr(91.234),
			Timestamp: ts0, SessionKey: ptr(9165)}},
		Positions: []domain.Position{{DriverNumber: 44, Position: 3, Timestamp: ts0}},
		Telemetry: []domain.Telemetry{
			{DriverNumber: 44, Timestamp: ts0, Source: domain.SourceCarData, RPM: ptr(11000), Speed: ptr(310)},
			{DriverNumber: 44, Timestamp: ts0, Source: domain.SourcePosition, X: ptr(1.0), Y: ptr(2.0), Z: ptr(0.0)},
		},
		RaceControl: []domain.RaceControl{{Timestamp: ts0, Message: "GREEN FLAG"}},
		Weather:     []domain.Weather{{Timestamp: ts0, AirTemp: ptr(23.5), Rainfall: ptr(1.0)}},
	}
}

func mustSchema(t *testing.T, name string, opts SchemaOptions) Schema {
	t.Helper()
	s, err := NewSchema(name, opts)
	require.NoError(t, err)
	return s
}

func tablesWritten(db *fakeDB) []string {
	var out []string
	for _, e := range db.execs {
		fields := strings.Fields(e.sql)
		out = append(out, fields[2])
	}
	return out
}

// --- tests ---

func TestBuildInsert(t *testing.T) {
	spec := insertSpec{
		Table:   "public.weather_data",
		Columns: []column{{Name: "session_id", Expr: sessionIDExpr}, {Name: "air_temp"}},
	}
	rows := [][]any{{ptr(9165), 23.5}, {ptr(9165), 24.0}}

	sql, args := buildInsert(spec, 0, 2, func(i int) []any { return rows[i] })

	assert.Equal(t, "INSERT INTO public.weather_data (session_id, air_temp) VALUES "+
		"((SELECT id FROM public.sessions WHERE key = $1), $2), "+
		"((SELECT id FROM public.sessions WHERE key = $3), $4)", sql)
	assert.Len(t, args, 4)
}

func TestDirectLapUpsertCoalesces(t *testing.T) {
	db := &fakeDB{}
	tx, _ := db.Begin(context.Background())
	s := mustSchema(t, SchemaDirect, SchemaOptions{})

	require.NoError(t, s.Write(context.Background(), tx, domain.KindLap, sampleBatch()))

	require.Len(t, db.execs, 1)
	sql := db.execs[0].sql
	assert.Contains(t, sql, "ON CONFLICT (driver_number, lap_number) DO UPDATE SET")
	assert.Contains(t, sql, "lap_time = COALESCE(EXCLUDED.lap_time, lap_data.lap_time)")
	assert.Contains(t, sql, "sector_1 = COALESCE(EXCLUDED.sector_1, lap_data.sector_1)")
	assert.Contains(t, sql, "speed_trap = COALESCE(EXCLUDED.speed_trap, lap_data.speed_trap)")
	assert.Contains(t, sql, "timestamp = EXCLUDED.timestamp")
	assert.NotContains(t, sql, "driver_number = ")
}

func TestDirectDriverUpsertOverwrites(t *testing.T) {
	db := &fakeDB{}
	tx, _ := db.Begin(context.Background())
	s := mustSchema(t, SchemaDirect, SchemaOptions{})

	require.NoError(t, s.Write(context.Background(), tx, domain.KindDriver, sampleBatch()))

	sql := db.execs[0].sql
	assert.Contains(t, sql, "ON CONFLICT (driver_number) DO UPDATE SET name = EXCLUDED.name")
	assert.Contains(t, sql, "updated_at = CURRENT_TIMESTAMP")
	assert.NotContains(t, sql, "COALESCE")
}

func TestInsertChunking(t *testing.T) {
	b := domain.Batch{}
	for i := range 2500 {
		b.Positions = append(b.Positions, domain.Position{DriverNumber: 44, Position: 1 + i%20, Timestamp: ts0})
	}
	db := &fakeDB{}
	tx, _ := db.Begin(context.Background())
	s := mustSchema(t, SchemaDirect, SchemaOptions{ChunkSize: 1000})

	require.NoError(t, s.Write(context.Background(), tx, domain.KindPosition, b))

	require.Len(t, db.execs, 3)
	assert.Len(t, db.execs[0].args, 3000)
	assert.Len(t, db.execs[1].args, 3000)
	assert.Len(t, db.execs[2].args, 1500)
	assert.Contains(t, db.execs[2].sql, "$1500)")
}

func TestLegacyBooleanRainfall(t *testing.T) {
	db := &fakeDB{}
	tx, _ := db.Begin(context.Background())
	s := mustSchema(t, SchemaDirect, SchemaOptions{LegacyBooleanRainfall: true})

	require.NoError(t, s.Write(context.Background(), tx, domain.KindWeather, sampleBatch()))

	args := db.execs[0].args
	assert.Equal(t, ptr(true), args[len(args)-1])
}

func TestHostedSchema_SessionLookup(t *testing.T) {
	db := &fakeDB{}
	tx, _ := db.Begin(context.Background())
	s := mustSchema(t, SchemaHosted, SchemaOptions{})

	require.NoError(t, s.Write(context.Background(), tx, domain.KindDriver, sampleBatch()))

	call := db.execs[0]
	assert.Contains(t, call.sql, "INSERT INTO public.session_drivers")
	assert.Contains(t, call.sql, "(SELECT id FROM public.sessions WHERE key = $1)")
	assert.Contains(t, call.sql, "ON CONFLICT (session_id, driver_number)")
	assert.Equal(t, ptr(9165), call.args[0])
	assert.Equal(t, "44", call.args[1])
}

func TestHostedSchema_LapConflictIsPerSession(t *testing.T) {
	db := &fakeDB{}
	tx, _ := db.Begin(context.Background())
	s := mustSchema(t, SchemaHosted, SchemaOptions{})

	require.NoError(t, s.Write(context.Background(), tx, domain.KindLap, sampleBatch()))

	call := db.execs[0]
	assert.Contains(t, call.sql, "INSERT INTO public.lap_data")
	assert.Contains(t, call.sql, "ON CONFLICT (session_id, driver_number, lap_number)")
	assert.NotContains(t, call.sql, "session_id = ")
	assert.Contains(t, call.sql, "lap_time = COALESCE(EXCLUDED.lap_time, lap_data.lap_time)")
}

func TestHostedSchema_ConfiguredSessionID(t *testing.T) {
	db := &fakeDB{}
	tx, _ := db.Begin(context.Background())
	s := mustSchema(t, SchemaHosted, SchemaOptions{SessionID: 7})

	require.NoError(t, s.Write(context.Background(), tx, domain.KindWeather, sampleBatch()))

	call := db.execs[0]
	assert.NotContains(t, call.sql, "SELECT id")
	assert.Equal(t, 7, call.args[0])
	assert.Equal(t, ptr(1.0), call.args[len(call.args)-1])
}

func TestHostedSchema_TelemetrySplitsBySource(t *testing.T) {
	db := &fakeDB{}
	tx, _ := db.Begin(context.Background())
	s := mustSchema(t, SchemaHosted, SchemaOptions{})

	require.NoError(t, s.Write(context.Background(), tx, domain.KindTelemetry, sampleBatch()))

	assert.Equal(t, []string{"public.car_telemetry", "public.car_positions"}, tablesWritten(db))
}

func TestLoadBatch_CommitsAllKinds(t *testing.T) {
	db := &fakeDB{}
	l := NewLoader(db, mustSchema(t, SchemaDirect, SchemaOptions{}), slog.Default())

	res, err := l.LoadBatch(context.Background(), sampleBatch())

	require.NoError(t, err)
	assert.Equal(t, 1, db.commits)
	assert.Equal(t, 0, db.rollbacks)
	assert.Equal(t, 7, db.spCommits)
	assert.Equal(t, []string{"sessions", "drivers", "lap_data", "positions", "telemetry", "race_control", "weather"},
		tablesWritten(db))
	assert.Empty(t, res.Failed)
	assert.Equal(t, 8, res.Records())
}

func TestLoadBatch_RowLevelErrorIsolatesTable(t *testing.T) {
	db := &fakeDB{failOn: map[string]error{
		"INSERT INTO weather": &pgconn.PgError{Code: "23502", Message: "null value in column"},
	}}
	l := NewLoader(db, mustSchema(t, SchemaDirect, SchemaOptions{}), slog.Default())

	res, err := l.LoadBatch(context.Background(), sampleBatch())

	require.NoError(t, err)
	assert.Equal(t, 1, db.commits)
	assert.Equal(t, 1, db.spRollbacks)
	require.Contains(t, res.Failed, domain.KindWeather)
	assert.NotContains(t, res.Written, domain.KindWeather)
	assert.Equal(t, 1, res.Written[domain.KindDriver])
}

func TestLoadBatch_HardErrorRollsBack(t *testing.T) {
	db := &fakeDB{failOn: map[string]error{
		"INSERT INTO telemetry": errors.New("connection reset by peer"),
	}}
	l := NewLoader(db, mustSchema(t, SchemaDirect, SchemaOptions{}), slog.Default())

	_, err := l.LoadBatch(context.Background(), sampleBatch())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry")
	assert.Equal(t, 0, db.commits)
	assert.Equal(t, 1, db.rollbacks)
	assert.NotContains(t, tablesWritten(db), "weather")
}

func TestLoadBatch_BeginError(t *testing.T) {
	db := &fakeDB{beginErr: errors.New("pool closed")}
	l := NewLoader(db, mustSchema(t, SchemaDirect, SchemaOptions{}), slog.Default())

	_, err := l.LoadBatch(context.Background(), sampleBatch())
	assert.Error(t, err)
}

func TestLoadBatch_EmptyBatchSkipsTransaction(t *testing.T) {
	db := &fakeDB{beginErr: errors.New("should not be called")}
	l := NewLoader(db, mustSchema(t, SchemaDirect, SchemaOptions{}), slog.Default())

	res, err := l.LoadBatch(context.Background(), domain.Batch{})
	require.NoError(t, err)
	assert.Zero(t, res.Records())
}

func TestIsRowLevel(t *testing.T) {
	assert.True(t, isRowLevel(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isRowLevel(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "22P02"})))
	assert.True(t, isRowLevel(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, isRowLevel(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isRowLevel(&pgconn.PgError{Code: "08006"}))
	assert.False(t, isRowLevel(context.Canceled))
}

func TestDescribeKeys(t *testing.T) {
	b := sampleBatch()
	assert.Equal(t, "44/12", describeKeys(domain.KindLap, b))
	assert.Equal(t, "44", describeKeys(domain.KindDriver, b))
	assert.Equal(t, "2024-05-01T12:00:00Z..2024-05-01T12:00:00Z", describeKeys(domain.KindWeather, b))

	for i := range 15 {
		b.Drivers = append(b.Drivers, domain.Driver{DriverNumber: i})
	}
	assert.True(t, strings.HasSuffix(describeKeys(domain.KindDriver, b), "(+6 more)"))
}

func TestNewSchema_Unknown(t *testing.T) {
	_, err := NewSchema("supabase", SchemaOptions{})
	assert.Error(t, err)
}

func TestCreateDirectTables(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, CreateDirectTables(context.Background(), &fakeTx{db: db}))
	require.Len(t, db.execs, len(directDDL))
	assert.Contains(t, db.execs[2].sql, "UNIQUE (driver_number, lap_number)")

	boom := errors.New("permission denied for schema public")
	db = &fakeDB{failOn: map[string]error{"EXISTS lap_data": boom}}
	err := CreateDirectTables(context.Background(), &fakeTx{db: db})
	require.ErrorIs(t, err, boom)
	assert.Len(t, db.execs, 3)
}
