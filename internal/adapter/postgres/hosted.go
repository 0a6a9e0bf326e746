package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
)

// hostedSchema writes to the hosted analytics project's public tables, where
// rows reference sessions by surrogate id and driver numbers are text.
type hostedSchema struct {
	opts SchemaOptions
}

var hostedTables = map[domain.Kind]string{
	domain.KindSession:     "public.sessions",
	domain.KindDriver:      "public.session_drivers",
	domain.KindLap:         "public.lap_data",
	domain.KindPosition:    "public.driver_positions",
	domain.KindTelemetry:   "public.car_telemetry",
	domain.KindRaceControl: "public.race_control_messages",
	domain.KindWeather:     "public.weather_data",
}

const hostedCarPositions = "public.car_positions"

// sessionIDExpr resolves session_id from the record's session key.
const sessionIDExpr = "(SELECT id FROM public.sessions WHERE key = %s)"

var (
	hostedSessionCols = cols("key", "type", "name", "start_date", "end_date", "gmt_offset", "path")
	hostedDriverTail  = cols("driver_number", "full_name", "broadcast_name", "tla", "team_name",
		"team_color", "first_name", "last_name", "headshot_url")
	hostedLapTail = cols("driver_number", "lap_number", "lap_time", "sector_1_time", "sector_2_time",
		"sector_3_time", "speed_trap", "timestamp")
	hostedPositionTail    = cols("timestamp", "driver_number", "position")
	hostedCarTail         = cols("timestamp", "utc_timestamp", "driver_number", "rpm", "speed", "gear", "throttle", "brake", "drs")
	hostedCarPositionTail = cols("timestamp", "utc_time", "driver_number", "x_coord", "y_coord", "z_coord")
	hostedRaceControlTail = cols("timestamp", "utc_time", "category", "message", "flag", "scope", "sector")
	hostedWeatherTail     = cols("timestamp", "air_temp", "track_temp", "humidity", "pressure", "wind_speed",
		"wind_direction", "rainfall")
)

func (s *hostedSchema) Name() string { return SchemaHosted }

func (s *hostedSchema) Table(kind domain.Kind) string { return hostedTables[kind] }

// sessionColumn is the session_id target: a plain parameter when the id is
// configured, otherwise a lookup by session key.
func (s *hostedSchema) sessionColumn() column {
	if s.opts.SessionID != 0 {
		return column{Name: "session_id"}
	}
	return column{Name: "session_id", Expr: sessionIDExpr}
}

func (s *hostedSchema) sessionArg(key *int) any {
	if s.opts.SessionID != 0 {
		return s.opts.SessionID
	}
	return key
}

func (s *hostedSchema) withSession(tail []column) []column {
	return append([]column{s.sessionColumn()}, tail...)
}

func (s *hostedSchema) Write(ctx context.Context, db Execer, kind domain.Kind, b domain.Batch) error {
	chunk := s.opts.ChunkSize
	switch kind {
	case domain.KindSession:
		spec := insertSpec{Table: "public.sessions", Columns: hostedSessionCols,
			Suffix: upsertSuffix([]string{"key"}, hostedSessionCols, "updated_at = CURRENT_TIMESTAMP")}
		return execChunked(ctx, db, spec, len(b.Sessions), chunk, func(i int) []any {
			r := b.Sessions[i]
			return []any{r.SessionKey, r.Type, r.Name, r.StartDate, r.EndDate, r.GmtOffset, r.Path}
		})

	case domain.KindDriver:
		columns := s.withSession(hostedDriverTail)
		spec := insertSpec{Table: "public.session_drivers", Columns: columns,
			Suffix: upsertSuffix([]string{"session_id", "driver_number"}, columns, "updated_at = CURRENT_TIMESTAMP")}
		return execChunked(ctx, db, spec, len(b.Drivers), chunk, func(i int) []any {
			r := b.Drivers[i]
			return []any{s.sessionArg(r.SessionKey), driverText(r.DriverNumber), r.Name, r.BroadcastName, r.ShortName,
				r.Team, r.TeamColor, r.FirstName, r.LastName, r.HeadshotURL}
		})

	case domain.KindLap:
		columns := s.withSession(hostedLapTail)
		spec := insertSpec{Table: "public.lap_data", Columns: columns,
			Suffix: coalesceSuffix("public.lap_data", []string{"session_id", "driver_number", "lap_number"}, columns, "timestamp")}
		return execChunked(ctx, db, spec, len(b.Laps), chunk, func(i int) []any {
			r := b.Laps[i]
			return []any{s.sessionArg(r.SessionKey), driverText(r.DriverNumber), r.LapNumber, r.LapTime,
				r.Sector1, r.Sector2, r.Sector3, r.SpeedTrap, r.Timestamp}
		})

	case domain.KindPosition:
		spec := insertSpec{Table: "public.driver_positions", Columns: s.withSession(hostedPositionTail)}
		return execChunked(ctx, db, spec, len(b.Positions), chunk, func(i int) []any {
			r := b.Positions[i]
			return []any{s.sessionArg(r.SessionKey), r.Timestamp, driverText(r.DriverNumber), r.Position}
		})

	case domain.KindTelemetry:
		return s.writeTelemetry(ctx, db, b.Telemetry)

	case domain.KindRaceControl:
		spec := insertSpec{Table: "public.race_control_messages", Columns: s.withSession(hostedRaceControlTail)}
		return execChunked(ctx, db, spec, len(b.RaceControl), chunk, func(i int) []any {
			r := b.RaceControl[i]
			return []any{s.sessionArg(r.SessionKey), r.Timestamp, r.UTC, r.Category, r.Message, r.Flag, r.Scope, r.Sector}
		})

	case domain.KindWeather:
		spec := insertSpec{Table: "public.weather_data", Columns: s.withSession(hostedWeatherTail)}
		return execChunked(ctx, db, spec, len(b.Weather), chunk, func(i int) []any {
			r := b.Weather[i]
			return []any{s.sessionArg(r.SessionKey), r.Timestamp, r.AirTemp, r.TrackTemp, r.Humidity,
				r.Pressure, r.WindSpeed, r.WindDirection, r.Rainfall}
		})
	}
	return fmt.Errorf("hosted schema: unsupported kind %q", kind)
}

// writeTelemetry splits samples by source: car channels go to car_telemetry,
// coordinates to car_positions.
func (s *hostedSchema) writeTelemetry(ctx context.Context, db Execer, samples []domain.Telemetry) error {
	var cars, positions []domain.Telemetry
	for _, t := range samples {
		if t.Source == domain.SourcePosition {
			positions = append(positions, t)
		} else {
			cars = append(cars, t)
		}
	}

	carSpec := insertSpec{Table: "public.car_telemetry", Columns: s.withSession(hostedCarTail)}
	err := execChunked(ctx, db, carSpec, len(cars), s.opts.ChunkSize, func(i int) []any {
		r := cars[i]
		return []any{s.sessionArg(r.SessionKey), r.Timestamp, r.Timestamp, driverText(r.DriverNumber),
			r.RPM, r.Speed, r.Gear, r.Throttle, r.Brake, r.DRS}
	})
	if err != nil {
		return err
	}

	posSpec := insertSpec{Table: hostedCarPositions, Columns: s.withSession(hostedCarPositionTail)}
	return execChunked(ctx, db, posSpec, len(positions), s.opts.ChunkSize, func(i int) []any {
		r := positions[i]
		return []any{s.sessionArg(r.SessionKey), r.Timestamp, r.Timestamp, driverText(r.DriverNumber), r.X, r.Y, r.Z}
	})
}

func driverText(n int) string { return strconv.Itoa(n) }
