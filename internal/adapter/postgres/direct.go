package postgres

import (
	"context"
	"fmt"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
)

// directSchema writes to the standalone tables created alongside the
// service: sessions, drivers, lap_data, positions, telemetry, race_control
// and weather.
type directSchema struct {
	opts SchemaOptions
}

var directTables = map[domain.Kind]string{
	domain.KindSession:     "sessions",
	domain.KindDriver:      "drivers",
	domain.KindLap:         "lap_data",
	domain.KindPosition:    "positions",
	domain.KindTelemetry:   "telemetry",
	domain.KindRaceControl: "race_control",
	domain.KindWeather:     "weather",
}

var (
	directSessionCols = cols("session_key", "meeting_key", "name", "date", "circuit", "type", "location", "country_name")
	directDriverCols  = cols("driver_number", "name", "team", "country_code", "team_color",
		"first_name", "last_name", "short_name", "broadcast_name", "headshot_url")
	directLapCols = cols("driver_number", "lap_number", "lap_time", "sector_1", "sector_2", "sector_3",
		"speed_trap", "timestamp")
	directPositionCols    = cols("driver_number", "position", "timestamp")
	directTelemetryCols   = cols("driver_number", "timestamp", "speed", "rpm", "gear", "throttle", "brake", "drs", "x", "y", "z")
	directRaceControlCols = cols("timestamp", "message", "category", "flag", "driver_number", "scope", "sector", "lap_number")
	directWeatherCols     = cols("timestamp", "air_temp", "track_temp", "humidity", "pressure", "wind_speed",
		"wind_direction", "rainfall")
)

func (s *directSchema) Name() string { return SchemaDirect }

func (s *directSchema) Table(kind domain.Kind) string { return directTables[kind] }

func (s *directSchema) Write(ctx context.Context, db Execer, kind domain.Kind, b domain.Batch) error {
	chunk := s.opts.ChunkSize
	switch kind {
	case domain.KindSession:
		spec := insertSpec{Table: "sessions", Columns: directSessionCols,
			Suffix: upsertSuffix([]string{"session_key"}, directSessionCols)}
		return execChunked(ctx, db, spec, len(b.Sessions), chunk, func(i int) []any {
			r := b.Sessions[i]
			return []any{r.SessionKey, r.MeetingKey, r.Name, r.StartDate, r.Circuit, r.Type, r.Location, r.CountryName}
		})

	case domain.KindDriver:
		spec := insertSpec{Table: "drivers", Columns: directDriverCols,
			Suffix: upsertSuffix([]string{"driver_number"}, directDriverCols, "updated_at = CURRENT_TIMESTAMP")}
		return execChunked(ctx, db, spec, len(b.Drivers), chunk, func(i int) []any {
			r := b.Drivers[i]
			return []any{r.DriverNumber, r.Name, r.Team, r.CountryCode, r.TeamColor,
				r.FirstName, r.LastName, r.ShortName, r.BroadcastName, r.HeadshotURL}
		})

	case domain.KindLap:
		spec := insertSpec{Table: "lap_data", Columns: directLapCols,
			Suffix: coalesceSuffix("lap_data", []string{"driver_number", "lap_number"}, directLapCols, "timestamp")}
		return execChunked(ctx, db, spec, len(b.Laps), chunk, func(i int) []any {
			r := b.Laps[i]
			return []any{r.DriverNumber, r.LapNumber, r.LapTime, r.Sector1, r.Sector2, r.Sector3, r.SpeedTrap, r.Timestamp}
		})

	case domain.KindPosition:
		spec := insertSpec{Table: "positions", Columns: directPositionCols}
		return execChunked(ctx, db, spec, len(b.Positions), chunk, func(i int) []any {
			r := b.Positions[i]
			return []any{r.DriverNumber, r.Position, r.Timestamp}
		})

	case domain.KindTelemetry:
		spec := insertSpec{Table: "telemetry", Columns: directTelemetryCols}
		return execChunked(ctx, db, spec, len(b.Telemetry), chunk, func(i int) []any {
			r := b.Telemetry[i]
			return []any{r.DriverNumber, r.Timestamp, r.Speed, r.RPM, r.Gear, r.Throttle, r.Brake, r.DRS, r.X, r.Y, r.Z}
		})

	case domain.KindRaceControl:
		spec := insertSpec{Table: "race_control", Columns: directRaceControlCols}
		return execChunked(ctx, db, spec, len(b.RaceControl), chunk, func(i int) []any {
			r := b.RaceControl[i]
			return []any{r.Timestamp, r.Message, r.Category, r.Flag, r.DriverNumber, r.Scope, r.Sector, r.LapNumber}
		})

	case domain.KindWeather:
		spec := insertSpec{Table: "weather", Columns: directWeatherCols}
		return execChunked(ctx, db, spec, len(b.Weather), chunk, func(i int) []any {
			r := b.Weather[i]
			var rainfall any = r.Rainfall
			if s.opts.LegacyBooleanRainfall {
				rainfall = legacyRainfall(r.Rainfall)
			}
			return []any{r.Timestamp, r.AirTemp, r.TrackTemp, r.Humidity, r.Pressure, r.WindSpeed, r.WindDirection, rainfall}
		})
	}
	return fmt.Errorf("direct schema: unsupported kind %q", kind)
}

func legacyRainfall(v *float64) *bool {
	if v == nil {
		return nil
	}
	raining := *v > 0
	return &raining
}
