package domain

import "time"

// Kind names one entity collection in a Batch.
type Kind string

const (
	KindSession     Kind = "sessions"
	KindDriver      Kind = "drivers"
	KindLap         Kind = "lap_data"
	KindPosition    Kind = "positions"
	KindTelemetry   Kind = "telemetry"
	KindRaceControl Kind = "race_control"
	KindWeather     Kind = "weather"
)

// Kinds lists every entity kind in load order. Sessions and drivers go first
// so that downstream rows referencing them resolve.
var Kinds = []Kind{KindSession, KindDriver, KindLap, KindPosition, KindTelemetry, KindRaceControl, KindWeather}

// Event is one parsed log line before its payload is decoded.
type Event struct {
	Topic     string
	Data      any
	Timestamp string
}

// Driver is one car/driver entry, keyed by racing number.
type Driver struct {
	DriverNumber  int     `json:"driver_number"`
	Name          *string `json:"name,omitempty"`
	BroadcastName *string `json:"broadcast_name,omitempty"`
	ShortName     *string `json:"short_name,omitempty"`
	CountryCode   *string `json:"country_code,omitempty"`
	Team          *string `json:"team,omitempty"`
	TeamColor     *string `json:"team_color,omitempty"`
	FirstName     *string `json:"first_name,omitempty"`
	LastName      *string `json:"last_name,omitempty"`
	HeadshotURL   *string `json:"headshot_url,omitempty"`
	SessionKey    *int    `json:"session_key,omitempty"`
}

// HasRoster reports whether d carries any identity or team field.
func (d Driver) HasRoster() bool {
	for _, f := range []*string{d.Name, d.BroadcastName, d.ShortName, d.CountryCode,
		d.Team, d.TeamColor, d.FirstName, d.LastName, d.HeadshotURL} {
		if f != nil {
			return true
		}
	}
	return false
}

// Session describes the timed session the feed belongs to.
type Session struct {
	SessionKey  int        `json:"session_key"`
	MeetingKey  *int       `json:"meeting_key,omitempty"`
	Name        *string    `json:"name,omitempty"`
	Type        *string    `json:"type,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	GmtOffset   *string    `json:"gmt_offset,omitempty"`
	Circuit     *string    `json:"circuit,omitempty"`
	Location    *string    `json:"location,omitempty"`
	CountryName *string    `json:"country_name,omitempty"`
	Path        *string    `json:"path,omitempty"`
}

// LapData is the timing of one lap by one driver. Lap and sector times are
// seconds; SpeedTrap is km/h.
type LapData struct {
	DriverNumber int       `json:"driver_number"`
	LapNumber    int       `json:"lap_number"`
	LapTime      *float64  `json:"lap_time,omitempty"`
	Sector1      *float64  `json:"sector_1,omitempty"`
	Sector2      *float64  `json:"sector_2,omitempty"`
	Sector3      *float64  `json:"sector_3,omitempty"`
	SpeedTrap    *int      `json:"speed_trap,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	SessionKey   *int      `json:"session_key,omitempty"`
}

// Position is a driver's running order at an instant.
type Position struct {
	DriverNumber int       `json:"driver_number"`
	Position     int       `json:"position"`
	Timestamp    time.Time `json:"timestamp"`
	SessionKey   *int      `json:"session_key,omitempty"`
}

// TelemetrySource identifies which stream produced a Telemetry sample.
type TelemetrySource string

const (
	SourceCarData  TelemetrySource = "car_data"
	SourcePosition TelemetrySource = "position"
)

// Telemetry is one car sample. Car-data samples fill the channel fields and
// position samples fill X/Y/Z; the two are never merged into one row.
type Telemetry struct {
	DriverNumber int             `json:"driver_number"`
	Timestamp    time.Time       `json:"timestamp"`
	Source       TelemetrySource `json:"source"`
	Speed        *int            `json:"speed,omitempty"`
	RPM          *int            `json:"rpm,omitempty"`
	Gear         *int            `json:"gear,omitempty"`
	Throttle     *int            `json:"throttle,omitempty"`
	Brake        *int            `json:"brake,omitempty"`
	DRS          *int            `json:"drs,omitempty"`
	X            *float64        `json:"x,omitempty"`
	Y            *float64        `json:"y,omitempty"`
	Z            *float64        `json:"z,omitempty"`
	SessionKey   *int            `json:"session_key,omitempty"`
}

// RaceControl is one message from race direction.
type RaceControl struct {
	Timestamp    time.Time  `json:"timestamp"`
	UTC          *time.Time `json:"utc,omitempty"`
	Message      string     `json:"message"`
	Category     *string    `json:"category,omitempty"`
	Flag         *string    `json:"flag,omitempty"`
	Scope        *string    `json:"scope,omitempty"`
	DriverNumber *int       `json:"driver_number,omitempty"`
	Sector       *int       `json:"sector,omitempty"`
	LapNumber    *int       `json:"lap_number,omitempty"`
	SessionKey   *int       `json:"session_key,omitempty"`
}

// Weather is one trackside weather sample. Rainfall is numeric: 1.0 for
// rain, 0.0 for dry.
type Weather struct {
	Timestamp     time.Time `json:"timestamp"`
	AirTemp       *float64  `json:"air_temp,omitempty"`
	TrackTemp     *float64  `json:"track_temp,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	Pressure      *float64  `json:"pressure,omitempty"`
	WindSpeed     *float64  `json:"wind_speed,omitempty"`
	WindDirection *int      `json:"wind_direction,omitempty"`
	Rainfall      *float64  `json:"rainfall,omitempty"`
	SessionKey    *int      `json:"session_key,omitempty"`
}

// Batch holds every record produced from one read of the event log.
type Batch struct {
	Sessions    []Session
	Drivers     []Driver
	Laps        []LapData
	Positions   []Position
	Telemetry   []Telemetry
	RaceControl []RaceControl
	Weather     []Weather
}

// Count returns the number of records of the given kind.
func (b Batch) Count(k Kind) int {
	switch k {
	case KindSession:
		return len(b.Sessions)
	case KindDriver:
		return len(b.Drivers)
	case KindLap:
		return len(b.Laps)
	case KindPosition:
		return len(b.Positions)
	case KindTelemetry:
		return len(b.Telemetry)
	case KindRaceControl:
		return len(b.RaceControl)
	case KindWeather:
		return len(b.Weather)
	}
	return 0
}

// Len returns the total number of records across all kinds.
func (b Batch) Len() int {
	n := 0
	for _, k := range Kinds {
		n += b.Count(k)
	}
	return n
}

// Empty reports whether the batch holds no records.
func (b Batch) Empty() bool { return b.Len() == 0 }

// LoadResult reports what a store wrote for one batch. Kinds listed in
// Failed were rolled back; the rest of the batch was committed.
type LoadResult struct {
	Written map[Kind]int
	Failed  map[Kind]error
}

// Records returns the total number of rows written.
func (r LoadResult) Records() int {
	n := 0
	for _, c := range r.Written {
		n += c
	}
	return n
}
