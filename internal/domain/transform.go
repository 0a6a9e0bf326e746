package domain

import (
	"fmt"
	"time"
)

// Topic names understood by the handlers.
const (
	TopicDriverList    = "DriverList"
	TopicSessionInfo   = "SessionInfo"
	TopicTimingData    = "TimingData"
	TopicTimingAppData = "TimingAppData"
	TopicPositionZ     = "Position.z"
	TopicPosition      = "Position"
	TopicCarDataZ      = "CarData.z"
	TopicCarData       = "CarData"
	TopicRaceControl   = "RaceControlMessages"
	TopicWeatherData   = "WeatherData"
)

// Car-data channel numbers used by the compressed car stream.
const (
	channelRPM      = "0"
	channelSpeed    = "2"
	channelGear     = "3"
	channelThrottle = "4"
	channelBrake    = "5"
	channelDRS      = "45"
)

// Skip records one entry a handler dropped, for debug logging.
type Skip struct {
	Field  string
	Value  any
	Reason string
}

// Output is everything a handler produced from one event. Laps are partial
// updates keyed by (driver, lap) that the caller merges.
type Output struct {
	Drivers     []Driver
	Session     *Session
	Laps        []LapData
	Positions   []Position
	Telemetry   []Telemetry
	RaceControl []RaceControl
	Weather     []Weather

	Skipped            []Skip
	TimestampFallbacks int
}

// TopicHandler maps a decoded payload to records. ts is the event's parsed
// timestamp.
type TopicHandler func(data any, ts time.Time) Output

var handlers = map[string]TopicHandler{
	TopicDriverList:    HandleDriverList,
	TopicSessionInfo:   HandleSessionInfo,
	TopicTimingData:    HandleTimingData,
	TopicTimingAppData: HandleTimingAppData,
	TopicPositionZ:     HandlePosition,
	TopicPosition:      HandlePosition,
	TopicCarDataZ:      HandleCarData,
	TopicCarData:       HandleCarData,
	TopicRaceControl:   HandleRaceControl,
	TopicWeatherData:   HandleWeather,
}

// LookupTopic returns the handler for a topic. Unknown topics return false.
func LookupTopic(topic string) (TopicHandler, bool) {
	h, ok := handlers[topic]
	return h, ok
}

func (o *Output) skip(field string, value any, reason string) {
	o.Skipped = append(o.Skipped, Skip{Field: field, Value: value, Reason: reason})
}

// HandleDriverList emits one Driver per entry keyed by racing number. Fields
// absent from a partial update stay nil.
func HandleDriverList(data any, _ time.Time) Output {
	var out Output
	m, ok := asMap(data)
	if !ok {
		out.skip("data", data, "driver list is not a mapping")
		return out
	}
	for _, key := range sortedKeys(m) {
		num := ParseInt(key)
		if num == nil {
			out.skip("driver_number", key, "not a number")
			continue
		}
		entry, ok := asMap(m[key])
		if !ok {
			out.skip("driver", key, "entry is not a mapping")
			continue
		}
		d := Driver{
			DriverNumber:  *num,
			Name:          ParseString(firstOf(entry, "FullName", "Name")),
			BroadcastName: ParseString(entry["BroadcastName"]),
			ShortName:     ParseString(entry["Tla"]),
			CountryCode:   ParseString(entry["CountryCode"]),
			Team:          ParseString(entry["TeamName"]),
			TeamColor:     ParseString(entry["TeamColour"]),
			FirstName:     ParseString(entry["FirstName"]),
			LastName:      ParseString(entry["LastName"]),
			HeadshotURL:   ParseString(entry["HeadshotUrl"]),
		}
		// Timing-only updates such as {"Line": 3} would otherwise upsert a
		// row of NULLs over the stored roster.
		if !d.HasRoster() {
			out.skip("driver", key, "no roster fields")
			continue
		}
		out.Drivers = append(out.Drivers, d)
	}
	return out
}

// HandleSessionInfo emits the session. Meeting fields are read flat or from
// the nested "Meeting" object.
func HandleSessionInfo(data any, _ time.Time) Output {
	var out Output
	m, ok := asMap(data)
	if !ok {
		out.skip("data", data, "session info is not a mapping")
		return out
	}
	key := ParseInt(m["Key"])
	if key == nil {
		out.skip("Key", m["Key"], "session key missing")
		return out
	}
	meeting := m["Meeting"]
	out.Session = &Session{
		SessionKey:  *key,
		MeetingKey:  ParseInt(or(m["MeetingKey"], path(meeting, "Key"))),
		Name:        ParseString(m["Name"]),
		Type:        ParseString(m["Type"]),
		StartDate:   parseLocalTime(m["StartDate"], m["GmtOffset"]),
		EndDate:     parseLocalTime(m["EndDate"], m["GmtOffset"]),
		GmtOffset:   ParseString(m["GmtOffset"]),
		Circuit:     ParseString(or(m["CircuitShortName"], path(meeting, "Circuit", "ShortName"))),
		Location:    ParseString(or(m["Location"], path(meeting, "Location"))),
		CountryName: ParseString(or(m["CountryName"], path(meeting, "Country", "Name"))),
		Path:        ParseString(m["Path"]),
	}
	return out
}

// HandleTimingData emits a lap update for entries carrying a last lap time
// and, independently, a Position for entries carrying a running position.
func HandleTimingData(data any, ts time.Time) Output {
	var out Output
	m, ok := asMap(data)
	if !ok {
		out.skip("data", data, "timing data is not a mapping")
		return out
	}
	lines := unwrapLines(m)
	for _, key := range sortedKeys(lines) {
		num := ParseInt(key)
		entry, ok := asMap(lines[key])
		if num == nil || !ok {
			out.skip("driver_number", key, "not a driver entry")
			continue
		}

		if lastLap, ok := entry["LastLapTime"]; ok {
			lap := ParseInt(entry["NumberOfLaps"])
			if lap == nil {
				out.skip("NumberOfLaps", entry["NumberOfLaps"], "lap time without lap number")
			} else {
				update := LapData{
					DriverNumber: *num,
					LapNumber:    *lap,
					LapTime:      ParseLapTime(valueOf(lastLap)),
					SpeedTrap:    ParseInt(valueOf(or(entry["BestSpeed"], path(entry, "Speeds", "ST")))),
					Timestamp:    ts,
				}
				setSectors(&update, entry)
				out.Laps = append(out.Laps, update)
			}
		}

		if raw, ok := entry["Position"]; ok {
			pos := ParseInt(raw)
			if pos == nil || *pos < 1 {
				out.skip("Position", raw, "not a running position")
				continue
			}
			out.Positions = append(out.Positions, Position{DriverNumber: *num, Position: *pos, Timestamp: ts})
		}
	}
	return out
}

// setSectors fills sector times from "SectorNTime" fields or the live feed's
// "Sectors" collection.
func setSectors(lap *LapData, entry map[string]any) {
	sectors := entries(entry["Sectors"])
	targets := []**float64{&lap.Sector1, &lap.Sector2, &lap.Sector3}
	for i, target := range targets {
		v := valueOf(entry[fmt.Sprintf("Sector%dTime", i+1)])
		if v == nil && i < len(sectors) {
			v = valueOf(sectors[i])
		}
		*target = ParseLapTime(v)
	}
}

// HandleTimingAppData emits lap updates from each driver's lap lines (or
// stints), completing or creating the matching LapData.
func HandleTimingAppData(data any, ts time.Time) Output {
	var out Output
	m, ok := asMap(data)
	if !ok {
		out.skip("data", data, "timing app data is not a mapping")
		return out
	}
	drivers := m
	if inner, ok := asMap(m["Lines"]); ok && !isLapLines(inner) {
		drivers = inner
	}
	for _, key := range sortedKeys(drivers) {
		num := ParseInt(key)
		entry, ok := asMap(drivers[key])
		if num == nil || !ok {
			out.skip("driver_number", key, "not a driver entry")
			continue
		}
		var laps []any
		laps = append(laps, entries(entry["Lines"])...)
		laps = append(laps, entries(entry["Stints"])...)
		for _, l := range laps {
			info, ok := asMap(l)
			if !ok {
				continue
			}
			lap := ParseInt(firstOf(info, "NumberOfLaps", "LapNumber"))
			if lap == nil {
				out.skip("NumberOfLaps", firstOf(info, "NumberOfLaps", "LapNumber"), "lap entry without lap number")
				continue
			}
			update := LapData{
				DriverNumber: *num,
				LapNumber:    *lap,
				LapTime:      ParseLapTime(valueOf(info["LapTime"])),
				Sector1:      ParseLapTime(valueOf(info["Sector1"])),
				Sector2:      ParseLapTime(valueOf(info["Sector2"])),
				Sector3:      ParseLapTime(valueOf(info["Sector3"])),
				SpeedTrap:    ParseInt(valueOf(info["SpeedTrap"])),
				Timestamp:    ts,
			}
			out.Laps = append(out.Laps, update)
		}
	}
	return out
}

// isLapLines reports whether a "Lines" map holds lap entries rather than
// drivers, which is the case when the payload is a single driver's record.
func isLapLines(m map[string]any) bool {
	for _, v := range m {
		entry, ok := asMap(v)
		if !ok {
			return false
		}
		if _, ok := entry["NumberOfLaps"]; ok {
			return true
		}
	}
	return false
}

// HandlePosition emits spatial Telemetry samples. It accepts a map of driver
// to [x, y, z] (or {X, Y, Z}) and the live feed's timestamped "Position" list.
func HandlePosition(data any, ts time.Time) Output {
	var out Output
	m, ok := asMap(data)
	if !ok {
		out.skip("data", data, "position data is not a mapping")
		return out
	}
	list, ok := m["Position"].([]any)
	if !ok {
		addPositionSamples(&out, m, ts)
		return out
	}
	for _, item := range list {
		sample, ok := asMap(item)
		if !ok {
			continue
		}
		sampleTS, parsed := ParseTimestampOr(sample["Timestamp"], ts)
		if !parsed {
			out.TimestampFallbacks++
		}
		if cars, ok := asMap(sample["Entries"]); ok {
			addPositionSamples(&out, cars, sampleTS)
		}
	}
	return out
}

func addPositionSamples(out *Output, cars map[string]any, ts time.Time) {
	for _, key := range sortedKeys(cars) {
		num := ParseInt(key)
		if num == nil {
			out.skip("driver_number", key, "not a number")
			continue
		}
		x, y, z, ok := coordinates(cars[key])
		if !ok {
			out.skip("coordinates", cars[key], "missing x or y")
			continue
		}
		out.Telemetry = append(out.Telemetry, Telemetry{
			DriverNumber: *num,
			Timestamp:    ts,
			Source:       SourcePosition,
			X:            x,
			Y:            y,
			Z:            z,
		})
	}
}

// coordinates reads x and y (required) and z (default 0).
func coordinates(v any) (x, y, z *float64, ok bool) {
	var rawZ any
	switch t := v.(type) {
	case []any:
		if len(t) < 2 {
			return nil, nil, nil, false
		}
		x, y = ParseFloat(t[0]), ParseFloat(t[1])
		if len(t) > 2 {
			rawZ = t[2]
		}
	case map[string]any:
		x, y = ParseFloat(t["X"]), ParseFloat(t["Y"])
		rawZ = t["Z"]
	default:
		return nil, nil, nil, false
	}
	if x == nil || y == nil {
		return nil, nil, nil, false
	}
	z = ParseFloat(rawZ)
	if z == nil {
		zero := 0.0
		z = &zero
	}
	return x, y, z, true
}

// HandleCarData emits car-channel Telemetry samples. It accepts a map of
// driver to named channels and the live feed's "Entries" list of numbered
// channels, each entry stamped with its own Utc time.
func HandleCarData(data any, ts time.Time) Output {
	var out Output
	m, ok := asMap(data)
	if !ok {
		out.skip("data", data, "car data is not a mapping")
		return out
	}
	list, ok := m["Entries"].([]any)
	if !ok {
		addCarSamples(&out, m, ts)
		return out
	}
	for _, item := range list {
		sample, ok := asMap(item)
		if !ok {
			continue
		}
		sampleTS, parsed := ParseTimestampOr(sample["Utc"], ts)
		if !parsed {
			out.TimestampFallbacks++
		}
		if cars, ok := asMap(sample["Cars"]); ok {
			addCarSamples(&out, cars, sampleTS)
		}
	}
	return out
}

func addCarSamples(out *Output, cars map[string]any, ts time.Time) {
	for _, key := range sortedKeys(cars) {
		num := ParseInt(key)
		car, ok := asMap(cars[key])
		if num == nil || !ok {
			out.skip("driver_number", key, "not a car entry")
			continue
		}
		sample := Telemetry{DriverNumber: *num, Timestamp: ts, Source: SourceCarData}
		if channels, ok := asMap(car["Channels"]); ok {
			sample.RPM = ParseInt(channels[channelRPM])
			sample.Speed = ParseInt(channels[channelSpeed])
			sample.Gear = ParseInt(channels[channelGear])
			sample.Throttle = ParseInt(channels[channelThrottle])
			sample.Brake = ParseInt(channels[channelBrake])
			sample.DRS = ParseInt(channels[channelDRS])
		} else {
			sample.RPM = ParseInt(car["RPM"])
			sample.Speed = ParseInt(car["Speed"])
			sample.Gear = ParseInt(car["nGear"])
			sample.Throttle = ParseInt(car["Throttle"])
			sample.Brake = ParseInt(car["Brake"])
			sample.DRS = ParseInt(car["DRS"])
		}
		out.Telemetry = append(out.Telemetry, sample)
	}
}

// HandleRaceControl emits one RaceControl per message. The payload is a
// list of messages or a {"Messages": ...} wrapper.
func HandleRaceControl(data any, ts time.Time) Output {
	var out Output
	msgs := data
	if m, ok := asMap(data); ok {
		msgs = m["Messages"]
	}
	list := entries(msgs)
	if list == nil {
		out.skip("data", data, "race control payload has no messages")
		return out
	}
	for _, item := range list {
		msg, ok := asMap(item)
		if !ok {
			continue
		}
		rc := RaceControl{
			Timestamp:    ts,
			Category:     ParseString(msg["Category"]),
			Flag:         ParseString(msg["Flag"]),
			Scope:        ParseString(msg["Scope"]),
			DriverNumber: ParseInt(firstOf(msg, "DriverNumber", "RacingNumber")),
			Sector:       ParseInt(msg["Sector"]),
			LapNumber:    ParseInt(msg["Lap"]),
		}
		if text := ParseString(msg["Message"]); text != nil {
			rc.Message = *text
		}
		if utc, ok := ParseTimestampOr(msg["Utc"], time.Time{}); ok {
			rc.UTC = &utc
		}
		out.RaceControl = append(out.RaceControl, rc)
	}
	return out
}

// HandleWeather emits one Weather sample.
func HandleWeather(data any, ts time.Time) Output {
	var out Output
	m, ok := asMap(data)
	if !ok {
		out.skip("data", data, "weather data is not a mapping")
		return out
	}
	out.Weather = []Weather{{
		Timestamp:     ts,
		AirTemp:       ParseFloat(m["AirTemp"]),
		TrackTemp:     ParseFloat(m["TrackTemp"]),
		Humidity:      ParseFloat(m["Humidity"]),
		Pressure:      ParseFloat(m["Pressure"]),
		WindSpeed:     ParseFloat(m["WindSpeed"]),
		WindDirection: ParseInt(m["WindDirection"]),
		Rainfall:      ParseRainfall(m["Rainfall"]),
	}}
	return out
}

// MergeDriver overlays the known fields of next onto prev.
func MergeDriver(prev, next Driver) Driver {
	merged := prev
	merged.DriverNumber = next.DriverNumber
	overlay(&merged.Name, next.Name)
	overlay(&merged.BroadcastName, next.BroadcastName)
	overlay(&merged.ShortName, next.ShortName)
	overlay(&merged.CountryCode, next.CountryCode)
	overlay(&merged.Team, next.Team)
	overlay(&merged.TeamColor, next.TeamColor)
	overlay(&merged.FirstName, next.FirstName)
	overlay(&merged.LastName, next.LastName)
	overlay(&merged.HeadshotURL, next.HeadshotURL)
	overlay(&merged.SessionKey, next.SessionKey)
	return merged
}

// MergeSession overlays the known fields of next onto prev for the same key.
func MergeSession(prev, next Session) Session {
	if prev.SessionKey != next.SessionKey {
		return next
	}
	merged := prev
	overlay(&merged.MeetingKey, next.MeetingKey)
	overlay(&merged.Name, next.Name)
	overlay(&merged.Type, next.Type)
	overlay(&merged.StartDate, next.StartDate)
	overlay(&merged.EndDate, next.EndDate)
	overlay(&merged.GmtOffset, next.GmtOffset)
	overlay(&merged.Circuit, next.Circuit)
	overlay(&merged.Location, next.Location)
	overlay(&merged.CountryName, next.CountryName)
	overlay(&merged.Path, next.Path)
	return merged
}

// MergeLap overlays the known fields of next onto prev. The later of the two
// timestamps is kept.
func MergeLap(prev, next LapData) LapData {
	merged := prev
	overlay(&merged.LapTime, next.LapTime)
	overlay(&merged.Sector1, next.Sector1)
	overlay(&merged.Sector2, next.Sector2)
	overlay(&merged.Sector3, next.Sector3)
	overlay(&merged.SpeedTrap, next.SpeedTrap)
	overlay(&merged.SessionKey, next.SessionKey)
	if next.Timestamp.After(merged.Timestamp) {
		merged.Timestamp = next.Timestamp
	}
	return merged
}

func overlay[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

func or(a, b any) any {
	if a != nil {
		return a
	}
	return b
}
