// Command genfeed writes a synthetic live-timing feed for local runs and
// demos. The output uses the same line shapes and payload encodings as the
// live-timing client, so it can be tailed by the pipeline with
// EXTRACTOR_COMMAND=none.
//
// Usage:
//
//	go run ./cmd/genfeed -out f1_data.txt -laps 5 -drivers 10
//	go run ./cmd/genfeed -out f1_data.txt -format json -interval 200ms -append
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/livetiming"
)

type entrant struct {
	number    int
	name      string
	tla       string
	team      string
	colour    string
	country   string
	firstName string
	lastName  string
}

var grid = []entrant{
	{1, "Max VERSTAPPEN", "VER", "Red Bull Racing", "3671C6", "NED", "Max", "Verstappen"},
	{11, "Sergio PEREZ", "PER", "Red Bull Racing", "3671C6", "MEX", "Sergio", "Perez"},
	{44, "Lewis HAMILTON", "HAM", "Mercedes", "27F4D2", "GBR", "Lewis", "Hamilton"},
	{63, "George RUSSELL", "RUS", "Mercedes", "27F4D2", "GBR", "George", "Russell"},
	{16, "Charles LECLERC", "LEC", "Ferrari", "E8002D", "MON", "Charles", "Leclerc"},
	{55, "Carlos SAINZ", "SAI", "Ferrari", "E8002D", "ESP", "Carlos", "Sainz"},
	{4, "Lando NORRIS", "NOR", "McLaren", "FF8000", "GBR", "Lando", "Norris"},
	{81, "Oscar PIASTRI", "PIA", "McLaren", "FF8000", "AUS", "Oscar", "Piastri"},
	{14, "Fernando ALONSO", "ALO", "Aston Martin", "229971", "ESP", "Fernando", "Alonso"},
	{18, "Lance STROLL", "STR", "Aston Martin", "229971", "CAN", "Lance", "Stroll"},
}

type options struct {
	out        string
	format     livetiming.LineFormat
	laps       int
	drivers    int
	sessionKey int
	start      time.Time
	interval   time.Duration
	appendOut  bool
	seed       uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var opts options
	var format, start string
	flag.StringVar(&opts.out, "out", "f1_data.txt", "output event log path")
	flag.StringVar(&format, "format", string(livetiming.FormatLiteral), "line format: literal or json")
	flag.IntVar(&opts.laps, "laps", 5, "number of laps to simulate")
	flag.IntVar(&opts.drivers, "drivers", len(grid), "number of cars (max 10)")
	flag.IntVar(&opts.sessionKey, "session-key", 9158, "session key written to SessionInfo")
	flag.StringVar(&start, "start", "2024-05-05T20:00:00Z", "timestamp of the first event (RFC 3339)")
	flag.DurationVar(&opts.interval, "interval", 0, "wall-clock pause between written lines (0 writes at once)")
	flag.BoolVar(&opts.appendOut, "append", false, "append to the output instead of truncating it")
	flag.Uint64Var(&opts.seed, "seed", 1, "random seed for lap times and telemetry")
	flag.Parse()

	opts.format = livetiming.LineFormat(format)
	if _, err := livetiming.ParserFor(opts.format); err != nil {
		return err
	}
	if opts.drivers < 1 || opts.drivers > len(grid) {
		return fmt.Errorf("-drivers must be between 1 and %d", len(grid))
	}
	if opts.laps < 1 {
		return fmt.Errorf("-laps must be positive")
	}
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	opts.start = t.UTC()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if opts.appendOut {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(opts.out, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	n := 0
	err = generate(opts, func(topic string, data any, ts time.Time) error {
		line, err := livetiming.FormatLine(opts.format, topic, data, ts)
		if err != nil {
			return fmt.Errorf("format %s: %w", topic, err)
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
		n++
		if opts.interval > 0 {
			if err := w.Flush(); err != nil {
				return err
			}
			time.Sleep(opts.interval)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	log.Printf("wrote %d events (%d laps, %d cars) to %s", n, opts.laps, opts.drivers, opts.out)
	return nil
}

type emitFunc func(topic string, data any, ts time.Time) error

// generate emits a session header followed by one block of timing, position,
// and car events per lap.
func generate(opts options, emit emitFunc) error {
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed))
	cars := grid[:opts.drivers]
	ts := opts.start

	if err := emit("SessionInfo", sessionInfo(opts), ts); err != nil {
		return err
	}
	if err := emit("DriverList", driverList(cars), ts); err != nil {
		return err
	}
	if err := emit("RaceControlMessages", map[string]any{"Messages": []any{map[string]any{
		"Utc":      ts.Format(time.RFC3339),
		"Category": "Flag",
		"Flag":     "GREEN",
		"Scope":    "Track",
		"Message":  "GREEN LIGHT - PIT EXIT OPEN",
	}}}, ts); err != nil {
		return err
	}

	for lap := 1; lap <= opts.laps; lap++ {
		ts = ts.Add(90 * time.Second)

		timing := map[string]any{}
		app := map[string]any{}
		for i, car := range cars {
			s1 := 28 + rng.Float64()*2
			s2 := 33 + rng.Float64()*2
			s3 := 27 + rng.Float64()*2
			key := strconv.Itoa(car.number)
			timing[key] = map[string]any{
				"NumberOfLaps": lap,
				"Position":     strconv.Itoa(i + 1),
				"LastLapTime":  map[string]any{"Value": lapTime(s1 + s2 + s3)},
				"Sectors": []any{
					map[string]any{"Value": fmt.Sprintf("%.3f", s1)},
					map[string]any{"Value": fmt.Sprintf("%.3f", s2)},
					map[string]any{"Value": fmt.Sprintf("%.3f", s3)},
				},
			}
			app[key] = map[string]any{"Stints": []any{map[string]any{
				"LapNumber": lap,
				"SpeedTrap": strconv.Itoa(300 + rng.IntN(25)),
			}}}
		}
		if err := emit("TimingData", map[string]any{"Lines": timing}, ts); err != nil {
			return err
		}
		if err := emit("TimingAppData", map[string]any{"Lines": app}, ts); err != nil {
			return err
		}

		carData, err := livetiming.Encode(carEntries(rng, cars, ts))
		if err != nil {
			return err
		}
		if err := emit("CarData.z", carData, ts); err != nil {
			return err
		}
		positions, err := livetiming.Encode(positionEntries(cars, lap, ts))
		if err != nil {
			return err
		}
		if err := emit("Position.z", positions, ts); err != nil {
			return err
		}

		if lap%5 == 1 {
			if err := emit("WeatherData", weather(rng), ts); err != nil {
				return err
			}
		}
	}
	return nil
}

func sessionInfo(opts options) map[string]any {
	return map[string]any{
		"Key":       opts.sessionKey,
		"Type":      "Race",
		"Name":      "Race",
		"StartDate": opts.start.Format("2006-01-02T15:04:05"),
		"EndDate":   opts.start.Add(2 * time.Hour).Format("2006-01-02T15:04:05"),
		"GmtOffset": "00:00:00",
		"Path":      "2024/2024-05-05_Miami_Grand_Prix/2024-05-05_Race/",
		"Meeting": map[string]any{
			"Key":      1229,
			"Name":     "Miami Grand Prix",
			"Location": "Miami",
			"Country":  map[string]any{"Name": "United States"},
			"Circuit":  map[string]any{"ShortName": "Miami"},
		},
	}
}

func driverList(cars []entrant) map[string]any {
	out := make(map[string]any, len(cars))
	for _, c := range cars {
		out[strconv.Itoa(c.number)] = map[string]any{
			"RacingNumber":  strconv.Itoa(c.number),
			"FullName":      c.name,
			"BroadcastName": fmt.Sprintf("%c %s", c.firstName[0], c.lastName),
			"Tla":           c.tla,
			"TeamName":      c.team,
			"TeamColour":    c.colour,
			"CountryCode":   c.country,
			"FirstName":     c.firstName,
			"LastName":      c.lastName,
		}
	}
	return out
}

func carEntries(rng *rand.Rand, cars []entrant, ts time.Time) map[string]any {
	var entries []any
	for step := 0; step < 4; step++ {
		sample := map[string]any{}
		for _, c := range cars {
			sample[strconv.Itoa(c.number)] = map[string]any{"Channels": map[string]any{
				"0":  10500 + rng.IntN(1500),
				"2":  250 + rng.IntN(80),
				"3":  6 + rng.IntN(3),
				"4":  rng.IntN(101),
				"5":  0,
				"45": 8,
			}}
		}
		entries = append(entries, map[string]any{
			"Utc":  ts.Add(time.Duration(step) * 250 * time.Millisecond).Format(time.RFC3339Nano),
			"Cars": sample,
		})
	}
	return map[string]any{"Entries": entries}
}

// positionEntries places the cars around a circle, each lap advancing them
// a little.
func positionEntries(cars []entrant, lap int, ts time.Time) map[string]any {
	sample := map[string]any{}
	for i, c := range cars {
		angle := 2*math.Pi*float64(i)/float64(len(cars)) + float64(lap)/10
		sample[strconv.Itoa(c.number)] = map[string]any{
			"Status": "OnTrack",
			"X":      math.Round(3000 * math.Cos(angle)),
			"Y":      math.Round(3000 * math.Sin(angle)),
			"Z":      0,
		}
	}
	return map[string]any{"Position": []any{map[string]any{
		"Timestamp": ts.Format(time.RFC3339Nano),
		"Entries":   sample,
	}}}
}

func weather(rng *rand.Rand) map[string]any {
	return map[string]any{
		"AirTemp":       fmt.Sprintf("%.1f", 27+rng.Float64()*3),
		"TrackTemp":     fmt.Sprintf("%.1f", 42+rng.Float64()*6),
		"Humidity":      fmt.Sprintf("%.1f", 50+rng.Float64()*10),
		"Pressure":      "1016.2",
		"WindSpeed":     fmt.Sprintf("%.1f", rng.Float64()*4),
		"WindDirection": strconv.Itoa(rng.IntN(360)),
		"Rainfall":      "0",
	}
}

func lapTime(seconds float64) string {
	m := int(seconds) / 60
	return fmt.Sprintf("%d:%06.3f", m, seconds-float64(m*60))
}
