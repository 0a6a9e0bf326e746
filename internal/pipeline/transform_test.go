package pipeline_test

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/livetiming"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTransformer(t *testing.T, format livetiming.LineFormat, topics ...string) *pipeline.TopicTransformer {
	t.Helper()
	tr, err := pipeline.NewTopicTransformer(format, topics, discardLogger())
	require.NoError(t, err)
	return tr
}

func TestTopicTransformer_WeatherEndToEnd(t *testing.T) {
	tr := newTransformer(t, livetiming.FormatLiteral)

	batch, stats := tr.ProcessBatch([]string{
		`["WeatherData", {"AirTemp":"23.5","Rainfall":"true"}, "2024-05-01T12:00:00Z"]`,
	})

	require.Len(t, batch.Weather, 1)
	w := batch.Weather[0]
	require.NotNil(t, w.AirTemp)
	require.NotNil(t, w.Rainfall)
	assert.InDelta(t, 23.5, *w.AirTemp, 1e-9)
	assert.InDelta(t, 1.0, *w.Rainfall, 1e-9)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), w.Timestamp)
	assert.Equal(t, time.UTC, w.Timestamp.Location())
	assert.Equal(t, 1, stats.Lines)
	assert.Equal(t, 1, stats.Events)
}

func TestTopicTransformer_CompressedCarData(t *testing.T) {
	payload, err := livetiming.Encode(map[string]any{
		"Entries": []any{
			map[string]any{
				"Utc": "2024-05-01T12:00:01.5Z",
				"Cars": map[string]any{
					"44": map[string]any{"Channels": map[string]any{
						"0": 11000, "2": 310, "3": 7, "4": 100, "5": 0, "45": 12,
					}},
				},
			},
		},
	})
	require.NoError(t, err)

	tr := newTransformer(t, livetiming.FormatLiteral)
	batch, stats := tr.ProcessBatch([]string{
		fmt.Sprintf("['CarData.z', '%s', '2024-05-01T12:00:02Z']", payload),
	})

	require.Len(t, batch.Telemetry, 1)
	s := batch.Telemetry[0]
	assert.Equal(t, 44, s.DriverNumber)
	assert.Equal(t, domain.SourceCarData, s.Source)
	require.NotNil(t, s.RPM)
	require.NotNil(t, s.Speed)
	require.NotNil(t, s.Gear)
	assert.Equal(t, 11000, *s.RPM)
	assert.Equal(t, 310, *s.Speed)
	assert.Equal(t, 7, *s.Gear)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 1, 500_000_000, time.UTC), s.Timestamp)
	assert.Zero(t, stats.DecodeErrors)
}

func TestTopicTransformer_DriverDedupLastWins(t *testing.T) {
	tr := newTransformer(t, livetiming.FormatLiteral)

	batch, _ := tr.ProcessBatch([]string{
		`['DriverList', {'44': {'FullName': 'Lewis HAMILTON', 'TeamName': 'Mercedes'}}, '2024-05-01T12:00:00Z']`,
		`['DriverList', {'1': {'FullName': 'Max VERSTAPPEN'}, '44': {'TeamName': 'Ferrari'}}, '2024-05-01T12:00:01Z']`,
	})

	require.Len(t, batch.Drivers, 2)
	assert.Equal(t, 44, batch.Drivers[0].DriverNumber)
	assert.Equal(t, 1, batch.Drivers[1].DriverNumber)
	assert.Equal(t, "Lewis HAMILTON", *batch.Drivers[0].Name)
	assert.Equal(t, "Ferrari", *batch.Drivers[0].Team)

	// A partial update in a later batch keeps the fields learned earlier.
	batch, _ = tr.ProcessBatch([]string{
		`['DriverList', {'44': {'Tla': 'HAM'}}, '2024-05-01T12:01:00Z']`,
	})
	require.Len(t, batch.Drivers, 1)
	d := batch.Drivers[0]
	assert.Equal(t, "Lewis HAMILTON", *d.Name)
	assert.Equal(t, "Ferrari", *d.Team)
	assert.Equal(t, "HAM", *d.ShortName)
}

func TestTopicTransformer_TimingOnlyDriverUpdateAfterRestart(t *testing.T) {
	// A fresh transformer has an empty driver cache, as after a restart.
	tr := newTransformer(t, livetiming.FormatLiteral)

	batch, stats := tr.ProcessBatch([]string{
		`['DriverList', {'44': {'Line': 3}, '1': {'Line': 1, 'Tla': 'VER'}}, '2024-05-01T12:00:00Z']`,
	})

	require.Len(t, batch.Drivers, 1)
	assert.Equal(t, 1, batch.Drivers[0].DriverNumber)
	assert.Equal(t, 1, stats.Skipped)
}

func TestTopicTransformer_LapAccumulatorAndSessionStamp(t *testing.T) {
	tr := newTransformer(t, livetiming.FormatLiteral)

	batch, stats := tr.ProcessBatch([]string{
		`['SessionInfo', {'Key': 9158, 'Name': 'Race', 'Type': 'Race'}, '2024-05-01T11:59:00Z']`,
		`['TimingData', {'Lines': {'44': {'NumberOfLaps': 12, 'LastLapTime': {'Value': '1:31.234'}, 'Position': '2'}}}, '2024-05-01T12:00:00Z']`,
		`['TimingAppData', {'44': {'Lines': [{'NumberOfLaps': 12, 'Sector1': '30.1', 'SpeedTrap': '312'}]}}, '2024-05-01T12:00:03Z']`,
	})

	assert.Equal(t, 3, stats.Events)
	require.Len(t, batch.Sessions, 1)
	assert.Equal(t, 9158, batch.Sessions[0].SessionKey)

	require.Len(t, batch.Laps, 1)
	lap := batch.Laps[0]
	assert.Equal(t, 44, lap.DriverNumber)
	assert.Equal(t, 12, lap.LapNumber)
	require.NotNil(t, lap.LapTime)
	require.NotNil(t, lap.Sector1)
	require.NotNil(t, lap.SpeedTrap)
	assert.InDelta(t, 91.234, *lap.LapTime, 1e-9)
	assert.InDelta(t, 30.1, *lap.Sector1, 1e-9)
	assert.Equal(t, 312, *lap.SpeedTrap)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 3, 0, time.UTC), lap.Timestamp)
	require.NotNil(t, lap.SessionKey)
	assert.Equal(t, 9158, *lap.SessionKey)

	require.Len(t, batch.Positions, 1)
	assert.Equal(t, 2, batch.Positions[0].Position)
	require.NotNil(t, batch.Positions[0].SessionKey)
	assert.Equal(t, 9158, *batch.Positions[0].SessionKey)
}

func TestTopicTransformer_MalformedLinesSkipped(t *testing.T) {
	tr := newTransformer(t, livetiming.FormatLiteral)

	batch, stats := tr.ProcessBatch([]string{
		"garbage [",
		"",
		"   ",
		`['WeatherData', {'AirTemp': 20}, '2024-05-01T12:00:00Z']`,
		`['CarData.z', '!!!not-base64', '2024-05-01T12:00:00Z']`,
		`['TeamRadio', {'Captures': []}, '2024-05-01T12:00:00Z']`,
	})

	assert.Equal(t, 4, stats.Lines)
	assert.Equal(t, 1, stats.ParseErrors)
	assert.Equal(t, 1, stats.DecodeErrors)
	assert.Equal(t, 1, stats.Ignored)
	assert.Equal(t, 1, stats.Events)
	assert.Len(t, batch.Weather, 1)
}

func TestTopicTransformer_TopicAllowList(t *testing.T) {
	tr := newTransformer(t, livetiming.FormatLiteral, "WeatherData")

	batch, stats := tr.ProcessBatch([]string{
		`['DriverList', {'44': {'FullName': 'Lewis HAMILTON'}}, '2024-05-01T12:00:00Z']`,
		`['WeatherData', {'AirTemp': 20}, '2024-05-01T12:00:00Z']`,
	})

	assert.Empty(t, batch.Drivers)
	assert.Len(t, batch.Weather, 1)
	assert.Equal(t, 1, stats.Ignored)
}

func TestTopicTransformer_TimestampFallback(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	tr := newTransformer(t, livetiming.FormatLiteral)
	batch, stats := tr.ProcessBatch([]string{
		`['WeatherData', {'AirTemp': 20}, 'not-a-time']`,
	})

	require.Len(t, batch.Weather, 1)
	assert.Equal(t, fake.Now(), batch.Weather[0].Timestamp)
	assert.Equal(t, 1, stats.TimestampFallbacks)
}

func TestTopicTransformer_JSONLines(t *testing.T) {
	tr := newTransformer(t, livetiming.FormatJSON)

	batch, stats := tr.ProcessBatch([]string{
		`{"topic":"WeatherData","data":{"AirTemp":23.5,"Rainfall":0},"timestamp":"2024-05-01T12:00:00Z"}`,
		`{"data":{}}`,
	})

	require.Len(t, batch.Weather, 1)
	assert.InDelta(t, 0.0, *batch.Weather[0].Rainfall, 1e-9)
	assert.Equal(t, 1, stats.ParseErrors)
}

func TestNewTopicTransformer_UnknownFormat(t *testing.T) {
	_, err := pipeline.NewTopicTransformer("xml", nil, discardLogger())
	assert.Error(t, err)
}
