package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/livetiming"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedFeedTransforms(t *testing.T) {
	for _, format := range []livetiming.LineFormat{livetiming.FormatLiteral, livetiming.FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			opts := options{
				format:     format,
				laps:       2,
				drivers:    3,
				sessionKey: 9158,
				start:      time.Date(2024, 5, 5, 20, 0, 0, 0, time.UTC),
				seed:       7,
			}

			var lines []string
			err := generate(opts, func(topic string, data any, ts time.Time) error {
				line, err := livetiming.FormatLine(format, topic, data, ts)
				lines = append(lines, line)
				return err
			})
			require.NoError(t, err)

			tr, err := pipeline.NewTopicTransformer(format, nil, slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			batch, stats := tr.ProcessBatch(lines)

			assert.Zero(t, stats.ParseErrors)
			assert.Zero(t, stats.DecodeErrors)
			assert.Zero(t, stats.TimestampFallbacks)
			require.Len(t, batch.Sessions, 1)
			assert.Equal(t, 9158, batch.Sessions[0].SessionKey)
			assert.Len(t, batch.Drivers, 3)
			assert.Len(t, batch.RaceControl, 1)
			assert.Len(t, batch.Weather, 1)
			assert.Len(t, batch.Positions, 6)

			require.Len(t, batch.Laps, 6)
			for _, lap := range batch.Laps {
				assert.NotNil(t, lap.LapTime)
				assert.NotNil(t, lap.Sector1)
				assert.NotNil(t, lap.Sector3)
				assert.NotNil(t, lap.SpeedTrap)
				require.NotNil(t, lap.SessionKey)
				assert.Equal(t, 9158, *lap.SessionKey)
			}

			var car, spatial int
			for _, s := range batch.Telemetry {
				switch s.Source {
				case domain.SourceCarData:
					car++
				case domain.SourcePosition:
					spatial++
				}
			}
			assert.Equal(t, 2*4*3, car)
			assert.Equal(t, 2*3, spatial)
		})
	}
}

func TestLapTime(t *testing.T) {
	assert.Equal(t, "1:31.234", lapTime(91.234))
	assert.Equal(t, "1:09.500", lapTime(69.5))
}
