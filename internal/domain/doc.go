// Package domain models Formula 1 live-timing records and the rules that map
// raw feed events onto them.
//
// # Feed Events
//
// The live-timing client appends one event per line: a topic name, a payload
// and an ISO-8601 timestamp. Payloads for the high-rate topics (CarData.z,
// Position.z) arrive base64-encoded and raw-DEFLATE compressed; decoding is
// handled by the livetiming adapter before a payload reaches this package.
//
// # Topics
//
//	DriverList           driver number → name, team, colour, TLA
//	SessionInfo          session key, meeting, circuit, start date
//	TimingData           last lap time, sectors, best speed, running position
//	TimingAppData        per-lap lines (and stints) completing lap records
//	Position.z           driver → x, y, z track coordinates
//	CarData.z            driver → speed, rpm, gear, throttle, brake, drs
//	RaceControlMessages  flags, penalties, track limits
//	WeatherData          air/track temperature, humidity, wind, rainfall
//
// Each topic has one [TopicHandler]; handlers are pure and report dropped
// entries through [Output.Skipped] instead of failing.
//
// # Value Conventions
//
// Feed values are loosely typed: numbers often arrive as strings, timing
// values may be wrapped as {"Value": "1:31.234"}. Coercion never fails; an
// empty or unparsable value becomes nil, meaning unknown, and is never
// replaced by a guessed default. The exceptions are the z coordinate, which
// defaults to 0, and rainfall, which is normalized to 1.0 (rain) or 0.0 (dry).
//
// Lap and sector times are seconds. "M:SS.fff" strings are converted
// ("1:31.234" → 91.234).
//
// Timestamps are normalized to UTC. An unparsable event timestamp falls back
// to the package clock's "now", and the fallback is reported to the caller.
//
// # Car Channels
//
// The compressed car stream identifies channels by number:
//
//	0 rpm | 2 speed | 3 gear | 4 throttle | 5 brake | 45 drs
package domain
