package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultTopics are recorded by the live-timing client when F1_TOPICS is unset.
var DefaultTopics = []string{
	"TimingData",
	"RaceControlMessages",
	"DriverRaceInfo",
	"TimingAppData",
	"Position.z",
	"WeatherData",
	"DriverList",
	"SessionInfo",
	"TeamRadio",
	"CarData.z",
	"PitLaneTimeCollection",
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Event log.
	DataFile          string
	LineFormat        string
	Topics            []string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	// Live-timing client subprocess. An empty command runs tail-only.
	ExtractorCommand     []string
	ExtractorTimeout     time.Duration
	ExtractorStopTimeout time.Duration

	// Store.
	DatabaseURL           string
	DBMaxConns            int32
	StoreSchema           string
	HostedSessionID       int
	InsertChunkSize       int
	LegacyBooleanRainfall bool
	CreateTables          bool

	// Optional record sink; disabled when KafkaBrokers is empty.
	KafkaBrokers   []string
	KafkaSinkTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	// ShutdownTimeout bounds the HTTP server shutdown. The pipeline drain is
	// bounded by ExtractorStopTimeout and the load timeout instead.
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	pollInterval, err := parseDuration("POLL_INTERVAL", "100ms")
	if err != nil {
		return nil, err
	}
	heartbeat, err := parseDuration("HEARTBEAT_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}
	extractorTimeout, err := parseDuration("F1_TIMEOUT", "10800")
	if err != nil {
		return nil, err
	}
	stopTimeout, err := parseDuration("EXTRACTOR_STOP_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	maxConns, err := parsePositiveInt("DB_MAX_CONNS", 4)
	if err != nil {
		return nil, err
	}
	chunkSize, err := parsePositiveInt("INSERT_CHUNK_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	sessionID := 0
	if v := os.Getenv("HOSTED_SESSION_ID"); v != "" {
		sessionID, err = strconv.Atoi(v)
		if err != nil || sessionID <= 0 {
			return nil, errors.New("invalid HOSTED_SESSION_ID")
		}
	}

	cfg := &Config{
		DataFile:          sharedcfg.EnvOrDefault("F1_DATA_FILE", "f1_data.txt"),
		LineFormat:        sharedcfg.EnvOrDefault("LINE_FORMAT", "literal"),
		Topics:            parseList(os.Getenv("F1_TOPICS"), DefaultTopics),
		PollInterval:      pollInterval,
		HeartbeatInterval: heartbeat,

		ExtractorCommand:     strings.Fields(sharedcfg.EnvOrDefault("EXTRACTOR_COMMAND", "python -m fastf1_livetiming save")),
		ExtractorTimeout:     extractorTimeout,
		ExtractorStopTimeout: stopTimeout,

		DatabaseURL:           databaseURL(),
		DBMaxConns:            int32(maxConns),
		StoreSchema:           sharedcfg.EnvOrDefault("STORE_SCHEMA", "direct"),
		HostedSessionID:       sessionID,
		InsertChunkSize:       chunkSize,
		LegacyBooleanRainfall: os.Getenv("LEGACY_BOOLEAN_RAINFALL") == "true",
		CreateTables:          os.Getenv("STORE_CREATE_TABLES") == "true",

		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "f1-timing-records"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}
	// "none" disables the subprocess without unsetting the variable.
	if len(cfg.ExtractorCommand) == 1 && cfg.ExtractorCommand[0] == "none" {
		cfg.ExtractorCommand = nil
	}

	if cfg.DataFile == "" {
		return nil, errors.New("F1_DATA_FILE is required")
	}
	if cfg.LineFormat != "literal" && cfg.LineFormat != "json" {
		return nil, fmt.Errorf("invalid LINE_FORMAT %q: want literal or json", cfg.LineFormat)
	}
	if cfg.StoreSchema != "direct" && cfg.StoreSchema != "hosted" {
		return nil, fmt.Errorf("invalid STORE_SCHEMA %q: want direct or hosted", cfg.StoreSchema)
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// databaseURL returns DATABASE_URL, or builds one from the DB_* variables.
func databaseURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	u := url.URL{
		Scheme: "postgres",
		User: url.UserPassword(
			sharedcfg.EnvOrDefault("DB_USER", "postgres"),
			os.Getenv("DB_PASSWORD"),
		),
		Host: sharedcfg.EnvOrDefault("DB_HOST", "localhost") + ":" + sharedcfg.EnvOrDefault("DB_PORT", "5432"),
		Path: "/" + sharedcfg.EnvOrDefault("DB_NAME", "f1"),
	}
	q := url.Values{}
	q.Set("sslmode", sharedcfg.EnvOrDefault("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

// parseDuration reads a positive duration. Bare integers are seconds.
func parseDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("invalid %s", key)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseList(s string, def []string) []string {
	if strings.TrimSpace(s) == "" {
		return append([]string(nil), def...)
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
