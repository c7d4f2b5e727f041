package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Feed is one schedule dataset to load. Source is a local directory, a
// gs://bucket/prefix location or a postgres:// DSN. A feed naming a City is
// read from the newest imported database for that city.
type Feed struct {
	Name    string `yaml:"name" validate:"required"`
	Source  string `yaml:"source" validate:"required_without=City"`
	TimeGap int    `yaml:"time_gap" validate:"gte=0"`
	City    string `yaml:"city"`
}

type feedsFile struct {
	Feeds []Feed `yaml:"feeds"`
}

type Config struct {
	Feeds             []Feed  `validate:"required,min=1,dive"`
	JoinTimeThreshold float64 `validate:"gt=0"`
	DatabaseURL       string

	ServerPort        int    `validate:"min=1,max=65535"`
	ServerPassword    string `validate:"required"`
	ServerName        string `validate:"required"`
	ServerWorkers     int    `validate:"min=1"`
	ServerReadTimeout time.Duration
	PacketOK          string `validate:"required"`
	PacketBad         string `validate:"required"`

	CoordBufferSize      int     `validate:"min=2"`
	ClosenessMeters      float64 `validate:"gt=0"`
	StopWindowMargin     int     `validate:"gte=0"`
	StopWindowRefresh    time.Duration
	VehicleTimeout       time.Duration
	VehicleSweepInterval time.Duration
	MaxVehicles          int `validate:"gte=0,lte=65536"`

	DronesActive        bool
	DroneSpeedMph       float64 `validate:"gt=0"`
	DroneUpdateInterval time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	MetricsAddr       string
	APIAddr           string

	Location  *time.Location
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=console json"`
	LogFile   string
}

// ServerAddr is the ingestion listen address.
func (c *Config) ServerAddr() string {
	return ":" + strconv.Itoa(c.ServerPort)
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	gap, err := intEnv("GTFS_TIME_GAP", 0, 0)
	if err != nil {
		return nil, err
	}
	if path := os.Getenv("FEEDS_FILE"); path != "" {
		cfg.Feeds, err = readFeedsFile(path, gap)
		if err != nil {
			return nil, err
		}
	} else {
		cfg.Feeds = feedsFromList(os.Getenv("GTFS_DIRS"), gap)
	}

	if cfg.JoinTimeThreshold, err = floatEnv("JOIN_TIME_THRESHOLD", 0.00025); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL, err = databaseURL(); err != nil {
		return nil, err
	}

	if cfg.ServerPort, err = intEnv("SERVER_PORT", 8080, 1); err != nil {
		return nil, err
	}
	cfg.ServerPassword = os.Getenv("SERVER_PASSWORD")
	cfg.ServerName = getenvDefault("SERVER_NAME", "transit-tracker")
	if cfg.ServerWorkers, err = intEnv("SERVER_WORKERS", 64, 1); err != nil {
		return nil, err
	}
	if cfg.ServerReadTimeout, err = durationEnv("SERVER_READ_TIMEOUT_MS", 10000, time.Millisecond); err != nil {
		return nil, err
	}
	cfg.PacketOK = getenvDefault("PACKET_OK", "OK")
	cfg.PacketBad = getenvDefault("PACKET_BAD", "BAD")

	if cfg.CoordBufferSize, err = intEnv("COORD_BUFFER_SIZE", 10, 2); err != nil {
		return nil, err
	}
	if cfg.ClosenessMeters, err = floatEnv("CLOSENESS_THRESHOLD", 50); err != nil {
		return nil, err
	}
	if cfg.StopWindowMargin, err = intEnv("STOP_WINDOW_MARGIN", 15, 0); err != nil {
		return nil, err
	}
	if cfg.StopWindowRefresh, err = durationEnv("STOP_WINDOW_REFRESH_SEC", 60, time.Second); err != nil {
		return nil, err
	}
	if cfg.VehicleTimeout, err = durationEnv("VEHICLE_LIST_TIMEOUT", 300, time.Second); err != nil {
		return nil, err
	}
	if cfg.VehicleSweepInterval, err = durationEnv("VEHICLE_SWEEP_INTERVAL_MS", 1000, time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.MaxVehicles, err = intEnv("MAX_VEHICLES", 0, 0); err != nil {
		return nil, err
	}

	cfg.DronesActive = boolEnv("DRONES_ACTIVE")
	if cfg.DroneSpeedMph, err = floatEnv("DRONE_SPEED", 35); err != nil {
		return nil, err
	}
	if v := os.Getenv("DRONE_UPDATE_SPEED"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid DRONE_UPDATE_SPEED: %q", v)
		}
		cfg.DroneUpdateInterval = time.Duration(f * float64(time.Second))
	} else {
		cfg.DroneUpdateInterval = time.Second
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "vehicles")
	cfg.LogNATSSubjects = boolEnv("LOG_NATS_SUBJECTS")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.APIAddr = os.Getenv("API_ADDR")

	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "console"))
	cfg.LogFile = os.Getenv("LOG_FILE")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports the first offending field by
// its environment name.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.StructField() == "ServerPassword" {
		return errors.New("SERVER_PASSWORD must be set")
	}
	if fe.StructField() == "Feeds" && fe.Tag() != "dive" {
		return errors.New("no feeds configured: set GTFS_DIRS or FEEDS_FILE")
	}
	return fmt.Errorf("invalid %s: %q", fieldEnv(fe.Namespace()), fmt.Sprint(fe.Value()))
}

var envNames = map[string]string{
	"JoinTimeThreshold": "JOIN_TIME_THRESHOLD",
	"ServerPort":        "SERVER_PORT",
	"ServerName":        "SERVER_NAME",
	"ServerWorkers":     "SERVER_WORKERS",
	"PacketOK":          "PACKET_OK",
	"PacketBad":         "PACKET_BAD",
	"CoordBufferSize":   "COORD_BUFFER_SIZE",
	"ClosenessMeters":   "CLOSENESS_THRESHOLD",
	"StopWindowMargin":  "STOP_WINDOW_MARGIN",
	"MaxVehicles":       "MAX_VEHICLES",
	"DroneSpeedMph":     "DRONE_SPEED",
	"LogLevel":          "LOG_LEVEL",
	"LogFormat":         "LOG_FORMAT",
}

func fieldEnv(namespace string) string {
	// Config.Feeds[1].Source -> feeds[1].source
	ns := strings.TrimPrefix(namespace, "Config.")
	if name, ok := envNames[ns]; ok {
		return name
	}
	return strings.ToLower(ns)
}

func readFeedsFile(path string, defaultGap int) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read FEEDS_FILE: %w", err)
	}
	var ff feedsFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse FEEDS_FILE %s: %w", path, err)
	}
	for i := range ff.Feeds {
		if ff.Feeds[i].TimeGap == 0 {
			ff.Feeds[i].TimeGap = defaultGap
		}
		if ff.Feeds[i].Name == "" {
			ff.Feeds[i].Name = feedName(ff.Feeds[i].Source)
		}
	}
	return ff.Feeds, nil
}

func feedsFromList(list string, gap int) []Feed {
	var feeds []Feed
	for _, src := range strings.Split(list, ",") {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		feeds = append(feeds, Feed{Name: feedName(src), Source: src, TimeGap: gap})
	}
	return feeds
}

// feedName derives a display name from a source location.
func feedName(src string) string {
	if strings.HasPrefix(src, "postgres://") || strings.HasPrefix(src, "postgresql://") {
		if i := strings.LastIndex(src, "/"); i >= 0 {
			name := src[i+1:]
			if j := strings.IndexByte(name, '?'); j >= 0 {
				name = name[:j]
			}
			if name != "" {
				return name
			}
		}
		return "postgres"
	}
	return filepath.Base(strings.TrimRight(src, "/"))
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from the PG*
// variables when PGDATABASE is set. It is only required by feeds naming a
// city without a source.
func databaseURL() (string, error) {
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn != "" {
		return dsn, nil
	}
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PGPORT: %q", port)
	}
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func intEnv(key string, def, min int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func durationEnv(key string, def int, unit time.Duration) (time.Duration, error) {
	n, err := intEnv(key, def, 1)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
