package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL          string
	NATSURL              string
	NATSSubject          string
	Tracking             Tracking
	TripsRefreshInterval time.Duration
	PublishInterval      time.Duration
	SpeedMultiplier      float64
	Location             *time.Location
	HTTPAddr             string
	MetricsAddr          string
	CORSOrigins          []string
	LogNATSSubjects      bool
}

// Tracking holds the live view heuristics. They can be overridden from the
// YAML file named by FLEET_CONFIG, then by individual environment variables.
type Tracking struct {
	FlushInterval    time.Duration `yaml:"flush_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	LateAfterMinutes int           `yaml:"late_after_minutes"`
	NearStartMeters  float64       `yaml:"near_start_meters"`
}

func DefaultTracking() Tracking {
	return Tracking{
		FlushInterval:    200 * time.Millisecond,
		StaleAfter:       30 * time.Second,
		LateAfterMinutes: 5,
		NearStartMeters:  800,
	}
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{Tracking: DefaultTracking()}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if db != "" {
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSSubject = strings.TrimSuffix(getenvDefault("NATS_SUBJECT", "buses.positions"), ".")

	if path := os.Getenv("FLEET_CONFIG"); path != "" {
		t, err := LoadTracking(path, cfg.Tracking)
		if err != nil {
			return nil, err
		}
		cfg.Tracking = t
	}

	var err error
	if cfg.Tracking.FlushInterval, err = millisEnv("FLUSH_INTERVAL_MS", cfg.Tracking.FlushInterval); err != nil {
		return nil, err
	}
	if cfg.Tracking.StaleAfter, err = millisEnv("STALE_AFTER_MS", cfg.Tracking.StaleAfter); err != nil {
		return nil, err
	}
	if v := os.Getenv("LATE_AFTER_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid LATE_AFTER_MINUTES: %q", v)
		}
		cfg.Tracking.LateAfterMinutes = n
	}
	if v := os.Getenv("NEAR_START_METERS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid NEAR_START_METERS: %q", v)
		}
		cfg.Tracking.NearStartMeters = f
	}

	// Trips refresh interval (seconds)
	if v := os.Getenv("TRIPS_REFRESH_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid TRIPS_REFRESH_INTERVAL_SEC: %q", v)
		}
		cfg.TripsRefreshInterval = time.Duration(sec) * time.Second
	} else {
		cfg.TripsRefreshInterval = 60 * time.Second
	}

	// Simulator publish interval
	if cfg.PublishInterval, err = millisEnv("PUBLISH_INTERVAL_MS", 3*time.Second); err != nil {
		return nil, err
	}

	// Speed multiplier
	if v := os.Getenv("SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SPEED_MULTIPLIER: %q", v)
		}
		cfg.SpeedMultiplier = f
	} else {
		cfg.SpeedMultiplier = 1.0
	}

	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	// Listen addresses. Empty disables the server.
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if _, set := os.LookupEnv("HTTP_ADDR"); !set {
		cfg.HTTPAddr = ":8080"
	}
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.CORSOrigins = splitList(getenvDefault("CORS_ORIGINS", "*"))

	// Time zone
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

	return cfg, nil
}

// RequireDatabase reports a configuration error when no DSN could be built.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("PGDATABASE or DATABASE_URL must be set")
	}
	return nil
}

// LoadTracking reads a YAML tracking file over base. Durations use Go syntax ("200ms", "30s").
func LoadTracking(path string, base Tracking) (Tracking, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read %s: %w", path, err)
	}
	var file struct {
		Tracking Tracking `yaml:"tracking"`
	}
	file.Tracking = base
	if err := yaml.Unmarshal(b, &file); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}
	t := file.Tracking
	if t.FlushInterval <= 0 || t.StaleAfter <= 0 || t.LateAfterMinutes < 0 || t.NearStartMeters < 0 {
		return base, fmt.Errorf("invalid tracking values in %s", path)
	}
	return t, nil
}

func millisEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
