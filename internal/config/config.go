package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr              string
	GRPCAddr              string
	APIBaseURL            string
	APITimeout            time.Duration
	OfficeLatitude        float64
	OfficeLongitude       float64
	OfficeRadiusMeters    float64
	OfficeTimezone        string
	OvertimeCutoff        string
	LocationTimeout       time.Duration
	StatusRefreshInterval time.Duration
	StatusRefreshTimeout  time.Duration
	SuccessDismissDelay   time.Duration
	MarkerStore           string
	MarkerFile            string
	MarkerTTL             time.Duration
	RedisAddr             string
	RedisPassword         string
	DatabaseURL           string
	ServiceAuthToken      string
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment take precedence over .env.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:              getenv("HTTP_ADDR", ":8085"),
		GRPCAddr:              getenv("GRPC_ADDR", ":9095"),
		APIBaseURL:            strings.TrimRight(getenv("API_BASE_URL", "https://vireworkplace-backend-hpca.onrender.com/api/v1"), "/"),
		APITimeout:            getenvDuration("API_TIMEOUT", 30*time.Second),
		OfficeLatitude:        getenvFloat("OFFICE_LATITUDE", 5.767477),
		OfficeLongitude:       getenvFloat("OFFICE_LONGITUDE", -0.180019),
		OfficeRadiusMeters:    getenvFloat("OFFICE_RADIUS_METERS", 50),
		OfficeTimezone:        getenv("OFFICE_TIMEZONE", "Africa/Accra"),
		OvertimeCutoff:        getenv("OVERTIME_CUTOFF", "17:00"),
		LocationTimeout:       getenvDuration("LOCATION_TIMEOUT", 15*time.Second),
		StatusRefreshInterval: getenvDuration("STATUS_REFRESH_INTERVAL", 30*time.Second),
		StatusRefreshTimeout:  getenvDuration("STATUS_REFRESH_TIMEOUT", 10*time.Second),
		SuccessDismissDelay:   getenvDuration("SUCCESS_DISMISS_DELAY", 2*time.Second),
		MarkerStore:           strings.ToLower(getenv("MARKER_STORE", "memory")),
		MarkerFile:            getenv("MARKER_FILE", "attendance-markers.json"),
		MarkerTTL:             getenvDuration("MARKER_TTL", 72*time.Hour),
		RedisAddr:             getenv("REDIS_ADDR", ""),
		RedisPassword:         getenv("REDIS_PASSWORD", ""),
		DatabaseURL:           getenv("DATABASE_URL", ""),
		ServiceAuthToken:      getenv("SERVICE_AUTH_TOKEN", ""),
	}
}

// OfficeLocation resolves OfficeTimezone, falling back to UTC when the
// zone database is unavailable or the name is unknown.
func (c Config) OfficeLocation() *time.Location {
	loc, err := time.LoadLocation(c.OfficeTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CutoffClock parses OvertimeCutoff ("HH:MM") into hour and minute.
// Malformed values fall back to 17:00.
func (c Config) CutoffClock() (int, int) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(c.OvertimeCutoff))
	if err != nil {
		return 17, 0
	}
	return parsed.Hour(), parsed.Minute()
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}
