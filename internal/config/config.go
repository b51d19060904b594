// Package config reads process configuration from the environment.
//
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Server configures cmd/main.go.
type Server struct {
	Port               int           `validate:"gt=0,lte=65535"`
	RoutesFile         string        `validate:"omitempty,file"`
	StaleTimeout       time.Duration `validate:"gt=0"`
	ReapInterval       time.Duration `validate:"gt=0"`
	MongoURI           string        `validate:"omitempty,uri"`
	MongoDB            string        `validate:"required"`
	MQTTBrokerURL      string        `validate:"omitempty,uri"`
	MQTTTopicPrefix    string        `validate:"required"`
	RateLimitPerMinute int           `validate:"gte=0"`
	AllowedOrigin      string        `validate:"required"`
	Logging            Logging
}

// Simulator configures cmd/simulator.
type Simulator struct {
	ServerURL       string        `validate:"required,url"`
	Tick            time.Duration `validate:"gt=0"`
	BookingInterval time.Duration `validate:"gte=0"`
	Routes          []string
	Logging         Logging
}

// Viewer configures cmd/viewer.
type Viewer struct {
	ServerURL string `validate:"required,url"`
	RouteID   string `validate:"required"`
	FPS       int    `validate:"gt=0,lte=60"`
	Logging   Logging
}

// Logging selects the logrus level and formatter.
type Logging struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=text json"`
}

var validate = validator.New()

// LoadDotEnv loads .env if it exists.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Failed to load .env")
	}
}

// LoadServer reads and validates the server configuration.
func LoadServer(lookup LookupFunc) (Server, error) {
	e := env{lookup: lookup}
	cfg := Server{
		Port:               e.int("PORT", 5000),
		RoutesFile:         e.str("ROUTES_FILE", ""),
		StaleTimeout:       e.duration("STALE_TIMEOUT", 5*time.Minute),
		ReapInterval:       e.duration("REAP_INTERVAL", 5*time.Minute),
		MongoURI:           e.str("MONGO_URI", ""),
		MongoDB:            e.str("MONGO_DB", "vahan"),
		MQTTBrokerURL:      e.str("MQTT_BROKER_URL", ""),
		MQTTTopicPrefix:    e.str("MQTT_TOPIC_PREFIX", "vahan"),
		RateLimitPerMinute: e.int("RATE_LIMIT_PER_MINUTE", 120),
		AllowedOrigin:      e.str("ALLOWED_ORIGIN", "*"),
		Logging:            e.logging(),
	}
	return cfg, e.finish(cfg)
}

// LoadSimulator reads and validates the simulator configuration.
func LoadSimulator(lookup LookupFunc) (Simulator, error) {
	e := env{lookup: lookup}
	cfg := Simulator{
		ServerURL:       e.str("SERVER_URL", "http://localhost:5000"),
		Tick:            e.duration("SIM_TICK_SECONDS", time.Second),
		BookingInterval: e.duration("SIM_BOOKING_SECONDS", 6*time.Second),
		Routes:          e.list("SIM_ROUTES"),
		Logging:         e.logging(),
	}
	return cfg, e.finish(cfg)
}

// LoadViewer reads and validates the viewer configuration.
func LoadViewer(lookup LookupFunc) (Viewer, error) {
	e := env{lookup: lookup}
	cfg := Viewer{
		ServerURL: e.str("SERVER_URL", "http://localhost:5000"),
		RouteID:   e.str("VIEWER_ROUTE", "route_1"),
		FPS:       e.int("VIEWER_FPS", 10),
		Logging:   e.logging(),
	}
	return cfg, e.finish(cfg)
}

// SetupLogging applies the logging configuration to the standard logger.
func SetupLogging(l Logging) error {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if l.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// env collects parse errors so every bad variable is reported at once.
type env struct {
	lookup LookupFunc
	errs   []string
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

// duration accepts Go durations ("90s", "5m") or a bare number of seconds.
func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.str(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *env) logging() Logging {
	return Logging{
		Level:  strings.ToLower(e.str("LOG_LEVEL", "info")),
		Format: strings.ToLower(e.str("LOG_FORMAT", "text")),
	}
}

func (e *env) finish(cfg interface{}) error {
	if len(e.errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(e.errs, "; "))
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
