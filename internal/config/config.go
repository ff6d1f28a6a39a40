package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all tunable parameters of the sync agent. Every key can be
// set from the environment (same name, upper case) or from an optional
// config file named by CARPOOL_CONFIG.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BackendURL     string
	BackendTimeout time.Duration

	RidePollInterval           time.Duration
	RequestPollInterval        time.Duration
	DriverNotificationInterval time.Duration
	RiderNotificationInterval  time.Duration
	EarningsInterval           time.Duration
	NearbyInterval             time.Duration
	RiderRideInterval          time.Duration
	AllowOverlappingPolls      bool

	NotificationWindow int
	NearbyRadiusKm     float64

	BaseFareRupees     float64
	PerKmRupees        float64
	FallbackDistanceKm float64

	StateDir string

	RedisAddr     string
	RedisPassword string
	RedisSeenTTL  time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	AMQPURL      string
	AMQPExchange string

	PGDSN         string
	RunMigrations bool

	StripeAPIKey    string
	PaymentCurrency string

	WSAllowedOrigins []string

	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"HTTP_ADDR":                 "127.0.0.1:7070",
	"HTTP_READ_TIMEOUT":         "5s",
	"HTTP_WRITE_TIMEOUT":        "10s",
	"HTTP_IDLE_TIMEOUT":         "120s",
	"HTTP_SHUTDOWN_TIMEOUT":     "15s",
	"API_BASE_URL":              "http://localhost:8080",
	"API_TIMEOUT":               "10s",
	"POLL_RIDE_INTERVAL":        "3s",
	"POLL_REQUEST_INTERVAL":     "3s",
	"POLL_DRIVER_NOTIFICATIONS": "10s",
	"POLL_RIDER_NOTIFICATIONS":  "15s",
	"POLL_EARNINGS_INTERVAL":    "10s",
	"POLL_NEARBY_INTERVAL":      "10s",
	"POLL_RIDER_RIDE_INTERVAL":  "3s",
	"POLL_ALLOW_OVERLAP":        false,
	"NOTIFICATION_WINDOW":       10,
	"NEARBY_RADIUS_KM":          5.0,
	"FARE_BASE_RUPEES":          50.0,
	"FARE_PER_KM_RUPEES":        10.0,
	"FARE_FALLBACK_DISTANCE_KM": 5.0,
	"STATE_DIR":                 ".carpool",
	"REDIS_SEEN_TTL":            "12h",
	"KAFKA_TOPIC":               "carpool-view-events",
	"AMQP_EXCHANGE":             "carpool.events",
	"PAYMENT_CURRENCY":          "inr",
	"LOG_LEVEL":                 "info",
	"LOG_FORMAT":                "json",
}

// Load reads configuration from the environment and, when CARPOOL_CONFIG is
// set, from that file first.
func Load() (Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (Config, error) {
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	var errs []error
	if path := strings.TrimSpace(v.GetString("CARPOOL_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			errs = append(errs, fmt.Errorf("read config %s: %w", path, err))
		}
	}

	cfg := Config{
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		ReadTimeout:     duration(v, "HTTP_READ_TIMEOUT", &errs),
		WriteTimeout:    duration(v, "HTTP_WRITE_TIMEOUT", &errs),
		IdleTimeout:     duration(v, "HTTP_IDLE_TIMEOUT", &errs),
		ShutdownTimeout: duration(v, "HTTP_SHUTDOWN_TIMEOUT", &errs),

		BackendURL:     strings.TrimRight(strings.TrimSpace(v.GetString("API_BASE_URL")), "/"),
		BackendTimeout: duration(v, "API_TIMEOUT", &errs),

		RidePollInterval:           duration(v, "POLL_RIDE_INTERVAL", &errs),
		RequestPollInterval:        duration(v, "POLL_REQUEST_INTERVAL", &errs),
		DriverNotificationInterval: duration(v, "POLL_DRIVER_NOTIFICATIONS", &errs),
		RiderNotificationInterval:  duration(v, "POLL_RIDER_NOTIFICATIONS", &errs),
		EarningsInterval:           duration(v, "POLL_EARNINGS_INTERVAL", &errs),
		NearbyInterval:             duration(v, "POLL_NEARBY_INTERVAL", &errs),
		RiderRideInterval:          duration(v, "POLL_RIDER_RIDE_INTERVAL", &errs),
		AllowOverlappingPolls:      v.GetBool("POLL_ALLOW_OVERLAP"),

		NotificationWindow: v.GetInt("NOTIFICATION_WINDOW"),
		NearbyRadiusKm:     v.GetFloat64("NEARBY_RADIUS_KM"),

		BaseFareRupees:     v.GetFloat64("FARE_BASE_RUPEES"),
		PerKmRupees:        v.GetFloat64("FARE_PER_KM_RUPEES"),
		FallbackDistanceKm: v.GetFloat64("FARE_FALLBACK_DISTANCE_KM"),

		StateDir: v.GetString("STATE_DIR"),

		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisSeenTTL:  duration(v, "REDIS_SEEN_TTL", &errs),

		KafkaBrokers: splitAndTrim(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),
		AMQPURL:      strings.TrimSpace(v.GetString("AMQP_URL")),
		AMQPExchange: v.GetString("AMQP_EXCHANGE"),

		PGDSN:         v.GetString("PG_DSN"),
		RunMigrations: v.GetBool("MIGRATE"),

		StripeAPIKey:    v.GetString("STRIPE_API_KEY"),
		PaymentCurrency: strings.ToLower(v.GetString("PAYMENT_CURRENCY")),

		WSAllowedOrigins: splitAndTrim(v.GetString("WS_ALLOWED_ORIGINS")),

		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c Config) validate() []error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("API_BASE_URL must be set"))
	}
	intervals := map[string]time.Duration{
		"POLL_RIDE_INTERVAL":        c.RidePollInterval,
		"POLL_REQUEST_INTERVAL":     c.RequestPollInterval,
		"POLL_DRIVER_NOTIFICATIONS": c.DriverNotificationInterval,
		"POLL_RIDER_NOTIFICATIONS":  c.RiderNotificationInterval,
		"POLL_EARNINGS_INTERVAL":    c.EarningsInterval,
		"POLL_NEARBY_INTERVAL":      c.NearbyInterval,
		"POLL_RIDER_RIDE_INTERVAL":  c.RiderRideInterval,
	}
	for k, d := range intervals {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", k))
		}
	}
	if c.NotificationWindow <= 0 {
		errs = append(errs, errors.New("NOTIFICATION_WINDOW must be > 0"))
	}
	if c.FallbackDistanceKm < 0 || c.BaseFareRupees < 0 || c.PerKmRupees < 0 {
		errs = append(errs, errors.New("fare settings must not be negative"))
	}
	return errs
}

func duration(v *viper.Viper, key string, errs *[]error) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return 0
	}
	return d
}

func splitAndTrim(v string) []string {
	if v == "" {
		return nil
	}
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
