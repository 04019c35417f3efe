package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ryansname/batteryapp/src/databroker"
	"github.com/ryansname/batteryapp/src/dispatch"
	"github.com/spf13/pflag"
)

// Store backends selectable with SIGNAL_STORE / --store
const (
	StoreMemory = "memory"
	StoreNATS   = "nats"
)

// Config holds process settings from .env, the environment and flags
type Config struct {
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string
	TopicPrefix  string

	Store       string
	NATSURL     string
	NATSBucket  string
	NATSTimeout time.Duration
	SignalsFile string

	MetricsAddr string
	MaxInFlight int
	Debug       bool
}

// loadConfig parses flags, loads the .env file they point at and reads the
// environment. Flags win over environment variables.
func loadConfig(args []string) (Config, error) {
	flags := pflag.NewFlagSet("batteryapp", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "dotenv file to load before reading the environment")
	signalsFile := flags.String("signals", "", "YAML file with extra signals and routes")
	store := flags.String("store", "", "signal store backend: memory or nats")
	debug := flags.Bool("debug", false, "start the interactive debug console")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: Error loading %s file: %v\n", *envFile, err)
	}

	cfg := Config{
		MQTTBroker:   envOr("MQTT_BROKER", "localhost:1883"),
		MQTTUsername: os.Getenv("MQTT_USERNAME"),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),
		MQTTClientID: envOr("MQTT_CLIENT_ID", "batteryapp"),
		TopicPrefix:  envOr("TOPIC_PREFIX", dispatch.DefaultPrefix),
		Store:        envOr("SIGNAL_STORE", StoreMemory),
		NATSURL:      envOr("NATS_URL", "nats://localhost:4222"),
		NATSBucket:   envOr("NATS_BUCKET", "vehicle_signals"),
		SignalsFile:  os.Getenv("SIGNALS_FILE"),
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
		Debug:        *debug,
	}

	var err error
	if cfg.NATSTimeout, err = envDuration("NATS_TIMEOUT", databroker.DefaultNATSTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxInFlight, err = envInt("MAX_IN_FLIGHT", 32); err != nil {
		return Config{}, err
	}

	if flags.Changed("signals") {
		cfg.SignalsFile = *signalsFile
	}
	if flags.Changed("store") {
		cfg.Store = *store
	}

	switch cfg.Store {
	case StoreMemory, StoreNATS:
	default:
		return Config{}, fmt.Errorf("unknown signal store %q (want %s or %s)", cfg.Store, StoreMemory, StoreNATS)
	}
	if cfg.MaxInFlight < 1 {
		return Config{}, fmt.Errorf("MAX_IN_FLIGHT must be at least 1, got %d", cfg.MaxInFlight)
	}
	if (cfg.MQTTUsername == "") != (cfg.MQTTPassword == "") {
		return Config{}, fmt.Errorf("MQTT_USERNAME and MQTT_PASSWORD must be set together")
	}

	return cfg, nil
}

// mqttBrokerURL turns "host" or "host:port" into a paho broker URL
func mqttBrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if !strings.Contains(broker, ":") {
		broker += ":1883"
	}
	return "tcp://" + broker
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
