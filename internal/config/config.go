package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type ParkingConfig struct {
	SlotCount          int
	SlotStrategy       string
	DebounceWindow     time.Duration
	EnforcePlateFormat bool
	EventRetentionDays int
	JanitorInterval    time.Duration
}

type GateConfig struct {
	SerialPort   string
	BaudRate     int
	HoldDuration time.Duration
}

type CameraConfig struct {
	ID       string
	HTTPHost string
}

type ALPRConfig struct {
	Command       string
	Stream        string
	Country       string
	MinConfidence float64
}

type ONVIFConfig struct {
	URL      string
	Username string
	Password string
}

type Config struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Parking     ParkingConfig
	Gate        GateConfig
	Camera      CameraConfig
	ALPR        ALPRConfig
	ONVIF       ONVIFConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.SetDefault("PLATE_ENFORCE_FORMAT", true)

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			Driver:          v.GetString("DB_DRIVER"),
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Parking: ParkingConfig{
			SlotCount:          v.GetInt("PARKING_SLOT_COUNT"),
			SlotStrategy:       v.GetString("PARKING_SLOT_STRATEGY"),
			DebounceWindow:     v.GetDuration("PLATE_DEBOUNCE_WINDOW"),
			EnforcePlateFormat: v.GetBool("PLATE_ENFORCE_FORMAT"),
			EventRetentionDays: v.GetInt("EVENT_RETENTION_DAYS"),
			JanitorInterval:    v.GetDuration("JANITOR_INTERVAL"),
		},
		Gate: GateConfig{
			SerialPort:   v.GetString("GATE_SERIAL_PORT"),
			BaudRate:     v.GetInt("GATE_BAUD_RATE"),
			HoldDuration: v.GetDuration("GATE_HOLD_DURATION"),
		},
		Camera: CameraConfig{
			ID:       v.GetString("CAMERA_ID"),
			HTTPHost: v.GetString("CAMERA_HTTP_HOST"),
		},
		ALPR: ALPRConfig{
			Command:       v.GetString("ALPR_COMMAND"),
			Stream:        v.GetString("ALPR_STREAM"),
			Country:       v.GetString("ALPR_COUNTRY"),
			MinConfidence: v.GetFloat64("ALPR_MIN_CONFIDENCE"),
		},
		ONVIF: ONVIFConfig{
			URL:      v.GetString("ONVIF_URL"),
			Username: v.GetString("ONVIF_USERNAME"),
			Password: v.GetString("ONVIF_PASSWORD"),
		},
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "sqlite"
	}
	if cfg.DB.DSN == "" && cfg.DB.Driver == "sqlite" {
		cfg.DB.DSN = "vehicles.db"
	}
	if cfg.Parking.SlotCount == 0 {
		cfg.Parking.SlotCount = 20
	}
	if cfg.Parking.SlotStrategy == "" {
		cfg.Parking.SlotStrategy = "first"
	}
	if cfg.Parking.DebounceWindow == 0 {
		cfg.Parking.DebounceWindow = 5 * time.Second
	}
	if cfg.Parking.EventRetentionDays == 0 {
		cfg.Parking.EventRetentionDays = 90
	}
	if cfg.Parking.JanitorInterval == 0 {
		cfg.Parking.JanitorInterval = time.Hour
	}
	if cfg.Gate.BaudRate == 0 {
		cfg.Gate.BaudRate = 9600
	}
	if cfg.Gate.HoldDuration == 0 {
		cfg.Gate.HoldDuration = 3 * time.Second
	}
	if cfg.Camera.ID == "" {
		cfg.Camera.ID = "entry-camera"
	}
	if cfg.ALPR.Country == "" {
		cfg.ALPR.Country = "in"
	}
}

func validate(cfg *Config) error {
	if cfg.DB.Driver != "sqlite" && cfg.DB.Driver != "postgres" {
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DB.Driver)
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Parking.SlotCount < 0 {
		return fmt.Errorf("PARKING_SLOT_COUNT must be positive")
	}
	if cfg.Parking.SlotStrategy != "first" && cfg.Parking.SlotStrategy != "random" {
		return fmt.Errorf("PARKING_SLOT_STRATEGY must be first or random, got %q", cfg.Parking.SlotStrategy)
	}
	if cfg.Parking.DebounceWindow < 0 {
		return fmt.Errorf("PLATE_DEBOUNCE_WINDOW must not be negative")
	}
	return nil
}
