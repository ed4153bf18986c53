package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type CaptureConfig struct {
	Mode                string  `yaml:"mode"` // mock, exec
	Command             string  `yaml:"command"`
	FacingMode          string  `yaml:"facing_mode"`
	Width               int     `yaml:"width"`
	Height              int     `yaml:"height"`
	TargetFPS           float64 `yaml:"target_fps"`
	FirstFrameTimeoutMS int     `yaml:"first_frame_timeout_ms"`
}

type ClassifierConfig struct {
	Mode           string `yaml:"mode"` // mock, exec, remote
	Command        string `yaml:"command"`
	Endpoint       string `yaml:"endpoint"`
	ModelURL       string `yaml:"model_url"`
	MetadataURL    string `yaml:"metadata_url"`
	FetchTimeoutMS int    `yaml:"fetch_timeout_ms"`
	TopK           int    `yaml:"top_k"`
}

type NarrationConfig struct {
	Mode       string  `yaml:"mode"` // mock, exec, off
	Command    string  `yaml:"command"`
	Voice      string  `yaml:"voice"`
	Rate       float64 `yaml:"rate"`
	Pitch      float64 `yaml:"pitch"`
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
}

type ScanConfig struct {
	IntervalMS int     `yaml:"interval_ms"`
	Threshold  float64 `yaml:"threshold"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Catalog     CatalogConfig    `yaml:"catalog"`
	Capture     CaptureConfig    `yaml:"capture"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Narration   NarrationConfig  `yaml:"narration"`
	Scan        ScanConfig       `yaml:"scan"`
	Journal     JournalConfig    `yaml:"journal"`
}

func Default() Config {
	return Config{
		RuntimeName: "virsa-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Catalog: CatalogConfig{
			Path: "",
		},
		Capture: CaptureConfig{
			Mode:                "mock",
			FacingMode:          "environment",
			Width:               1280,
			Height:              720,
			TargetFPS:           15,
			FirstFrameTimeoutMS: 10000,
		},
		Classifier: ClassifierConfig{
			Mode:           "mock",
			ModelURL:       "https://models.virsa.dev/heritage/model.json",
			MetadataURL:    "https://models.virsa.dev/heritage/metadata.json",
			FetchTimeoutMS: 15000,
			TopK:           5,
		},
		Narration: NarrationConfig{
			Mode:       "mock",
			Voice:      "en-US",
			Rate:       0.9,
			Pitch:      1.0,
			SampleRate: 22050,
			Channels:   1,
		},
		Scan: ScanConfig{
			IntervalMS: 2000,
			Threshold:  0.7,
		},
		Journal: JournalConfig{
			Path:          "./data/virsa-journal.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VIRSA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VIRSA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VIRSA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VIRSA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VIRSA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VIRSA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VIRSA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VIRSA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VIRSA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VIRSA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VIRSA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VIRSA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VIRSA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VIRSA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VIRSA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VIRSA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VIRSA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Catalog.Path, "VIRSA_CATALOG_PATH")
	overrideString(&cfg.Capture.Mode, "VIRSA_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "VIRSA_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.FacingMode, "VIRSA_CAPTURE_FACING_MODE")
	overrideInt(&cfg.Capture.Width, "VIRSA_CAPTURE_WIDTH")
	overrideInt(&cfg.Capture.Height, "VIRSA_CAPTURE_HEIGHT")
	overrideFloat(&cfg.Capture.TargetFPS, "VIRSA_CAPTURE_TARGET_FPS")
	overrideInt(&cfg.Capture.FirstFrameTimeoutMS, "VIRSA_CAPTURE_FIRST_FRAME_TIMEOUT_MS")
	overrideString(&cfg.Classifier.Mode, "VIRSA_CLASSIFIER_MODE")
	overrideString(&cfg.Classifier.Command, "VIRSA_CLASSIFIER_COMMAND")
	overrideString(&cfg.Classifier.Endpoint, "VIRSA_CLASSIFIER_ENDPOINT")
	overrideString(&cfg.Classifier.ModelURL, "VIRSA_CLASSIFIER_MODEL_URL")
	overrideString(&cfg.Classifier.MetadataURL, "VIRSA_CLASSIFIER_METADATA_URL")
	overrideInt(&cfg.Classifier.FetchTimeoutMS, "VIRSA_CLASSIFIER_FETCH_TIMEOUT_MS")
	overrideInt(&cfg.Classifier.TopK, "VIRSA_CLASSIFIER_TOP_K")
	overrideString(&cfg.Narration.Mode, "VIRSA_NARRATION_MODE")
	overrideString(&cfg.Narration.Command, "VIRSA_NARRATION_COMMAND")
	overrideString(&cfg.Narration.Voice, "VIRSA_NARRATION_VOICE")
	overrideFloat(&cfg.Narration.Rate, "VIRSA_NARRATION_RATE")
	overrideFloat(&cfg.Narration.Pitch, "VIRSA_NARRATION_PITCH")
	overrideInt(&cfg.Narration.SampleRate, "VIRSA_NARRATION_SAMPLE_RATE")
	overrideInt(&cfg.Narration.Channels, "VIRSA_NARRATION_CHANNELS")
	overrideInt(&cfg.Scan.IntervalMS, "VIRSA_SCAN_INTERVAL_MS")
	overrideFloat(&cfg.Scan.Threshold, "VIRSA_SCAN_THRESHOLD")
	overrideString(&cfg.Journal.Path, "VIRSA_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "VIRSA_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "VIRSA_JOURNAL_RETENTION_DAYS")
	overrideBool(&cfg.Journal.VacuumOnStart, "VIRSA_JOURNAL_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Mode {
	case "mock", "exec":
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
		return errors.New("capture.command must be set when mode=exec")
	}
	if cfg.Capture.Width <= 0 || cfg.Capture.Height <= 0 {
		return errors.New("capture.width and capture.height must be positive")
	}
	if cfg.Capture.FirstFrameTimeoutMS <= 0 {
		return errors.New("capture.first_frame_timeout_ms must be positive")
	}
	switch cfg.Classifier.Mode {
	case "mock", "exec", "remote":
	default:
		return errors.New("classifier.mode must be one of mock|exec|remote")
	}
	if cfg.Classifier.Mode == "exec" && cfg.Classifier.Command == "" {
		return errors.New("classifier.command must be set when mode=exec")
	}
	if cfg.Classifier.Mode == "remote" && cfg.Classifier.Endpoint == "" {
		return errors.New("classifier.endpoint must be set when mode=remote")
	}
	if cfg.Classifier.TopK <= 0 {
		return errors.New("classifier.top_k must be >= 1")
	}
	switch cfg.Narration.Mode {
	case "mock", "exec", "off":
	default:
		return errors.New("narration.mode must be one of mock|exec|off")
	}
	if cfg.Narration.Mode == "exec" && cfg.Narration.Command == "" {
		return errors.New("narration.command must be set when mode=exec")
	}
	if cfg.Narration.Mode != "off" {
		if cfg.Narration.SampleRate <= 0 {
			return errors.New("narration.sample_rate must be positive")
		}
		if cfg.Narration.Channels <= 0 {
			return errors.New("narration.channels must be positive")
		}
		if cfg.Narration.Rate <= 0 {
			return errors.New("narration.rate must be positive")
		}
		if cfg.Narration.Pitch <= 0 {
			return errors.New("narration.pitch must be positive")
		}
	}
	if cfg.Scan.IntervalMS <= 0 {
		return errors.New("scan.interval_ms must be positive")
	}
	if cfg.Scan.Threshold < 0 || cfg.Scan.Threshold >= 1 {
		return errors.New("scan.threshold must be in [0,1)")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionMode != "ephemeral" && cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	return nil
}
