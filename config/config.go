package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fluent.town/speechmatics"
)

const (
	KeySpeechmaticsAPIKey    = "speechmatics_api_key"
	KeySpeechmaticsMgmtURL   = "speechmatics_management_url"
	KeySpeechmaticsRTURL     = "speechmatics_rt_url"
	KeyEvaluationURL         = "evaluation_url"
	KeyLanguage              = "transcription_language"
	KeyOperatingPoint        = "operating_point"
	KeyMaxDelay              = "max_delay"
	KeyCaptureCommand        = "capture_command"
	KeyLogLevel              = "log_level"
	KeyHTTPPort              = "http_port"
	KeyEvaluationMaxRetries  = "evaluation_max_retries"
	KeySpeechmaticsKeyTTL    = "speechmatics_key_ttl"
	DefaultEvaluationBaseURL = "http://localhost:3000/api"
)

type Config struct {
	SpeechmaticsAPIKey   string
	SpeechmaticsMgmtURL  string
	SpeechmaticsRTURL    string
	SpeechmaticsKeyTTL   time.Duration
	EvaluationURL        string
	EvaluationMaxRetries int
	Language             string
	OperatingPoint       string
	MaxDelay             float64
	CaptureCommand       []string
	LogLevel             string
	HTTPPort             int
}

// Dir is where `fluent setup` writes its config file.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "fluent"), nil
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeySpeechmaticsMgmtURL, speechmatics.ManagementURL)
	v.SetDefault(KeySpeechmaticsRTURL, speechmatics.WebSocketBaseURL)
	v.SetDefault(KeySpeechmaticsKeyTTL, speechmatics.DefaultKeyTTL)
	v.SetDefault(KeyEvaluationURL, DefaultEvaluationBaseURL)
	v.SetDefault(KeyEvaluationMaxRetries, 2)
	v.SetDefault(KeyLanguage, "en")
	v.SetDefault(KeyOperatingPoint, string(speechmatics.OperatingPointEnhanced))
	v.SetDefault(KeyMaxDelay, 1.0)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyHTTPPort, 8081)
}

// Init points v at config.yaml in the working directory and the user's
// config dir, binds the environment and reads the file when there is one.
// A missing file is not an error.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func Load(v *viper.Viper) Config {
	return Config{
		SpeechmaticsAPIKey:   v.GetString(KeySpeechmaticsAPIKey),
		SpeechmaticsMgmtURL:  v.GetString(KeySpeechmaticsMgmtURL),
		SpeechmaticsRTURL:    v.GetString(KeySpeechmaticsRTURL),
		SpeechmaticsKeyTTL:   v.GetDuration(KeySpeechmaticsKeyTTL),
		EvaluationURL:        v.GetString(KeyEvaluationURL),
		EvaluationMaxRetries: v.GetInt(KeyEvaluationMaxRetries),
		Language:             v.GetString(KeyLanguage),
		OperatingPoint:       v.GetString(KeyOperatingPoint),
		MaxDelay:             v.GetFloat64(KeyMaxDelay),
		CaptureCommand:       captureCommand(v),
		LogLevel:             v.GetString(KeyLogLevel),
		HTTPPort:             v.GetInt(KeyHTTPPort),
	}
}

// captureCommand accepts either a YAML list or a single space separated
// string, the latter being what an environment variable provides.
func captureCommand(v *viper.Viper) []string {
	switch raw := v.Get(KeyCaptureCommand).(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(raw)
	default:
		return v.GetStringSlice(KeyCaptureCommand)
	}
}

// StartRecognition builds the session configuration from c.
func (c Config) StartRecognition(sampleRate int) speechmatics.StartRecognition {
	start := speechmatics.DefaultStartRecognition(sampleRate)
	if c.Language != "" {
		start.TranscriptionConfig.Language = c.Language
	}
	if c.OperatingPoint != "" {
		start.TranscriptionConfig.OperatingPoint = speechmatics.OperatingPoint(c.OperatingPoint)
	}
	if c.MaxDelay > 0 {
		start.TranscriptionConfig.MaxDelay = c.MaxDelay
	}
	return start
}

// SpeechmaticsClient returns a client for c's endpoints and API key.
func (c Config) SpeechmaticsClient() *speechmatics.Client {
	client := speechmatics.NewClient(c.SpeechmaticsAPIKey)
	if c.SpeechmaticsMgmtURL != "" {
		client.ManagementURL = c.SpeechmaticsMgmtURL
	}
	if c.SpeechmaticsRTURL != "" {
		client.RealtimeURL = c.SpeechmaticsRTURL
	}
	return client
}

// Save merges values into the config file at path, creating it and its
// directory when needed. Empty values are skipped.
func Save(path string, values map[string]string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
	for key, value := range values {
		if value == "" {
			continue
		}
		v.Set(key, value)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
