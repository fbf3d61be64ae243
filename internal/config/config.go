package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all classroom server environment
// variables.
const EnvPrefix = "CLASSROOM_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr        string `yaml:"listen_addr"`
	DBPath            string `yaml:"db_path"`
	StaticDir         string `yaml:"static_dir"`
	DefaultIntervalMS int64  `yaml:"default_interval_ms"`

	// STTProvider selects the speech-to-text vendor: "elevenlabs" or
	// "deepgram".
	STTProvider string `yaml:"stt_provider"`
	STTModel    string `yaml:"stt_model"`

	// SummaryModel is a provider/model pair, e.g.
	// "anthropic/claude-3-haiku-20240307".
	SummaryModel string `yaml:"summary_model"`

	// Audio buffering caps per connection between ticks.
	AudioMaxChunks int `yaml:"audio_max_chunks"`
	AudioMaxBytes  int `yaml:"audio_max_bytes"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	ElevenLabsAPIKey string `yaml:"-"`
	DeepgramAPIKey   string `yaml:"-"`
	AnthropicAPIKey  string `yaml:"-"`
	OpenAIAPIKey     string `yaml:"-"`
	GeminiAPIKey     string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		DBPath:                "data/classroom.db",
		StaticDir:             "public",
		DefaultIntervalMS:     30_000,
		STTProvider:           "elevenlabs",
		STTModel:              "",
		SummaryModel:          "anthropic/claude-3-haiku-20240307",
		AudioMaxChunks:        512,
		AudioMaxBytes:         8 << 20,
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv(EnvPrefix + "DEFAULT_INTERVAL_MS"); v != "" {
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && ms > 0 {
			cfg.DefaultIntervalMS = ms
		}
	}
	if v := os.Getenv(EnvPrefix + "STT_PROVIDER"); v != "" {
		cfg.STTProvider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvPrefix + "STT_MODEL"); v != "" {
		cfg.STTModel = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_MODEL"); v != "" {
		cfg.SummaryModel = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_MAX_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.AudioMaxChunks = n
		}
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.AudioMaxBytes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.ElevenLabsAPIKey = os.Getenv(EnvPrefix + "ELEVENLABS_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	switch cfg.STTProvider {
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" {
			warnings = append(warnings, "ElevenLabs API key not configured — transcription will fail. Set "+EnvPrefix+"ELEVENLABS_API_KEY.")
		}
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, "Deepgram API key not configured — transcription will fail. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown stt_provider %q — falling back to elevenlabs.", cfg.STTProvider))
		cfg.STTProvider = "elevenlabs"
	}

	provider, _, ok := strings.Cut(cfg.SummaryModel, "/")
	if !ok {
		warnings = append(warnings, fmt.Sprintf("Invalid summary_model %q — expected provider/model.", cfg.SummaryModel))
	} else if cfg.SummaryAPIKey(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("No API key configured for summary provider %q — summaries will fail.", provider))
	}

	if cfg.DefaultIntervalMS < 5_000 {
		warnings = append(warnings, fmt.Sprintf("default_interval_ms %d is very aggressive — using 5000.", cfg.DefaultIntervalMS))
		cfg.DefaultIntervalMS = 5_000
	}

	return warnings
}

// SummaryAPIKey returns the secret for a summary provider name.
func (c *Config) SummaryAPIKey(provider string) string {
	switch provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	}
	return ""
}
