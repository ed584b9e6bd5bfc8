package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Embed     EmbedConfig
	Ollama    OllamaConfig
	Source    SourceConfig
	Ingest    IngestConfig
	Index     IndexConfig
	Retrieval RetrievalConfig
	Chat      ChatConfig
	Storage   StorageConfig
	API       APIConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type LLMConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	SystemPrompt string
}

type EmbedConfig struct {
	// Backend is "openai" (hosted, same key as the LLM) or "ollama".
	Backend string
	Model   string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type SourceConfig struct {
	// Kind is "local" or "drive".
	Kind                 string
	LocalDir             string
	LocalIgnore          string
	DriveFolderID        string
	DriveCredentialsFile string
	DriveServiceAccount  string
	DriveChunkSize       int
}

type IngestConfig struct {
	SkipFailures bool
}

type IndexConfig struct {
	// Backend is "chromem" or "sqlite".
	Backend string
}

type RetrievalConfig struct {
	TopK           int
	ChunkSentences int
}

type ChatConfig struct {
	Greeting         string
	MaxContextTokens int
}

type StorageConfig struct {
	DataDir string
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

const defaultSystemPrompt = "You are an expert on the knowledge base. Keep answers technical and factual."

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     8080,
			MaxConns: 64,
		},
		LLM: LLMConfig{
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-4o-mini",
			Temperature:  0.2,
			SystemPrompt: defaultSystemPrompt,
		},
		Embed: EmbedConfig{
			Backend: "openai",
			Model:   "text-embedding-3-small",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Source: SourceConfig{
			Kind:           "local",
			LocalDir:       "./data",
			DriveChunkSize: 1 << 20,
		},
		Index: IndexConfig{
			Backend: "chromem",
		},
		Retrieval: RetrievalConfig{
			TopK:           2,
			ChunkSentences: 8,
		},
		Chat: ChatConfig{
			Greeting:         "Ask me a question about the knowledge base",
			MaxContextTokens: 3000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store, then validates it.
//
// On macOS the backend is UserDefaults (domain: com.kbchat.app) and secrets
// fall back to the macOS Keychain (service: kbchat).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/kbchat/config.json
// and secrets fall back to $XDG_DATA_HOME/kbchat/secrets.json.
//
// Environment variables (KBCHAT_*) override backend values on all platforms.
func Load() (Config, error) {
	cfg, err := loadWith(newPlatformBackend(), keychainReader{})
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadUnchecked is Load without validation. Used by commands that only
// display or edit configuration.
func LoadUnchecked() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	return cfg, nil
}

// applySecrets fills secret keys still empty after env overrides from the
// platform secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if val, err := kc.Get(secretService, s.key); err == nil && val != "" {
			s.apply(cfg, val)
		}
	}
}

// Validate checks the settings required to build the index and answer.
func (c Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("missing required config: LLM API key. "+
			"Set it via environment variable KBCHAT_OPENAI_API_KEY%s", apiKeyHint())
	}

	switch c.Embed.Backend {
	case "openai", "ollama":
	default:
		return fmt.Errorf("invalid embed.backend %q: want openai or ollama", c.Embed.Backend)
	}

	switch c.Index.Backend {
	case "chromem", "sqlite":
	default:
		return fmt.Errorf("invalid index.backend %q: want chromem or sqlite", c.Index.Backend)
	}

	switch c.Source.Kind {
	case "local":
		if c.Source.LocalDir == "" {
			return fmt.Errorf("missing required config: source.local_dir")
		}
	case "drive":
		if c.Source.DriveFolderID == "" {
			return fmt.Errorf("missing required config: source.drive_folder_id")
		}
		if c.Source.DriveServiceAccount == "" && c.Source.DriveCredentialsFile == "" {
			return fmt.Errorf("missing Google service account: set KBCHAT_GOOGLE_SERVICE_ACCOUNT or source.drive_credentials_file")
		}
	default:
		return fmt.Errorf("invalid source.kind %q: want local or drive", c.Source.Kind)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	return nil
}

// IgnorePatterns splits source.local_ignore into trimmed glob patterns.
func (c SourceConfig) IgnorePatterns() []string {
	if strings.TrimSpace(c.LocalIgnore) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(c.LocalIgnore, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// keychainReader reads secrets from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
