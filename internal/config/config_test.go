package config

import (
	"errors"
	"strconv"
	"testing"
)

type memBackend struct {
	data map[string]string
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string]string)}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, true, err
}

func (m *memBackend) SetString(key, val string) error {
	m.data[key] = val
	return nil
}

func (m *memBackend) SetInt(key string, val int) error {
	m.data[key] = strconv.Itoa(val)
	return nil
}

func (m *memBackend) Delete(key string) error {
	delete(m.data, key)
	return nil
}

type mapKeychain map[string]string

func (k mapKeychain) Get(service, account string) (string, error) {
	if service != secretService {
		return "", errors.New("wrong service")
	}
	v, ok := k[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend(), mapKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q, want gpt-4o-mini", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("LLM.Temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.Retrieval.TopK != 2 {
		t.Errorf("Retrieval.TopK = %d, want 2", cfg.Retrieval.TopK)
	}
	if cfg.Source.DriveChunkSize != 1<<20 {
		t.Errorf("Source.DriveChunkSize = %d, want %d", cfg.Source.DriveChunkSize, 1<<20)
	}
	if cfg.Ingest.SkipFailures {
		t.Error("Ingest.SkipFailures should default to false")
	}
	if cfg.Chat.Greeting == "" {
		t.Error("Chat.Greeting should have a default")
	}
}

func TestLoadBackendValues(t *testing.T) {
	b := newMemBackend()
	b.data["llm.model"] = "gpt-4o"
	b.data["server.port"] = "9090"
	b.data["ingest.skip_failures"] = "true"
	b.data["llm.temperature"] = "0.7"

	cfg, err := loadWith(b, mapKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("LLM.Model = %q, want gpt-4o", cfg.LLM.Model)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Ingest.SkipFailures {
		t.Error("Ingest.SkipFailures = false, want true")
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v, want 0.7", cfg.LLM.Temperature)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	b := newMemBackend()
	b.data["retrieval.top_k"] = "4"
	t.Setenv("KBCHAT_RETRIEVAL_TOP_K", "6")
	t.Setenv("KBCHAT_SOURCE_KIND", "drive")

	cfg, err := loadWith(b, mapKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Retrieval.TopK != 6 {
		t.Errorf("Retrieval.TopK = %d, want 6", cfg.Retrieval.TopK)
	}
	if cfg.Source.Kind != "drive" {
		t.Errorf("Source.Kind = %q, want drive", cfg.Source.Kind)
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("KBCHAT_SERVER_PORT", "not-a-number")
	t.Setenv("KBCHAT_LLM_TEMPERATURE", "warm")

	cfg, err := loadWith(newMemBackend(), mapKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("LLM.Temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
}

func TestSecretsPrecedence(t *testing.T) {
	kc := mapKeychain{"llm.api_key": "from-store", "api.token": "tok"}

	cfg, err := loadWith(newMemBackend(), kc)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.LLM.APIKey != "from-store" {
		t.Errorf("LLM.APIKey = %q, want from-store", cfg.LLM.APIKey)
	}
	if cfg.API.Token != "tok" {
		t.Errorf("API.Token = %q, want tok", cfg.API.Token)
	}

	t.Setenv("KBCHAT_OPENAI_API_KEY", "from-env")
	cfg, err = loadWith(newMemBackend(), kc)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("LLM.APIKey = %q, want from-env", cfg.LLM.APIKey)
	}
}

func TestSecretsNotReadFromBackend(t *testing.T) {
	b := newMemBackend()
	b.data["llm.api_key"] = "leaked"

	cfg, err := loadWith(b, mapKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

func TestValidate(t *testing.T) {
	valid := defaults()
	valid.LLM.APIKey = "sk-test"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid local", func(*Config) {}, false},
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }, true},
		{"bad embed backend", func(c *Config) { c.Embed.Backend = "cohere" }, true},
		{"bad index backend", func(c *Config) { c.Index.Backend = "faiss" }, true},
		{"bad source kind", func(c *Config) { c.Source.Kind = "s3" }, true},
		{"drive without folder", func(c *Config) {
			c.Source.Kind = "drive"
			c.Source.DriveServiceAccount = "{}"
		}, true},
		{"drive without credentials", func(c *Config) {
			c.Source.Kind = "drive"
			c.Source.DriveFolderID = "folder"
		}, true},
		{"drive complete", func(c *Config) {
			c.Source.Kind = "drive"
			c.Source.DriveFolderID = "folder"
			c.Source.DriveCredentialsFile = "/tmp/sa.json"
		}, false},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIgnorePatterns(t *testing.T) {
	sc := SourceConfig{LocalIgnore: " drafts/**, *.tmp ,,"}
	got := sc.IgnorePatterns()
	if len(got) != 2 || got[0] != "drafts/**" || got[1] != "*.tmp" {
		t.Errorf("IgnorePatterns() = %q", got)
	}
	if (SourceConfig{}).IgnorePatterns() != nil {
		t.Error("empty LocalIgnore should yield nil")
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKeyWith(b, "retrieval.top_k", "5"); err != nil {
		t.Fatalf("setKeyWith int: %v", err)
	}
	if b.data["retrieval.top_k"] != "5" {
		t.Errorf("stored top_k = %q, want 5", b.data["retrieval.top_k"])
	}
	if err := setKeyWith(b, "retrieval.top_k", "five"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := setKeyWith(b, "ingest.skip_failures", "yes"); err == nil {
		t.Error("expected error for non-bool value")
	}
	if err := setKeyWith(b, "llm.temperature", "0.5"); err != nil {
		t.Errorf("setKeyWith float: %v", err)
	}
	if err := setKeyWith(b, "llm.api_key", "sk"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "sk-secret"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "llm.api_key" || ki.Value == "sk-secret" {
			t.Errorf("ShowAll exposed secret key %s", ki.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Errorf("ValidKeys and ShowAll disagree: %d vs %d", len(ValidKeys()), len(ShowAll(cfg)))
	}
}
