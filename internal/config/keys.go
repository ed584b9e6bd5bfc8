package config

import (
	"fmt"
	"os"
	"strconv"
)

// secretService is the secret store service name for all kbchat secrets.
const secretService = "kbchat"

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "KBCHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "KBCHAT_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "llm.base_url", typ: kString, env: "KBCHAT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "KBCHAT_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.model", typ: kString, env: "KBCHAT_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "KBCHAT_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.system_prompt", typ: kString, env: "KBCHAT_LLM_SYSTEM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.LLM.SystemPrompt = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.SystemPrompt },
	},
	{
		key: "embed.backend", typ: kString, env: "KBCHAT_EMBED_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Embed.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Backend },
	},
	{
		key: "embed.model", typ: kString, env: "KBCHAT_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embed.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Model },
	},
	{
		key: "ollama.base_url", typ: kString, env: "KBCHAT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "KBCHAT_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "source.kind", typ: kString, env: "KBCHAT_SOURCE_KIND",
		apply:   func(cfg *Config, v any) { cfg.Source.Kind = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.Kind },
	},
	{
		key: "source.local_dir", typ: kString, env: "KBCHAT_SOURCE_LOCAL_DIR",
		apply:   func(cfg *Config, v any) { cfg.Source.LocalDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.LocalDir },
	},
	{
		key: "source.local_ignore", typ: kString, env: "KBCHAT_SOURCE_LOCAL_IGNORE",
		apply:   func(cfg *Config, v any) { cfg.Source.LocalIgnore = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.LocalIgnore },
	},
	{
		key: "source.drive_folder_id", typ: kString, env: "KBCHAT_SOURCE_DRIVE_FOLDER_ID",
		apply:   func(cfg *Config, v any) { cfg.Source.DriveFolderID = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.DriveFolderID },
	},
	{
		key: "source.drive_credentials_file", typ: kString, env: "KBCHAT_SOURCE_DRIVE_CREDENTIALS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Source.DriveCredentialsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.DriveCredentialsFile },
	},
	{
		key: "source.drive_service_account", typ: kString, env: "KBCHAT_GOOGLE_SERVICE_ACCOUNT",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Source.DriveServiceAccount = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.DriveServiceAccount },
	},
	{
		key: "source.drive_chunk_size", typ: kInt, env: "KBCHAT_SOURCE_DRIVE_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Source.DriveChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Source.DriveChunkSize },
	},
	{
		key: "ingest.skip_failures", typ: kBool, env: "KBCHAT_INGEST_SKIP_FAILURES",
		apply:   func(cfg *Config, v any) { cfg.Ingest.SkipFailures = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ingest.SkipFailures },
	},
	{
		key: "index.backend", typ: kString, env: "KBCHAT_INDEX_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Index.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Backend },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "KBCHAT_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.chunk_sentences", typ: kInt, env: "KBCHAT_RETRIEVAL_CHUNK_SENTENCES",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkSentences = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkSentences },
	},
	{
		key: "chat.greeting", typ: kString, env: "KBCHAT_CHAT_GREETING",
		apply:   func(cfg *Config, v any) { cfg.Chat.Greeting = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Greeting },
	},
	{
		key: "chat.max_context_tokens", typ: kInt, env: "KBCHAT_CHAT_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxContextTokens },
	},
	{
		key: "storage.data_dir", typ: kString, env: "KBCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "api.token", typ: kString, env: "KBCHAT_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "log.level", typ: kString, env: "KBCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
