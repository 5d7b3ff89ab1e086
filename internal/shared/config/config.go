package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	CheckpointStore string

	LLMProvider  string
	LLMModel     string
	LLMBaseURL   string
	OpenAIAPIKey string
	MockRevises  int

	RetrievalBackend string
	JournalDir       string
	RetrievalK       int

	Persona       string
	DocumentTitle string
	QueueURL      string
	MaxDriveSteps int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		CORSAllowOrigin:  splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:              env,
		DatabaseURL:      dbURL,
		ObjectStoreType:  normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:    getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:        getEnv("AWS_REGION", ""),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Prefix:         getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:      getEnv("SSE_KMS_KEY_ID", ""),
		LLMProvider:      normalizeChoice(getEnv("LLM_PROVIDER", "mock"), "mock", "openai"),
		LLMModel:         getEnv("LLM_MODEL", ""),
		LLMBaseURL:       getEnv("LLM_BASE_URL", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		MockRevises:      getEnvInt("LLM_MOCK_REVISE_ROUNDS", 1),
		RetrievalBackend: normalizeChoice(getEnv("RETRIEVAL_BACKEND", "journal"), "journal", "postgres", "none"),
		JournalDir:       getEnv("JOURNAL_DIR", ""),
		RetrievalK:       getEnvInt("RETRIEVAL_K", 3),
		Persona:          getEnv("THESIS_PERSONA", ""),
		DocumentTitle:    getEnv("THESIS_TITLE", ""),
		QueueURL:         getEnv("TH_SQS_QUEUE_URL", ""),
		MaxDriveSteps:    getEnvInt("RUN_MAX_DRIVE_STEPS", 200),
	}
	cfg.CheckpointStore = normalizeChoice(getEnv("CHECKPOINT_STORE", defaultCheckpointStore(cfg)), "memory", "postgres", "object")
	return cfg
}

// IsProduction reports whether the config targets production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func defaultCheckpointStore(cfg Config) string {
	if cfg.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		log.Printf("config: %s=%q is not a non-negative int; using %d", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

// normalizeChoice lowercases raw and falls back to the first allowed value.
func normalizeChoice(raw string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	if v != "" {
		log.Printf("config: unsupported value %q; using %q", raw, allowed[0])
	}
	return allowed[0]
}
