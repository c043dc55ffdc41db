package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("mail.imap.address", "MAIL_IMAP_ADDRESS")
	viper.BindEnv("mail.imap.username", "MAIL_IMAP_USERNAME")
	viper.BindEnv("mail.imap.password", "MAIL_IMAP_PASSWORD")
	viper.BindEnv("mail.smtp.address", "MAIL_SMTP_ADDRESS")
	viper.BindEnv("mail.smtp.username", "MAIL_SMTP_USERNAME")
	viper.BindEnv("mail.smtp.password", "MAIL_SMTP_PASSWORD")
	viper.BindEnv("mail.smtp.from", "MAIL_SMTP_FROM")

	viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	viper.BindEnv("llm.api_key", "LLM_API_KEY")
	viper.BindEnv("llm.model", "LLM_MODEL")

	viper.BindEnv("notes.api_key", "NOTES_API_KEY")
	viper.BindEnv("notes.collection_id", "NOTES_COLLECTION_ID")

	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("pipeline.language", "PIPELINE_LANGUAGE")
	viper.BindEnv("pipeline.prompts_dir", "PIPELINE_PROMPTS_DIR")
	viper.BindEnv("pipeline.deployment_env", "PIPELINE_DEPLOYMENT_ENV")
	viper.BindEnv("pipeline.ocr.enabled", "PIPELINE_OCR_ENABLED")
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.read_timeout_seconds", 15)
	viper.SetDefault("server.write_timeout_seconds", 15)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("mail.inbox", "INBOX")
	viper.SetDefault("mail.drafts_mailbox", "Drafts")

	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.request_timeout_seconds", 60)
	viper.SetDefault("llm.requests_per_minute", 30)
	viper.SetDefault("llm.burst", 5)

	// pipeline.language deliberately has no default: empty means detect
	// per message.
	viper.SetDefault("pipeline.deployment_env", "development")
	viper.SetDefault("pipeline.ocr.enabled", true)
	viper.SetDefault("pipeline.max_concurrency", 4)
	viper.SetDefault("pipeline.transactional.label", "Transactional")
	viper.SetDefault("pipeline.concert.notes_defer_seconds", 60)

	viper.SetDefault("deduplication.hash_algorithm", "sha256")
	viper.SetDefault("deduplication.cache_ttl_seconds", 86400)

	viper.SetDefault("database.migrations_dir", "migrations")
}
