package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validatePostgres(cfg.Database.Postgres); err != nil {
		errors = append(errors, err)
	}

	if err := validateMail(cfg.Mail); err != nil {
		errors = append(errors, err)
	}

	if err := validateLLM(cfg.LLM); err != nil {
		errors = append(errors, err)
	}

	if err := validatePipeline(cfg.Pipeline); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "host is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "database name is required",
		}
	}

	return nil
}

func validateMail(cfg MailConfig) error {
	if cfg.IMAP.Address == "" {
		return &ValidationError{
			Field:   "mail.imap.address",
			Message: "IMAP server address is required",
		}
	}

	if cfg.SMTP.Address == "" {
		return &ValidationError{
			Field:   "mail.smtp.address",
			Message: "SMTP server address is required",
		}
	}

	if cfg.SMTP.From == "" {
		return &ValidationError{
			Field:   "mail.smtp.from",
			Message: "sender address is required",
		}
	}

	return nil
}

func validateLLM(cfg LLMConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "llm.base_url",
			Message: "base URL is required",
		}
	}

	if cfg.Model == "" {
		return &ValidationError{
			Field:   "llm.model",
			Message: "model is required",
		}
	}

	return nil
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.MaxConcurrency < 1 {
		return &ValidationError{
			Field:   "pipeline.max_concurrency",
			Message: fmt.Sprintf("max concurrency must be at least 1, got %d", cfg.MaxConcurrency),
		}
	}

	if cfg.Recruiter.NotifyAddress == "" {
		return &ValidationError{
			Field:   "pipeline.recruiter.notify_address",
			Message: "recruiter notify address is required",
		}
	}

	for _, route := range cfg.Routes {
		switch route.Category {
		case "recruiter", "concert", "transactional":
		default:
			return &ValidationError{
				Field:   "pipeline.routes",
				Message: fmt.Sprintf("route %q targets unknown category %q", route.Name, route.Category),
			}
		}
	}

	return nil
}
