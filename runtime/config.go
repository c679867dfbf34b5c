package runtime

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Package-level validator instance, shared by config preparation and
// workflow definition validation.
var validate *validator.Validate

func init() {
	validate = validator.New()
	registerCustomValidators()
}

// Config holds runtime settings. Defaults come from struct tags; values are
// overridden from the environment and validated before use.
type Config struct {
	Addr            string        `default:":8080" validate:"required,hostname_port"`
	WorkflowPath    string        `default:"flows/workflow.yaml" validate:"required"`
	ProviderTimeout time.Duration `default:"30s" validate:"gte=1s"`
	// UploadDir selects the on-disk upload store; empty keeps uploads in
	// memory.
	UploadDir string
	// DatabaseURL selects the Postgres session store; empty keeps sessions
	// in memory.
	DatabaseURL  string `validate:"omitempty,dsn"`
	OTLPEndpoint string
}

// LoadConfig applies defaults, merges environment overrides, and validates
// the final configuration.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to apply default values: %w", err)
	}

	if v := os.Getenv("STEPWEAVE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("STEPWEAVE_WORKFLOW"); v != "" {
		cfg.WorkflowPath = v
	}
	if v := os.Getenv("STEPWEAVE_UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("STEPWEAVE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("STEPWEAVE_PROVIDER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid STEPWEAVE_PROVIDER_TIMEOUT: %w", err)
		}
		cfg.ProviderTimeout = d
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(config any) error {
	if err := validate.Struct(config); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, fieldErr := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"field '%s' failed validation (rule: %s)",
					fieldErr.Field(),
					fieldErr.Tag(),
				))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errMessages, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func registerCustomValidators() {
	// hostname_port validates "host:port" format with a numeric port.
	// The host part may be empty (":8080" binds all interfaces).
	validate.RegisterValidation("hostname_port", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		_, port, err := net.SplitHostPort(addr)
		if err != nil || port == "" {
			return false
		}
		_, err = net.LookupPort("tcp", port)
		return err == nil
	})

	// dsn accepts either URL connection strings (postgres://...) or the
	// traditional user@host/db form.
	validate.RegisterValidation("dsn", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.Contains(s, "://") {
			_, err := url.Parse(s)
			return err == nil
		}
		return strings.Contains(s, "@") && strings.Contains(s, "/")
	})
}
