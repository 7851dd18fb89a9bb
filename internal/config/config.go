package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/withings-auth/withings"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all environment-based configuration for withings-auth.
type Config struct {
	// Withings application credentials.
	ClientID     string `env:"WITHINGS_CLIENT_ID"`
	ClientSecret string `env:"WITHINGS_CLIENT_SECRET"`
	RedirectURI  string `env:"WITHINGS_REDIRECT_URI" envDefault:"http://localhost:8080/callback"`
	Scope        string `env:"WITHINGS_SCOPE" envDefault:"user.info,user.metrics,user.activity"`

	// Provider endpoints. The token host has appeared as both
	// wbsapi.withings.com and wbsapi.withings.net; .net is current.
	AuthURL  string `env:"WITHINGS_AUTH_URL" envDefault:"https://account.withings.com/oauth2_user/authorize2"`
	TokenURL string `env:"WITHINGS_TOKEN_URL" envDefault:"https://wbsapi.withings.net/v2/oauth2"`

	// HTTPTimeout bounds a single token request.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// Service flags for the serve command. At least one must be true.
	EnableCallback bool   `env:"ENABLE_CALLBACK" envDefault:"true"`
	EnableMCP      bool   `env:"ENABLE_MCP" envDefault:"false"`
	ListenAddr     string `env:"LISTEN_ADDR" envDefault:":8080"`

	// APIKeys guards /mcp. Format: "name1:bcrypt-hash1,name2:bcrypt-hash2".
	APIKeys string `env:"API_KEYS"`

	// StateDB defaults to ~/.withings-auth/state.db.
	StateDB string `env:"STATE_DB"`

	// GlobalVariablesFile is an optional YAML or JSON file holding the
	// global variables credential. It is watched for changes.
	GlobalVariablesFile string `env:"GLOBAL_VARIABLES_FILE"`

	// Batch behavior for node execution.
	ContinueOnFail   bool `env:"CONTINUE_ON_FAIL" envDefault:"false"`
	BatchConcurrency int  `env:"BATCH_CONCURRENCY" envDefault:"4"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the client secret to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StateDB == "" {
		path, err := DefaultStateDB()
		if err != nil {
			return nil, err
		}

		cfg.StateDB = path
	}

	if cfg.GlobalVariablesFile != "" {
		abs, err := filepath.Abs(cfg.GlobalVariablesFile)
		if err != nil {
			return nil, fmt.Errorf("resolving global variables file: %w", err)
		}

		cfg.GlobalVariablesFile = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !withings.ValidEndpoint(c.AuthURL) {
		return fmt.Errorf("WITHINGS_AUTH_URL must be an absolute http(s) URL")
	}

	if !withings.ValidEndpoint(c.TokenURL) {
		return fmt.Errorf("WITHINGS_TOKEN_URL must be an absolute http(s) URL")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}

	if _, err := c.ParseAPIKeys(); err != nil {
		return fmt.Errorf("API_KEYS: %w", err)
	}

	return nil
}

// ValidateService checks the settings the serve command needs on top of
// what Load already validated.
func (c *Config) ValidateService() error {
	if !c.EnableCallback && !c.EnableMCP {
		return fmt.Errorf("at least one of ENABLE_CALLBACK or ENABLE_MCP must be true")
	}

	if c.EnableCallback {
		if c.ClientID == "" {
			return fmt.Errorf("WITHINGS_CLIENT_ID is required when the callback server is enabled")
		}

		if c.ClientSecret == "" {
			return fmt.Errorf("WITHINGS_CLIENT_SECRET is required when the callback server is enabled")
		}

		if !withings.ValidEndpoint(c.RedirectURI) {
			return fmt.Errorf("WITHINGS_REDIRECT_URI must be an absolute http(s) URL")
		}
	}

	if c.EnableMCP && strings.TrimSpace(c.APIKeys) == "" {
		return fmt.Errorf("API_KEYS is required when MCP is enabled")
	}

	return nil
}

// Scopes returns WITHINGS_SCOPE split on commas or spaces.
func (c *Config) Scopes() []string {
	return withings.SplitScopes(c.Scope)
}

// NewClient builds a Withings client from the endpoint and timeout
// settings.
func (c *Config) NewClient(opts ...withings.Option) *withings.Client {
	transport := withings.NewHTTPTransport(withings.NewHTTPClient(c.HTTPTimeout))

	base := []withings.Option{
		withings.WithTransport(transport),
		withings.WithTokenURL(c.TokenURL),
		withings.WithAuthorizationURL(c.AuthURL),
	}

	return withings.NewClient(append(base, opts...)...)
}

// DefaultStateDB returns ~/.withings-auth/state.db.
func DefaultStateDB() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".withings-auth", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// APIKeyEntry is a named bcrypt hash of an API key parsed from API_KEYS.
type APIKeyEntry struct {
	Name string
	Hash string
}

// ParseAPIKeys parses the API_KEYS string.
// Format: "name1:hash1,name2:hash2" where each hash is produced by the
// hash-key command.
func (c *Config) ParseAPIKeys() ([]APIKeyEntry, error) {
	if strings.TrimSpace(c.APIKeys) == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var entries []APIKeyEntry

	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		name := pair[:idx]

		hash := pair[idx+1:]
		if name == "" || hash == "" {
			return nil, fmt.Errorf("empty name or hash in entry %d", len(entries)+1)
		}

		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("entry %d is not a bcrypt hash: %w", len(entries)+1, err)
		}

		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate name %q", name)
		}

		seen[name] = struct{}{}
		entries = append(entries, APIKeyEntry{Name: name, Hash: hash})
	}

	return entries, nil
}
