package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/recommend"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values
const (
	EnvGithubToken       = "ARGH_GITHUB_TOKEN"
	EnvAppID             = "ARGH_APP_ID"
	EnvAppInstallationID = "ARGH_APP_INSTALLATION_ID"
	EnvAppPrivateKeyPath = "ARGH_APP_PRIVATE_KEY_PATH"
	EnvDatabaseDriver    = "ARGH_DATABASE_DRIVER"
	EnvDatabaseDSN       = "ARGH_DATABASE_DSN"
	EnvLogLevel          = "ARGH_LOG_LEVEL"
	EnvListenAddr        = "ARGH_LISTEN_ADDR"
)

// Defaults for unset fields
const (
	DefaultDatabaseDriver  = "sqlite3"
	DefaultDatabasePath    = "argh.db"
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultClosedLookback  = 72 * time.Hour
	DefaultStallInterval   = 14 * 24 * time.Hour
	DefaultEnrichmentQueue = 256
)

// Configuration errors that stop the process at startup
var (
	ErrMissingCredentials = errors.New("no GitHub credentials configured: set github_token or github_app")
	ErrMissingDatabase    = errors.New("no database configured")
)

// Duration is a time.Duration written as a string such as "72h"
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"72h\": %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// GitHubApp holds GitHub App installation credentials
type GitHubApp struct {
	AppID          int64  `json:"app_id" yaml:"app_id"`
	InstallationID int64  `json:"installation_id" yaml:"installation_id"`
	PrivateKeyPath string `json:"private_key_path" yaml:"private_key_path"`
}

// Configured reports whether every App field is set
func (a *GitHubApp) Configured() bool {
	return a != nil && a.AppID != 0 && a.InstallationID != 0 && a.PrivateKeyPath != ""
}

// Log configures the logger
type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Enrichment configures background company lookups
type Enrichment struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	QueueSize int  `json:"queue_size" yaml:"queue_size"`
}

// Config represents the application configuration
type Config struct {
	// GitHub API token for authentication (optional, can be set via ARGH_GITHUB_TOKEN env var)
	GitHubToken   string     `json:"github_token" yaml:"github_token"`
	GitHubApp     *GitHubApp `json:"github_app,omitempty" yaml:"github_app,omitempty"`
	GitHubBaseURL string     `json:"github_base_url,omitempty" yaml:"github_base_url,omitempty"`

	DatabaseDriver string `json:"database_driver" yaml:"database_driver"`
	// Path to the SQLite database file; ignored when DatabaseDSN is set
	DatabasePath string `json:"database_path" yaml:"database_path"`
	DatabaseDSN  string `json:"database_dsn,omitempty" yaml:"database_dsn,omitempty"`

	// Organizations or users whose repositories are synced
	Organizations []string `json:"organizations" yaml:"organizations"`
	// Repository allow-list, exact names or globs
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	ClosedLookback Duration `json:"closed_lookback" yaml:"closed_lookback"`
	StallInterval  Duration `json:"stall_interval" yaml:"stall_interval"`

	KnownCustomers []string          `json:"known_customers" yaml:"known_customers"`
	Scoring        recommend.Weights `json:"scoring" yaml:"scoring"`

	Log        Log        `json:"log" yaml:"log"`
	ListenAddr string     `json:"listen_addr" yaml:"listen_addr"`
	Enrichment Enrichment `json:"enrichment" yaml:"enrichment"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		DatabaseDriver: DefaultDatabaseDriver,
		DatabasePath:   DefaultDatabasePath,
		Organizations:  []string{},
		ClosedLookback: Duration(DefaultClosedLookback),
		StallInterval:  Duration(DefaultStallInterval),
		KnownCustomers: []string{},
		Scoring:        recommend.DefaultWeights(),
		Log:            Log{Level: "info", Format: "text"},
		ListenAddr:     DefaultListenAddr,
		Enrichment:     Enrichment{Enabled: true, QueueSize: DefaultEnrichmentQueue},
	}
}

// LoadConfig loads the configuration from a JSON or YAML file. A .env file
// next to the config or in the working directory is loaded first; it never
// replaces variables that are already set. Environment overrides are then
// applied. The result is not validated.
func LoadConfig(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.resolvePaths(filepath.Dir(path))
	return config, nil
}

// FromEnv builds a configuration from defaults and the environment alone
func FromEnv() (*Config, error) {
	loadDotEnv(".env")
	config := Default()
	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadDotEnv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			_ = godotenv.Load(abs)
		}
	}
}

func parse(data []byte, ext string) (*Config, error) {
	config := Default()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvGithubToken); v != "" {
		c.GitHubToken = v
	}
	if v := os.Getenv(EnvDatabaseDriver); v != "" {
		c.DatabaseDriver = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.ListenAddr = v
	}

	appID, err := envInt(EnvAppID)
	if err != nil {
		return err
	}
	installationID, err := envInt(EnvAppInstallationID)
	if err != nil {
		return err
	}
	keyPath := os.Getenv(EnvAppPrivateKeyPath)
	if appID != 0 || installationID != 0 || keyPath != "" {
		if c.GitHubApp == nil {
			c.GitHubApp = &GitHubApp{}
		}
		if appID != 0 {
			c.GitHubApp.AppID = appID
		}
		if installationID != 0 {
			c.GitHubApp.InstallationID = installationID
		}
		if keyPath != "" {
			c.GitHubApp.PrivateKeyPath = keyPath
		}
	}
	return nil
}

func envInt(name string) (int64, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

// resolvePaths makes relative file paths relative to the config directory
func (c *Config) resolvePaths(configDir string) {
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if !filepath.IsAbs(c.DatabasePath) {
		c.DatabasePath = filepath.Join(configDir, c.DatabasePath)
	}
	if c.GitHubApp != nil && c.GitHubApp.PrivateKeyPath != "" && !filepath.IsAbs(c.GitHubApp.PrivateKeyPath) {
		c.GitHubApp.PrivateKeyPath = filepath.Join(configDir, c.GitHubApp.PrivateKeyPath)
	}
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	if c.GitHubToken == "" && !c.GitHubApp.Configured() {
		return ErrMissingCredentials
	}
	return c.ValidateDatabase()
}

// ValidateDatabase checks the database settings alone, for commands that
// never call GitHub
func (c *Config) ValidateDatabase() error {
	if c.DatabaseDSN == "" && c.DatabasePath == "" {
		return ErrMissingDatabase
	}
	if c.DatabaseDSN == "" && c.DatabaseDriver == "pgx" {
		return fmt.Errorf("%w: the pgx driver needs database_dsn", ErrMissingDatabase)
	}
	return nil
}

// DSN returns the connection string for the configured driver
func (c *Config) DSN() string {
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	return c.DatabasePath
}

// ClientOptions builds GitHub client options from the credentials. The
// App private key is read from disk.
func (c *Config) ClientOptions() (api.Options, error) {
	opts := api.Options{Token: c.GitHubToken, BaseURL: c.GitHubBaseURL}
	if c.GitHubToken == "" && c.GitHubApp.Configured() {
		key, err := os.ReadFile(c.GitHubApp.PrivateKeyPath)
		if err != nil {
			return api.Options{}, fmt.Errorf("failed to read app private key: %w", err)
		}
		opts.App = &api.AppCredentials{
			AppID:          c.GitHubApp.AppID,
			InstallationID: c.GitHubApp.InstallationID,
			PrivateKeyPEM:  key,
		}
	}
	return opts, nil
}

// SaveConfig saves the configuration as JSON or YAML depending on the
// file extension
func SaveConfig(config *Config, path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't
// exist. It reports whether a file was written.
func CreateDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil // File exists, don't overwrite
	}

	config := Default()
	config.Organizations = []string{"example-org"}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := SaveConfig(config, path); err != nil {
		return false, err
	}
	return true, nil
}
