package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.twitchlinkr/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Log     ConfigLog     `toml:"log"`
}

// ConfigDefault holds credentials and endpoints.
type ConfigDefault struct {
	ClientID    string `toml:"client_id" validate:"omitempty,alphanum"`
	AccessToken string `toml:"access_token" validate:"omitempty,alphanum" secret:"true"`
	EventSubURL string `toml:"eventsub_url" validate:"omitempty,url"`
	HelixURL    string `toml:"helix_url" validate:"omitempty,url"`
}

// ConfigLog holds logging settings.
type ConfigLog struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
}

var validate = validator.New()

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.twitchlinkr, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".twitchlinkr")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads, parses and validates the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// ============================================================================
// Logging
// ============================================================================

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// setupLogger installs a tint handler on stderr as the default logger.
// The --log-level flag wins over [log] level.
func setupLogger(cmd *cobra.Command) error {
	level := logLevelFlag
	if !cmd.Flags().Changed("log-level") {
		if cfg, err := loadConfig(); err == nil && cfg.Log.Level != "" {
			level = cfg.Log.Level
		}
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	})))
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var logLevelFlag string

var rootCmd = &cobra.Command{
	Use:   "twitchlinkr",
	Short: "Twitch EventSub CLI",
	Long:  "Command-line interface for the twitchlinkr EventSub SDK.\nStore credentials, listen on an EventSub WebSocket session and manage subscriptions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger(cmd)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
