package main

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
)

// ============================================================================
// Key schema
// ============================================================================

// configKey is one settable "section.field" entry, derived from the toml,
// validate and secret tags on Config.
type configKey struct {
	Name   string
	Rule   string
	Secret bool
	index  []int
}

var configSchema = buildConfigSchema()

func buildConfigSchema() []configKey {
	var keys []configKey
	root := reflect.TypeFor[Config]()
	for i := range root.NumField() {
		section := root.Field(i)
		for j := range section.Type.NumField() {
			field := section.Type.Field(j)
			keys = append(keys, configKey{
				Name:   section.Tag.Get("toml") + "." + field.Tag.Get("toml"),
				Rule:   field.Tag.Get("validate"),
				Secret: field.Tag.Get("secret") == "true",
				index:  []int{i, j},
			})
		}
	}
	return keys
}

func lookupConfigKey(name string) (configKey, error) {
	for _, k := range configSchema {
		if k.Name == name {
			return k, nil
		}
	}
	names := make([]string, len(configSchema))
	for i, k := range configSchema {
		names[i] = k.Name
	}
	return configKey{}, fmt.Errorf("unknown config key %q (valid: %s)", name, strings.Join(names, ", "))
}

func (k configKey) get(cfg *Config) string {
	return reflect.ValueOf(cfg).Elem().FieldByIndex(k.index).String()
}

// display masks secrets.
func (k configKey) display(cfg *Config) string {
	v := k.get(cfg)
	if v == "" {
		return "(not set)"
	}
	if k.Secret {
		return maskKey(v)
	}
	return v
}

// setConfigValue checks value against the key's rule and stores it.
// The field is left untouched when the value is rejected.
func setConfigValue(cfg *Config, key, value string) error {
	k, err := lookupConfigKey(key)
	if err != nil {
		return err
	}
	if k.Rule != "" {
		if err := validate.Var(value, k.Rule); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return fmt.Errorf("invalid value for %s: fails %q", key, verrs[0].Tag())
			}
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	reflect.ValueOf(cfg).Elem().FieldByIndex(k.index).SetString(value)
	return nil
}

// ============================================================================
// Commands
// ============================================================================

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage twitchlinkr configuration",
	Long:  "View or modify the twitchlinkr CLI configuration stored in ~/.twitchlinkr/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every configuration key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		for _, k := range configSchema {
			fmt.Fprintf(stdout, "%-22s %s", k.Name, k.display(cfg))
			if k.Rule != "" {
				gray.Fprintf(stdout, "  [%s]", k.Rule)
			}
			fmt.Fprintln(stdout)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := lookupConfigKey(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Fprintln(stdout, k.display(cfg))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: twitchlinkr config set log.level debug",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		k, _ := lookupConfigKey(args[0])
		success("Set %s = %s", k.Name, k.display(cfg))
		return nil
	},
}
