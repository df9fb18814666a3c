package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"redkey/internal/common"
	"redkey/pkg/errors"
	"redkey/pkg/models"
)

// EnvConfigFile overrides the configuration file location
const EnvConfigFile = "REDKEY_CONFIG"

// keyDelimiter replaces viper's "." so that schema-qualified table names
// can be used as map keys (migration.dist_keys).
const keyDelimiter = "::"

func GetConfigPath() string {
	if configFile := os.Getenv(EnvConfigFile); configFile != "" {
		return filepath.Dir(configFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".redkey")
}

func GetConfigFile() string {
	if configFile := os.Getenv(EnvConfigFile); configFile != "" {
		cleaned, err := common.CleanPath(configFile)
		if err != nil {
			return filepath.Join(GetConfigPath(), "config.yaml")
		}
		return cleaned
	}
	return filepath.Join(GetConfigPath(), "config.yaml")
}

// LegacyConfigFile is the INI file read by the original scripts
func LegacyConfigFile() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config.cfg")
}

// Resolve picks the configuration file: an explicit path, then the
// REDKEY_CONFIG/default YAML file, then the legacy INI file.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		cleaned, err := common.CleanPath(explicit)
		if err != nil {
			return "", errors.ConfigError(fmt.Sprintf("invalid config file path: %v", err), "config")
		}
		if _, err := os.Stat(cleaned); err != nil {
			return "", errors.New(errors.ErrCodeConfigNotFound, fmt.Sprintf("Configuration file %s not found", cleaned)).
				WithContext("path", cleaned)
		}
		return cleaned, nil
	}

	candidates := []string{GetConfigFile(), LegacyConfigFile()}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", errors.New(errors.ErrCodeConfigNotFound, "No configuration file found").
		WithContext("searched", strings.Join(candidates, ", ")).
		WithSuggestions(
			"Run 'redkey config init' to create one",
			"Pass --config with the path to your configuration",
		)
}

// Load reads the configuration file at path (resolved when empty). YAML files
// go through viper directly; .cfg/.ini files use the legacy section layout.
func Load(path string) (*models.Config, error) {
	resolved, err := Resolve(path)
	if err != nil {
		return nil, err
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v)
	v.SetEnvPrefix("REDKEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".cfg", ".ini":
		legacy, err := readLegacy(resolved)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(legacy); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to merge legacy configuration").
				WithContext("path", resolved)
		}
	default:
		v.SetConfigFile(resolved)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to read configuration").
				WithContext("path", resolved)
		}
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to decode configuration").
			WithContext("path", resolved)
	}
	normalize(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	key := func(parts ...string) string { return strings.Join(parts, keyDelimiter) }
	v.SetDefault(key("s3", "prefix"), "unload/")
	v.SetDefault(key("s3", "purge_method"), "cli")
	v.SetDefault(key("s3", "use_ssl"), true)
	v.SetDefault(key("migration", "source"), models.MainCluster)
	v.SetDefault(key("migration", "destination"), models.OtherCluster)
	v.SetDefault(key("migration", "verify_counts"), true)
	v.SetDefault(key("log", "level"), "info")
	v.SetDefault(key("log", "format"), "console")
}

func normalize(cfg *models.Config) {
	if cfg.S3.Prefix != "" && !strings.HasSuffix(cfg.S3.Prefix, "/") {
		cfg.S3.Prefix += "/"
	}
	cfg.S3.Prefix = strings.TrimPrefix(cfg.S3.Prefix, "/")
	for i, table := range cfg.Migration.Tables {
		cfg.Migration.Tables[i] = strings.TrimSpace(table)
	}
}

// readLegacy maps the INI layout of ~/.config.cfg onto the YAML structure:
// [s3], [migration], [log] and [dist_keys] are known sections, every other
// section is a cluster.
func readLegacy(path string) (map[string]interface{}, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to parse legacy configuration").
			WithContext("path", path)
	}

	clusters := map[string]interface{}{}
	out := map[string]interface{}{"clusters": clusters}
	distKeys := map[string]interface{}{}

	for _, section := range file.Sections() {
		name := section.Name()
		values := map[string]interface{}{}
		for _, k := range section.Keys() {
			values[k.Name()] = k.String()
		}

		switch name {
		case ini.DefaultSection:
			continue
		case "s3", "log":
			out[name] = values
		case "migration":
			if tables, ok := values["tables"].(string); ok {
				values["tables"] = splitList(tables)
			}
			out[name] = values
		case "dist_keys":
			for k, v := range values {
				distKeys[k] = v
			}
		default:
			clusters[name] = values
		}
	}

	if len(distKeys) > 0 {
		migration, _ := out["migration"].(map[string]interface{})
		if migration == nil {
			migration = map[string]interface{}{}
			out["migration"] = migration
		}
		migration["dist_keys"] = distKeys
	}

	return out, nil
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Save writes cfg as YAML to path, or to the default file when path is empty
func Save(cfg *models.Config, path string) error {
	if path == "" {
		path = GetConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(path), common.DirPermissionSecure); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, common.FilePermissionSecure); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func Exists() bool {
	_, err := os.Stat(GetConfigFile())
	return err == nil
}
