package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"redkey/internal/common"
	"redkey/internal/config"
	"redkey/internal/ui"
	"redkey/pkg/errors"
	"redkey/pkg/models"
)

var (
	configTemplate bool
	configForce    bool
	configBackup   bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the redkey configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a configuration file, interactively by default.

Passwords entered in the wizard are stored in the OS keyring and the file
only refers to them with "keyring:". With --template a file with placeholder
values is written without asking anything.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configEncryptCmd = &cobra.Command{
	Use:   "encrypt-password",
	Short: "Encrypt plaintext secrets in the configuration file",
	Long: `Encrypt plaintext cluster passwords and the S3 secret key with AES-256-GCM.

The encryption key is derived from:
1. REDKEY_ENCRYPTION_KEY environment variable (if set)
2. Machine-specific identifier (hostname + home directory)`,
	Args: cobra.NoArgs,
	RunE: runConfigEncrypt,
}

var configSetPasswordCmd = &cobra.Command{
	Use:   "set-password <account>",
	Short: "Store a secret in the OS keyring",
	Long: `Store a secret in the OS keyring under account.

A configuration value of "keyring:" reads the account named after its
section (main_cluster, other_cluster, s3); "keyring:<account>" names it.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetPassword,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configEncryptCmd, configSetPasswordCmd)

	configInitCmd.Flags().BoolVar(&configTemplate, "template", false, "write a template without prompting")
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file without asking")
	configEncryptCmd.Flags().BoolVar(&configBackup, "backup", true, "create a backup of the original file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	path := cfgFile
	if path == "" {
		path = config.GetConfigFile()
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		overwrite, err := prompter.Confirm(fmt.Sprintf("%s already exists. Overwrite it?", path), false)
		if err != nil {
			return err
		}
		if !overwrite {
			ui.ShowInfo(out, "Setup cancelled")
			return nil
		}
	}

	cfg := models.DefaultConfig()
	if !configTemplate {
		result, err := ui.NewConfigWizard(prompter, out).Run()
		if err != nil {
			return err
		}

		accounts := make([]string, 0, len(result.Secrets))
		for account := range result.Secrets {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)
		for _, account := range accounts {
			if err := config.StoreSecret(account, result.Secrets[account]); err != nil {
				return err
			}
			logger.Debug().Str("account", account).Msg("stored secret in keyring")
		}
		cfg = result.Config
	}

	if err := config.Save(cfg, path); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to save configuration").
			WithContext("path", path)
	}

	ui.ShowSuccess(out, fmt.Sprintf("Configuration written to %s", path))
	if configTemplate {
		ui.ShowInfo(out, "Edit the placeholder values, then store passwords with 'redkey config set-password <section>'")
	}
	return nil
}

// maskSecret hides plaintext secrets; keyring references are shown as is
func maskSecret(value string) string {
	switch {
	case value == "", strings.HasPrefix(value, config.KeyringPrefix):
		return value
	case config.IsEncrypted(value):
		return "ENC[...]"
	default:
		return "****"
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	for name, cl := range cfg.Clusters {
		cl.Password = maskSecret(cl.Password)
		cfg.Clusters[name] = cl
	}
	cfg.S3.SecretAccessKey = maskSecret(cfg.S3.SecretAccessKey)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigEncrypt(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	path, err := config.Resolve(cfgFile)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cfg", ".ini":
		return errors.ConfigError("Legacy INI files cannot be rewritten", "config").
			WithContext("path", path).
			WithSuggestions("Run 'redkey config init' to create a YAML configuration")
	}

	ui.ShowInfo(out, fmt.Sprintf("Reading configuration from: %s", path))
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	encrypted := 0
	encrypt := func(value string) (string, error) {
		if value == "" || config.IsEncrypted(value) || strings.HasPrefix(value, config.KeyringPrefix) {
			return value, nil
		}
		encrypted++
		return config.EncryptPassword(value)
	}

	for name, cl := range cfg.Clusters {
		if cl.Password, err = encrypt(cl.Password); err != nil {
			return errors.Wrap(err, errors.ErrCodeSecret, "Failed to encrypt password").WithContext("cluster", name)
		}
		cfg.Clusters[name] = cl
	}
	if cfg.S3.SecretAccessKey, err = encrypt(cfg.S3.SecretAccessKey); err != nil {
		return errors.Wrap(err, errors.ErrCodeSecret, "Failed to encrypt S3 secret")
	}

	if encrypted == 0 {
		ui.ShowInfo(out, "No plaintext secrets found")
		return nil
	}

	if configBackup {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		backupFile := path + ".backup"
		if err := os.WriteFile(backupFile, data, common.FilePermissionSecure); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		ui.ShowSuccess(out, fmt.Sprintf("Created backup: %s", backupFile))
	}

	if err := config.Save(cfg, path); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to save configuration").WithContext("path", path)
	}

	ui.ShowSuccess(out, fmt.Sprintf("Encrypted %d secret(s)", encrypted))
	ui.ShowInfo(out, fmt.Sprintf("Set %s to the same value wherever redkey reads this file", config.EnvEncryptionKey))
	return nil
}

func runConfigSetPassword(cmd *cobra.Command, args []string) error {
	account := strings.TrimSpace(args[0])
	if account == "" {
		return errors.ValidationError("account", args[0], "account is required")
	}

	secret, err := prompter.Password(fmt.Sprintf("Secret for %s:", account), "Stored in the OS keyring")
	if err != nil {
		return err
	}
	if secret == "" {
		return errors.ValidationError("secret", "", "secret must not be empty")
	}

	if err := config.StoreSecret(account, secret); err != nil {
		return err
	}

	ui.ShowSuccess(cmd.OutOrStdout(), fmt.Sprintf("Stored secret for %s in the keyring", account))
	return nil
}
