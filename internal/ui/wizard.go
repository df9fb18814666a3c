package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"redkey/internal/config"
	"redkey/pkg/errors"
	"redkey/pkg/models"
)

// ConfigWizard provides an interactive configuration setup
type ConfigWizard struct {
	prompter    Prompter
	out         io.Writer
	currentStep int
	totalSteps  int
}

// WizardResult is the configuration plus the secrets to put in the keyring,
// keyed by keyring account.
type WizardResult struct {
	Config  *models.Config
	Secrets map[string]string
}

// NewConfigWizard creates a new configuration wizard
func NewConfigWizard(prompter Prompter, out io.Writer) *ConfigWizard {
	return &ConfigWizard{
		prompter:    prompter,
		out:         out,
		currentStep: 1,
		totalSteps:  4,
	}
}

// Run executes the configuration wizard
func (w *ConfigWizard) Run() (*WizardResult, error) {
	ShowHeader(w.out, "redkey - Configuration Setup")

	result := &WizardResult{
		Config:  models.DefaultConfig(),
		Secrets: make(map[string]string),
	}

	for _, name := range []string{models.MainCluster, models.OtherCluster} {
		if err := w.configureClusterStep(result, name); err != nil {
			return nil, err
		}
	}
	if err := w.configureS3Step(result); err != nil {
		return nil, err
	}
	if err := w.reviewConfiguration(result.Config); err != nil {
		return nil, err
	}

	return result, nil
}

func (w *ConfigWizard) configureClusterStep(result *WizardResult, name string) error {
	w.showProgress("Cluster " + name)
	defaults := result.Config.Clusters[name]

	host, err := w.required("Host:", defaults.Host, "Cluster endpoint without port")
	if err != nil {
		return err
	}
	portStr, err := w.prompter.Input("Port:", strconv.Itoa(defaults.Port), "")
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil || port <= 0 || port > 65535 {
		return errors.ValidationError("clusters."+name+".port", portStr, "port must be a number between 1 and 65535")
	}
	database, err := w.required("Database:", defaults.Database, "")
	if err != nil {
		return err
	}
	user, err := w.required("User:", defaults.User, "")
	if err != nil {
		return err
	}
	password, err := w.prompter.Password("Password:", "Stored in the OS keyring, not in the config file")
	if err != nil {
		return err
	}
	sslMode, err := w.prompter.Select("SSL mode:", []string{"require", "verify-full", "prefer", "disable"}, "require")
	if err != nil {
		return err
	}

	cluster := models.Cluster{
		Host:     host,
		Port:     port,
		Database: database,
		User:     user,
		Password: password,
		SSLMode:  sslMode,
	}
	if password != "" {
		result.Secrets[name] = password
		cluster.Password = config.KeyringPrefix
	}
	result.Config.Clusters[name] = cluster

	w.currentStep++
	return nil
}

func (w *ConfigWizard) configureS3Step(result *WizardResult) error {
	w.showProgress("S3 Staging Area")
	s3 := &result.Config.S3

	var err error
	if s3.Bucket, err = w.required("Bucket:", s3.Bucket, "Bucket the clusters unload to and copy from"); err != nil {
		return err
	}
	if s3.Prefix, err = w.prompter.Input("Prefix:", s3.Prefix, "Everything below this prefix is deleted before a migration"); err != nil {
		return err
	}
	if s3.AccessKeyID, err = w.required("AWS access key id:", s3.AccessKeyID, ""); err != nil {
		return err
	}
	secret, err := w.prompter.Password("AWS secret access key:", "Stored in the OS keyring, not in the config file")
	if err != nil {
		return err
	}
	if secret != "" {
		result.Secrets["s3"] = secret
		s3.SecretAccessKey = config.KeyringPrefix
	}

	if s3.PurgeMethod, err = w.prompter.Select("Purge method:", []string{"cli", "sdk"}, s3.PurgeMethod); err != nil {
		return err
	}
	if s3.PurgeMethod == "sdk" {
		if s3.Endpoint, err = w.required("S3 endpoint:", "s3.amazonaws.com", ""); err != nil {
			return err
		}
	}

	w.currentStep++
	return nil
}

func (w *ConfigWizard) reviewConfiguration(config *models.Config) error {
	w.showProgress("Review Configuration")

	fmt.Fprintln(w.out, "\n"+ColorInfo("Configuration Summary:"))
	fmt.Fprintln(w.out, strings.Repeat("─", 50))

	for _, name := range []string{models.MainCluster, models.OtherCluster} {
		cl := config.Clusters[name]
		fmt.Fprintln(w.out, ColorBold("\n"+name+":"))
		PrintKeyValue(w.out, "Endpoint", fmt.Sprintf("%s:%d/%s", cl.Host, cl.Port, cl.Database))
		PrintKeyValue(w.out, "User", cl.User)
	}

	fmt.Fprintln(w.out, ColorBold("\nS3:"))
	PrintKeyValue(w.out, "Staging", "s3://"+config.S3.Bucket+"/"+strings.TrimPrefix(config.S3.Prefix, "/"))
	PrintKeyValue(w.out, "Purge method", config.S3.PurgeMethod)
	fmt.Fprintln(w.out, strings.Repeat("─", 50))

	confirm, err := w.prompter.Confirm("Save this configuration?", true)
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New(errors.ErrCodeUserInput, "Configuration cancelled")
	}
	return nil
}

func (w *ConfigWizard) required(message, defaultValue, help string) (string, error) {
	value, err := w.prompter.Input(message, defaultValue, help)
	if err != nil {
		return "", err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.ValidationError(strings.TrimSuffix(message, ":"), value, "value is required")
	}
	return value, nil
}

func (w *ConfigWizard) showProgress(step string) {
	fmt.Fprintf(w.out, "\n%s [Step %d/%d] %s\n\n",
		ColorProgress("►"),
		w.currentStep,
		w.totalSteps,
		ColorBold(step),
	)
}
