package ui

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"redkey/internal/catalog"
	"redkey/pkg/errors"
)

// Prompter asks the operator for input
type Prompter interface {
	Input(message, defaultValue, help string) (string, error)
	Password(message, help string) (string, error)
	Confirm(message string, defaultValue bool) (bool, error)
	Select(message string, options []string, defaultValue string) (string, error)
}

// SurveyPrompter prompts on the terminal
type SurveyPrompter struct {
	opts []survey.AskOpt
}

// NewSurveyPrompter creates a terminal prompter
func NewSurveyPrompter(opts ...survey.AskOpt) *SurveyPrompter {
	return &SurveyPrompter{opts: opts}
}

// Input displays a text input prompt
func (s *SurveyPrompter) Input(message, defaultValue, help string) (string, error) {
	var result string
	prompt := &survey.Input{
		Message: message,
		Default: defaultValue,
		Help:    help,
	}

	err := survey.AskOne(prompt, &result, s.opts...)
	return result, promptError(err)
}

// Password displays a password input prompt
func (s *SurveyPrompter) Password(message, help string) (string, error) {
	var result string
	prompt := &survey.Password{
		Message: message,
		Help:    help,
	}

	err := survey.AskOne(prompt, &result, s.opts...)
	return result, promptError(err)
}

// Confirm displays a yes/no prompt
func (s *SurveyPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}

	err := survey.AskOne(prompt, &result, s.opts...)
	return result, promptError(err)
}

// Select displays a searchable selection prompt
func (s *SurveyPrompter) Select(message string, options []string, defaultValue string) (string, error) {
	var result string
	prompt := &survey.Select{
		Message:  message,
		Options:  options,
		PageSize: 10,
		VimMode:  true,
	}
	if defaultValue != "" {
		prompt.Default = defaultValue
	}

	err := survey.AskOne(prompt, &result, s.opts...)
	return result, promptError(err)
}

func promptError(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, terminal.InterruptErr) {
		return errors.New(errors.ErrCodeUserInput, "Prompt cancelled")
	}
	return errors.Wrap(err, errors.ErrCodeUserInput, "Prompt failed")
}

// DistKeyPrompt asks, per table, whether to set a new distribution key
type DistKeyPrompt struct {
	prompter Prompter
	out      io.Writer
	// defaults preselects a column per "schema.table"
	defaults map[string]string
}

// NewDistKeyPrompt creates an interactive distribution key chooser
func NewDistKeyPrompt(prompter Prompter, out io.Writer, defaults map[string]string) *DistKeyPrompt {
	return &DistKeyPrompt{prompter: prompter, out: out, defaults: defaults}
}

// ChooseDistKey shows the table's columns and asks for the new key.
// Declining leaves the table without a distribution key.
func (d *DistKeyPrompt) ChooseDistKey(ctx context.Context, meta *catalog.TableMetadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := meta.Name().String()
	fmt.Fprintf(d.out, "\n%s %s\n", ColorBold("Table:"), name)
	ColumnTable(d.out, meta, "")

	change, err := d.prompter.Confirm(fmt.Sprintf("New distkey for %s?", name), d.defaults[name] != "")
	if err != nil {
		return "", err
	}
	if !change {
		return "", nil
	}

	columns := make([]string, len(meta.Columns))
	for i, col := range meta.Columns {
		columns[i] = col.Name
	}

	def := d.defaults[name]
	if !meta.HasColumn(def) {
		def = meta.CurrentDistKey()
	}
	return d.prompter.Select("Distribution key column:", columns, def)
}
