package storage

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"redkey/pkg/errors"
)

// Purger empties a staging location before tables are unloaded into it
type Purger interface {
	Purge(ctx context.Context, loc Location) error
}

// CLIPurger removes the staging prefix with the AWS command line tool
type CLIPurger struct {
	// Command defaults to "aws"
	Command     string
	Credentials Credentials
	logger      zerolog.Logger
}

// NewCLIPurger creates a purger that shells out to `aws s3 rm --recursive`
func NewCLIPurger(creds Credentials, logger zerolog.Logger) *CLIPurger {
	return &CLIPurger{Command: "aws", Credentials: creds, logger: logger}
}

// Args returns the command line arguments used to purge loc
func (p *CLIPurger) Args(loc Location) []string {
	return []string{"s3", "rm", "--recursive", loc.PrefixURI()}
}

// Purge runs the command and fails with its captured output on a non-zero exit
func (p *CLIPurger) Purge(ctx context.Context, loc Location) error {
	if err := checkPurgeable(loc); err != nil {
		return err
	}

	command := p.Command
	if command == "" {
		command = "aws"
	}

	cmd := exec.CommandContext(ctx, command, p.Args(loc)...)
	cmd.Env = os.Environ()
	if p.Credentials.AccessKeyID != "" {
		cmd.Env = append(cmd.Env,
			"AWS_ACCESS_KEY_ID="+p.Credentials.AccessKeyID,
			"AWS_SECRET_ACCESS_KEY="+p.Credentials.SecretAccessKey,
		)
	}

	p.logger.Info().Str("uri", loc.PrefixURI()).Str("command", command).Msg("purging staging area")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.StorageTransferError("purge", loc.PrefixURI(), err).
			WithContext("output", strings.TrimSpace(string(out))).
			WithContext("command", command+" "+strings.Join(p.Args(loc), " "))
	}

	p.logger.Debug().Str("output", strings.TrimSpace(string(out))).Msg("purge finished")
	return nil
}
