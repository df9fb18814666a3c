package config

import (
	"fmt"

	"redkey/pkg/errors"
	"redkey/pkg/models"
)

// Validate checks that every key needed by the named clusters is present,
// and the S3 section too when needS3 is set. It runs before any connection.
func Validate(cfg *models.Config, needS3 bool, clusters ...string) error {
	for _, name := range clusters {
		cl, ok := cfg.Cluster(name)
		if !ok {
			return errors.ConfigError(fmt.Sprintf("Cluster section %q not found", name), "clusters."+name)
		}

		required := []struct {
			key   string
			empty bool
		}{
			{"user", cl.User == ""},
			{"password", cl.Password == ""},
			{"database", cl.Database == ""},
			{"host", cl.Host == ""},
			{"port", cl.Port == 0},
		}
		for _, r := range required {
			if r.empty {
				return errors.ConfigMissingError(fmt.Sprintf("clusters.%s.%s", name, r.key))
			}
		}
	}

	if needS3 {
		switch {
		case cfg.S3.Bucket == "":
			return errors.ConfigMissingError("s3.bucket")
		case cfg.S3.AccessKeyID == "":
			return errors.ConfigMissingError("s3.aws_access_key_id")
		case cfg.S3.SecretAccessKey == "":
			return errors.ConfigMissingError("s3.aws_secret_access_key")
		}

		switch cfg.S3.PurgeMethod {
		case "cli", "sdk":
		default:
			return errors.ConfigError(fmt.Sprintf("Unknown purge method %q (want cli or sdk)", cfg.S3.PurgeMethod), "s3.purge_method")
		}
		if (cfg.S3.PurgeMethod == "sdk" || cfg.S3.VerifyManifest) && cfg.S3.Endpoint == "" {
			return errors.ConfigMissingError("s3.endpoint")
		}
	}

	return nil
}
