package models

// Config is the explicit configuration object handed to every collaborator.
type Config struct {
	Clusters  map[string]Cluster `yaml:"clusters" mapstructure:"clusters"`
	S3        S3                 `yaml:"s3" mapstructure:"s3"`
	Migration Migration          `yaml:"migration" mapstructure:"migration"`
	Log       Log                `yaml:"log" mapstructure:"log"`
}

// Cluster holds the connection settings of one warehouse cluster
type Cluster struct {
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"` // plain, ENC[...] or "keyring:"
	Database string `yaml:"database" mapstructure:"database"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	SSLMode  string `yaml:"sslmode,omitempty" mapstructure:"sslmode"`
}

// S3 describes the bucket used as the unload/load staging area
type S3 struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"aws_access_key_id" mapstructure:"aws_access_key_id"`
	SecretAccessKey string `yaml:"aws_secret_access_key" mapstructure:"aws_secret_access_key"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	Endpoint        string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`   // S3 API endpoint for purge/verify
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	UseSSL          bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	PurgeMethod     string `yaml:"purge_method" mapstructure:"purge_method"` // "cli" or "sdk"
	VerifyManifest  bool   `yaml:"verify_manifest" mapstructure:"verify_manifest"`
}

// Migration holds defaults for the cross-cluster transfer
type Migration struct {
	Source       string            `yaml:"source" mapstructure:"source"`
	Destination  string            `yaml:"destination" mapstructure:"destination"`
	DestSchema   string            `yaml:"dest_schema,omitempty" mapstructure:"dest_schema"`
	Tables       []string          `yaml:"tables" mapstructure:"tables"`
	DistKeys     map[string]string `yaml:"dist_keys,omitempty" mapstructure:"dist_keys"` // schema.table -> column
	VerifyCounts bool              `yaml:"verify_counts" mapstructure:"verify_counts"`
}

// Log configures the structured logger
type Log struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "console" or "json"
}

// Cluster names used by the legacy scripts
const (
	MainCluster  = "main_cluster"
	OtherCluster = "other_cluster"
)

// DefaultConfig returns a configuration template with the legacy cluster layout
func DefaultConfig() *Config {
	return &Config{
		Clusters: map[string]Cluster{
			MainCluster:  {Host: "main.example.redshift.amazonaws.com", Port: 5439, Database: "dev", User: "admin", Password: "keyring:"},
			OtherCluster: {Host: "other.example.redshift.amazonaws.com", Port: 5439, Database: "dev", User: "admin", Password: "keyring:"},
		},
		S3: S3{
			Prefix:      "unload/",
			Region:      "us-east-1",
			UseSSL:      true,
			PurgeMethod: "cli",
		},
		Migration: Migration{
			Source:       MainCluster,
			Destination:  OtherCluster,
			VerifyCounts: true,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// Cluster returns the named cluster section
func (c *Config) Cluster(name string) (Cluster, bool) {
	cl, ok := c.Clusters[name]
	return cl, ok
}
