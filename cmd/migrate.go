package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"redkey/internal/catalog"
	"redkey/internal/config"
	"redkey/internal/migration"
	"redkey/internal/storage"
	"redkey/internal/ui"
	"redkey/pkg/errors"
	"redkey/pkg/models"
)

var (
	migrateTables         []string
	migrateSource         string
	migrateDest           string
	migrateDestSchema     string
	migrateDistKeys       map[string]string
	migrateInteractive    bool
	migrateNoVerify       bool
	migrateKeepEncoding   bool
	migrateVerifyManifest bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [schema.table...]",
	Short: "Move tables to another cluster through S3",
	Long: `Move tables from one cluster to another through the S3 staging area.

The staging prefix is emptied first. Every table is then unloaded from the
source, recreated on the destination with its chosen distribution key, loaded
with COPY and, unless --no-verify is given, checked by comparing row counts.
Tables are processed one at a time and the run stops at the first failure;
tables migrated before it are not rolled back.`,
	Example: `  redkey migrate cia.bookings cia.drivers --distkey cia.bookings=driver_id
  redkey migrate --interactive`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringSliceVar(&migrateTables, "tables", nil, "tables to migrate (default migration.tables)")
	migrateCmd.Flags().StringVar(&migrateSource, "source", "", "source cluster (default migration.source)")
	migrateCmd.Flags().StringVar(&migrateDest, "dest", "", "destination cluster (default migration.destination)")
	migrateCmd.Flags().StringVar(&migrateDestSchema, "dest-schema", "", "schema to create the tables in on the destination")
	migrateCmd.Flags().StringToStringVar(&migrateDistKeys, "distkey", nil, "distribution key per table, as schema.table=column")
	migrateCmd.Flags().BoolVarP(&migrateInteractive, "interactive", "i", false, "choose each distribution key interactively")
	migrateCmd.Flags().BoolVar(&migrateNoVerify, "no-verify", false, "skip the row count comparison")
	migrateCmd.Flags().BoolVar(&migrateKeepEncoding, "keep-encoding", false, "carry column compression encodings over")
	migrateCmd.Flags().BoolVar(&migrateVerifyManifest, "verify-manifest", false, "check every unloaded part listed in the manifest before loading")
}

// migrationTables merges arguments, the --tables flag and the configured list
func migrationTables(cfg *models.Config, args []string) ([]catalog.QualifiedName, error) {
	raw := append(append([]string{}, args...), migrateTables...)
	if len(raw) == 0 {
		raw = cfg.Migration.Tables
	}
	if len(raw) == 0 {
		return nil, errors.ConfigMissingError("migration.tables").
			WithSuggestions("Pass the tables as arguments or with --tables")
	}

	seen := make(map[string]bool, len(raw))
	names := make([]catalog.QualifiedName, 0, len(raw))
	for _, item := range raw {
		name, err := catalog.ParseQualifiedName(item, DefaultSchema)
		if err != nil {
			return nil, err
		}
		if seen[name.String()] {
			continue
		}
		seen[name.String()] = true
		names = append(names, name)
	}
	return names, nil
}

// stagingStore builds the S3 side of the run: the purger and, when enabled,
// the manifest verifier
func stagingStore(cfg *models.Config, creds storage.Credentials) (storage.Purger, migration.ManifestVerifier, error) {
	verify := cfg.S3.VerifyManifest || migrateVerifyManifest

	var store *storage.ObjectStore
	if cfg.S3.PurgeMethod == "sdk" || verify {
		var err error
		store, err = storage.NewObjectStore(storage.ObjectStoreConfig{
			Endpoint:    cfg.S3.Endpoint,
			Region:      cfg.S3.Region,
			UseSSL:      cfg.S3.UseSSL,
			Credentials: creds,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
	}

	var purger storage.Purger = storage.NewCLIPurger(creds, logger)
	if cfg.S3.PurgeMethod == "sdk" {
		purger = store
	}

	var verifier migration.ManifestVerifier
	if verify {
		verifier = store
	}
	return purger, verifier, nil
}

// distKeyChooser asks interactively with --interactive, otherwise uses the fixed keys
func distKeyChooser(out io.Writer, distKeys map[string]string) migration.DistKeyChooser {
	if migrateInteractive {
		return ui.NewDistKeyPrompt(prompter, out, distKeys)
	}
	return migration.FixedDistKeys(distKeys)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	source := valueOr(migrateSource, cfg.Migration.Source)
	dest := valueOr(migrateDest, cfg.Migration.Destination)
	if source == dest {
		return errors.ValidationError("dest", dest, "source and destination must be different clusters")
	}
	if migrateVerifyManifest {
		cfg.S3.VerifyManifest = true
	}
	if err := config.Validate(cfg, true, source, dest); err != nil {
		return err
	}

	tables, err := migrationTables(cfg, args)
	if err != nil {
		return err
	}

	secret, err := config.ResolveSecret("s3", cfg.S3.SecretAccessKey)
	if err != nil {
		return err
	}
	creds := storage.Credentials{AccessKeyID: cfg.S3.AccessKeyID, SecretAccessKey: secret}

	purger, verifier, err := stagingStore(cfg, creds)
	if err != nil {
		return err
	}

	distKeys := make(map[string]string, len(cfg.Migration.DistKeys)+len(migrateDistKeys))
	for table, column := range cfg.Migration.DistKeys {
		distKeys[table] = column
	}
	for table, column := range migrateDistKeys {
		distKeys[table] = column
	}

	src, err := clusterOpener(ctx, source, cfg.Clusters[source], logger)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := clusterOpener(ctx, dest, cfg.Clusters[dest], logger)
	if err != nil {
		return err
	}
	defer dst.Close()

	transfer := storage.Transfer{
		Location:    storage.NewLocation(cfg.S3.Bucket, cfg.S3.Prefix),
		Credentials: creds,
	}

	ui.ShowHeader(out, "redkey - migrate")
	ui.PrintKeyValue(out, "Source", source)
	ui.PrintKeyValue(out, "Destination", dest)
	ui.PrintKeyValue(out, "Staging", transfer.Location.PrefixURI())
	ui.PrintKeyValue(out, "Tables", fmt.Sprint(len(tables)))
	fmt.Fprintln(out)

	migrationConfig := migration.Config{
		Source:       migration.Cluster{Name: source, Exec: src, Catalog: catalog.NewReader(src.DB(), logger)},
		Destination:  migration.Cluster{Name: dest, Exec: dst, Catalog: catalog.NewReader(dst.DB(), logger)},
		Transfer:     transfer,
		Purger:       purger,
		Verifier:     verifier,
		DistKeys:     distKeyChooser(out, distKeys),
		DestSchema:   valueOr(migrateDestSchema, cfg.Migration.DestSchema),
		VerifyCounts: cfg.Migration.VerifyCounts && !migrateNoVerify,
		KeepEncoding: migrateKeepEncoding,
	}

	// the bar would redraw over the interactive prompts
	var bar *ui.ProgressBar
	if !migrateInteractive {
		bar = ui.NewProgressBar(out, len(tables), len(migrationConfig.Steps()))
		migrationConfig.Progress = bar.Step
	}

	report, err := migration.NewDriver(migrationConfig, logger).Run(ctx, tables)
	if bar != nil {
		bar.Finish(err == nil)
	}

	fmt.Fprintln(out)
	ui.ReportTable(out, report)
	return err
}
