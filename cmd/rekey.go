package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"redkey/internal/catalog"
	"redkey/internal/config"
	"redkey/internal/ddl"
	"redkey/internal/rekey"
	"redkey/internal/ui"
	"redkey/pkg/errors"
	"redkey/pkg/models"
)

// DefaultSchema is used for table names given without a schema
const DefaultSchema = "public"

var (
	rekeySchema       string
	rekeyTable        string
	rekeyDistKey      string
	rekeyCluster      string
	rekeyTempSuffix   string
	rekeySwap         bool
	rekeyDryRun       bool
	rekeyKeepEncoding bool
	rekeyYes          bool

	// prompter asks for confirmations; tests replace it
	prompter ui.Prompter = ui.NewSurveyPrompter()
)

var rekeyCmd = &cobra.Command{
	Use:   "rekey [schema.table]",
	Short: "Rebuild a table with a new distribution key",
	Long: `Rebuild a table with a new distribution key on the same cluster.

The CREATE TABLE statement is regenerated from pg_table_def with the new
distkey, created as <table>_temp and filled with the rows of the original.
With --swap the original is dropped once both tables hold the same number of
rows, and the rebuilt table is renamed into its place. SELECT and INSERT
grants of non-superusers are reapplied to the resulting table.`,
	Example: `  redkey rekey cia.bookings --distkey driver_id --dry-run
  redkey rekey --schema cia --table bookings --distkey driver_id --swap`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRekey,
}

func init() {
	rootCmd.AddCommand(rekeyCmd)

	rekeyCmd.Flags().StringVarP(&rekeySchema, "schema", "s", "", "schema of the table")
	rekeyCmd.Flags().StringVarP(&rekeyTable, "table", "t", "", "table to rebuild")
	rekeyCmd.Flags().StringVarP(&rekeyDistKey, "distkey", "k", "", "new distribution key column (empty keeps no distkey clause)")
	rekeyCmd.Flags().StringVarP(&rekeyCluster, "cluster", "c", models.MainCluster, "cluster holding the table")
	rekeyCmd.Flags().StringVar(&rekeyTempSuffix, "temp-suffix", ddl.DefaultTempSuffix, "suffix of the rebuilt table")
	rekeyCmd.Flags().BoolVar(&rekeySwap, "swap", false, "drop the original and rename the rebuilt table into its place")
	rekeyCmd.Flags().BoolVarP(&rekeyDryRun, "dry-run", "d", false, "print the generated SQL without executing it")
	rekeyCmd.Flags().BoolVar(&rekeyKeepEncoding, "keep-encoding", false, "carry column compression encodings over")
	rekeyCmd.Flags().BoolVarP(&rekeyYes, "yes", "y", false, "do not ask before dropping the original table")
}

// rekeyTarget resolves the table from the positional argument or the flags
func rekeyTarget(args []string) (catalog.QualifiedName, error) {
	if len(args) == 1 {
		if rekeySchema != "" || rekeyTable != "" {
			return catalog.QualifiedName{}, errors.ValidationError("table", args[0], "give the table either as an argument or with --schema/--table")
		}
		return catalog.ParseQualifiedName(args[0], DefaultSchema)
	}

	if rekeyTable == "" {
		return catalog.QualifiedName{}, errors.ValidationError("table", "", "a table is required").
			WithSuggestions("Pass schema.table or --schema and --table")
	}
	schema := rekeySchema
	if schema == "" {
		schema = DefaultSchema
	}
	return catalog.QualifiedName{Schema: schema, Table: rekeyTable}, nil
}

func runRekey(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	name, err := rekeyTarget(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg, false, rekeyCluster); err != nil {
		return err
	}

	svc, err := clusterOpener(ctx, rekeyCluster, cfg.Clusters[rekeyCluster], logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	runner := rekey.NewRunner(catalog.NewReader(svc.DB(), logger), svc, logger)
	req := rekey.Request{
		Schema:       name.Schema,
		Table:        name.Table,
		DistKey:      rekeyDistKey,
		Swap:         rekeySwap,
		DryRun:       true,
		KeepEncoding: rekeyKeepEncoding,
		TempSuffix:   rekeyTempSuffix,
	}

	// plan first so the statements are shown before anything runs
	plan, err := runner.Run(ctx, req)
	if err != nil {
		return err
	}

	ui.ShowHeader(out, "redkey - "+name.String())
	ui.PrintKeyValue(out, "Cluster", rekeyCluster)
	ui.PrintKeyValue(out, "Current distkey", valueOr(plan.Metadata.CurrentDistKey(), "(none)"))
	ui.PrintKeyValue(out, "New distkey", valueOr(rekeyDistKey, "(none)"))
	ui.PrintKeyValue(out, "Grant statements", fmt.Sprint(len(plan.Grants)))
	fmt.Fprintln(out)
	ui.ColumnTable(out, plan.Metadata, rekeyDistKey)

	ui.PrintSection(out, "Generated SQL")
	ui.PrintSQL(out, plan.Script())

	if rekeyDryRun {
		ui.ShowInfo(out, "Dry run: nothing was executed")
		return nil
	}

	if rekeySwap && !rekeyYes {
		ok, err := prompter.Confirm(fmt.Sprintf("Drop %s and swap the rebuilt table into place?", name), false)
		if err != nil {
			return err
		}
		if !ok {
			ui.ShowWarning(out, "Cancelled: nothing was executed")
			return nil
		}
	}

	req.DryRun = false
	result, err := runner.Run(ctx, req)
	if err != nil {
		if result != nil && result.Applied && !result.Swapped {
			ui.ShowWarning(out, fmt.Sprintf("%s was created and left in place", result.Statement.Target))
		}
		return err
	}

	if result.Swapped {
		ui.ShowSuccess(out, fmt.Sprintf("%s rebuilt with distkey %s (%d rows)", result.Final, valueOr(rekeyDistKey, "(none)"), result.Rows))
	} else {
		ui.ShowSuccess(out, fmt.Sprintf("%s created next to %s; the original was left in place", result.Final, name))
	}
	return nil
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
