// Package migration moves tables between clusters through the S3 staging area.
package migration

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"redkey/internal/catalog"
	"redkey/internal/ddl"
	"redkey/internal/storage"
	"redkey/pkg/errors"
)

// Driver runs the migration state machine
type Driver struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewDriver creates a driver; DistKeys defaults to no distribution key
func NewDriver(config Config, logger zerolog.Logger) *Driver {
	if config.DistKeys == nil {
		config.DistKeys = FixedDistKeys{}
	}
	return &Driver{config: config, logger: logger, now: time.Now}
}

// Run purges the staging area once, then migrates tables one after another.
// The first failure stops the run; tables migrated before it stay migrated.
// The returned report is populated in both cases.
func (d *Driver) Run(ctx context.Context, tables []catalog.QualifiedName) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: d.now()}
	defer func() { report.Finished = d.now() }()

	log := d.logger.With().Str("run_id", report.RunID).Logger()
	log.Info().
		Str("source", d.config.Source.Name).
		Str("destination", d.config.Destination.Name).
		Int("tables", len(tables)).
		Msg("starting migration")

	for _, name := range tables {
		report.Tables = append(report.Tables, &TableReport{Source: name, Status: StatusPending})
	}

	if err := d.checkDestinations(tables); err != nil {
		return report, err
	}

	loc := d.config.Transfer.Location
	if err := d.config.Purger.Purge(ctx, loc); err != nil {
		return report, stepError(err, StepPurge, loc.PrefixURI(), report.RunID)
	}
	report.Purged = true
	d.progress(catalog.QualifiedName{}, StepPurge)

	for _, tr := range report.Tables {
		if err := d.migrateTable(ctx, tr, report.RunID, log); err != nil {
			tr.Status = StatusFailed
			return report, err
		}
	}

	log.Info().Int("completed", report.Completed()).Msg("migration finished")
	return report, nil
}

func (d *Driver) ddlOptions() ddl.Options {
	return ddl.Options{
		Mode:         ddl.ModeRecreate,
		TargetSchema: d.config.DestSchema,
		KeepEncoding: d.config.KeepEncoding,
	}
}

// checkDestinations rejects runs where two tables would be recreated as the same destination table
func (d *Driver) checkDestinations(tables []catalog.QualifiedName) error {
	opts := d.ddlOptions()
	seen := make(map[string]catalog.QualifiedName, len(tables))
	for _, name := range tables {
		dest := ddl.Target(name, opts).String()
		if prev, ok := seen[dest]; ok {
			return errors.ValidationError("tables", name.String(),
				fmt.Sprintf("%s and %s would both be migrated to %s", prev, name, dest)).
				WithSuggestions("Migrate the tables in separate runs with different destination schemas")
		}
		seen[dest] = name
	}
	return nil
}

func (d *Driver) migrateTable(ctx context.Context, tr *TableReport, runID string, log zerolog.Logger) error {
	start := d.now()
	tr.Status = StatusRunning
	name := tr.Source
	transfer := d.config.Transfer
	src, dst := d.config.Source, d.config.Destination
	log = log.With().Str("table", name.String()).Logger()

	fail := func(step Step, err error) error {
		log.Error().Err(err).Str("step", string(step)).Msg("migration step failed")
		return stepError(err, step, name.String(), runID)
	}
	done := func(step Step) {
		tr.Steps = append(tr.Steps, step)
		log.Debug().Str("step", string(step)).Msg("step complete")
		d.progress(name, step)
	}

	// UNLOAD
	if err := src.Exec.ExecuteRedacted(ctx, transfer.UnloadSQL(name), transfer.Redact); err != nil {
		return fail(StepUnload, errors.StorageTransferError("unload", transfer.Location.URI(storage.Key(name)), err))
	}
	if d.config.Verifier != nil {
		manifest, err := d.config.Verifier.VerifyManifest(ctx, transfer.Location, storage.Key(name))
		if err != nil {
			return fail(StepUnload, err)
		}
		tr.Parts = len(manifest.Entries)
	}
	done(StepUnload)

	// SYNTHESIZE_DDL_ON_DEST
	meta, err := src.Catalog.ReadTable(ctx, name.Schema, name.Table)
	if err != nil {
		return fail(StepSynthesize, err)
	}
	distKey, err := d.config.DistKeys.ChooseDistKey(ctx, meta)
	if err != nil {
		return fail(StepSynthesize, err)
	}
	if distKey != "" && !meta.HasColumn(distKey) {
		log.Warn().Str("distkey", distKey).Msg("distribution key is not a column of the table")
	}
	opts := d.ddlOptions()
	opts.DistKey = distKey
	stmt, err := ddl.Synthesize(meta, opts)
	if err != nil {
		return fail(StepSynthesize, err)
	}
	tr.Destination = stmt.Target
	tr.DistKey = distKey
	tr.DDL = stmt.SQL()
	done(StepSynthesize)

	// APPLY_DDL
	if err := dst.Exec.ExecuteSQL(ctx, stmt.SQL()); err != nil {
		return fail(StepApplyDDL, err)
	}
	done(StepApplyDDL)

	// LOAD; the COPY transaction commits on success
	if err := dst.Exec.ExecuteRedacted(ctx, transfer.CopySQL(name, stmt.Target), transfer.Redact); err != nil {
		return fail(StepLoad, errors.StorageTransferError("load", transfer.Location.ManifestURI(storage.Key(name)), err))
	}
	done(StepLoad)

	if d.config.VerifyCounts {
		if err := d.verify(ctx, tr); err != nil {
			return fail(StepVerify, err)
		}
		done(StepVerify)
	}

	done(StepCommit)
	tr.Status = StatusCompleted
	tr.Duration = d.now().Sub(start)
	log.Info().
		Str("destination", stmt.Target.String()).
		Str("distkey", distKey).
		Int64("rows", tr.DestRows).
		Dur("duration", tr.Duration).
		Msg("table migrated")
	return nil
}

func (d *Driver) progress(table catalog.QualifiedName, step Step) {
	if d.config.Progress != nil {
		d.config.Progress(table, step)
	}
}

func (d *Driver) verify(ctx context.Context, tr *TableReport) error {
	want, err := d.config.Source.Catalog.RowCount(ctx, tr.Source.Schema, tr.Source.Table)
	if err != nil {
		return err
	}
	got, err := d.config.Destination.Catalog.RowCount(ctx, tr.Destination.Schema, tr.Destination.Table)
	if err != nil {
		return err
	}
	tr.SourceRows, tr.DestRows = want, got
	if want != got {
		return errors.RowCountMismatchError(
			d.config.Source.Name+":"+tr.Source.String(),
			d.config.Destination.Name+":"+tr.Destination.String(),
			want, got,
		)
	}
	return nil
}

func stepError(err error, step Step, table, runID string) error {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.Wrap(err, errors.ErrCodeInternal, "Migration step failed")
	}
	appErr = appErr.WithContext("step", string(step)).WithContext("table", table)
	if runID != "" {
		appErr = appErr.WithContext("run_id", runID)
	}
	return appErr
}
