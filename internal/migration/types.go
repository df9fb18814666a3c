package migration

import (
	"context"
	"time"

	"redkey/internal/catalog"
	"redkey/internal/storage"
)

// Step is one state of the migration state machine
type Step string

const (
	StepPurge      Step = "PURGE_STORAGE"
	StepUnload     Step = "UNLOAD"
	StepSynthesize Step = "SYNTHESIZE_DDL_ON_DEST"
	StepApplyDDL   Step = "APPLY_DDL"
	StepLoad       Step = "LOAD"
	StepVerify     Step = "VERIFY"
	StepCommit     Step = "COMMIT"
)

// TableSteps lists the per-table steps in execution order
var TableSteps = []Step{StepUnload, StepSynthesize, StepApplyDDL, StepLoad, StepVerify, StepCommit}

// Status represents the outcome of a table migration
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Executor runs SQL on one cluster
type Executor interface {
	ExecuteSQL(ctx context.Context, sql string) error
	ExecuteRedacted(ctx context.Context, sql string, redact func(string) string) error
}

// Catalog reads table definitions and row counts
type Catalog interface {
	ReadTable(ctx context.Context, schema, table string) (*catalog.TableMetadata, error)
	RowCount(ctx context.Context, schema, table string) (int64, error)
}

// ManifestVerifier checks the part files written by UNLOAD
type ManifestVerifier interface {
	VerifyManifest(ctx context.Context, loc storage.Location, table string) (*storage.Manifest, error)
}

// DistKeyChooser picks the destination distribution key of a table.
// An empty key means the table is created without a distkey clause.
type DistKeyChooser interface {
	ChooseDistKey(ctx context.Context, meta *catalog.TableMetadata) (string, error)
}

// FixedDistKeys maps "schema.table" to a distribution key column
type FixedDistKeys map[string]string

// ChooseDistKey looks up the configured key for meta
func (f FixedDistKeys) ChooseDistKey(_ context.Context, meta *catalog.TableMetadata) (string, error) {
	return f[meta.Name().String()], nil
}

// Cluster is one side of the migration
type Cluster struct {
	Name    string
	Exec    Executor
	Catalog Catalog
}

// Config wires the driver to its collaborators
type Config struct {
	Source      Cluster
	Destination Cluster
	Transfer    storage.Transfer
	Purger      storage.Purger
	// Verifier is optional; when set every unload manifest is checked before loading
	Verifier     ManifestVerifier
	DistKeys     DistKeyChooser
	DestSchema   string
	VerifyCounts bool
	KeepEncoding bool
	// Progress is called after every completed step
	Progress func(table catalog.QualifiedName, step Step)
}

// Steps lists the per-table steps a run with this configuration reports
func (c Config) Steps() []Step {
	if c.VerifyCounts {
		return TableSteps
	}
	steps := make([]Step, 0, len(TableSteps)-1)
	for _, step := range TableSteps {
		if step != StepVerify {
			steps = append(steps, step)
		}
	}
	return steps
}

// TableReport records the progress of one table
type TableReport struct {
	Source      catalog.QualifiedName
	Destination catalog.QualifiedName
	Status      Status
	Steps       []Step
	DistKey     string
	DDL         string
	Parts       int
	SourceRows  int64
	DestRows    int64
	Duration    time.Duration
}

// Verified reports whether the row counts were compared
func (t *TableReport) Verified() bool {
	for _, step := range t.Steps {
		if step == StepVerify {
			return true
		}
	}
	return false
}

// Report summarizes a migration run
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Purged   bool
	Tables   []*TableReport
}

// Completed counts the tables that were fully migrated
func (r *Report) Completed() int {
	n := 0
	for _, t := range r.Tables {
		if t.Status == StatusCompleted {
			n++
		}
	}
	return n
}
