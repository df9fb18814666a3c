package testutil

import (
	"context"
	"strings"
	"sync"

	"redkey/internal/catalog"
	"redkey/internal/storage"
	"redkey/pkg/errors"
	"redkey/pkg/models"
)

// MockWarehouse records the SQL sent to one cluster
type MockWarehouse struct {
	mu sync.Mutex

	Executed []string
	// FailOn maps a substring to the error returned for SQL containing it
	FailOn map[string]error
}

// NewMockWarehouse creates a mock warehouse that accepts every statement
func NewMockWarehouse() *MockWarehouse {
	return &MockWarehouse{FailOn: make(map[string]error)}
}

func (m *MockWarehouse) ExecuteSQL(ctx context.Context, sql string) error {
	return m.ExecuteRedacted(ctx, sql, nil)
}

func (m *MockWarehouse) ExecuteRedacted(ctx context.Context, sql string, redact func(string) string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	shown := sql
	if redact != nil {
		shown = redact(sql)
	}

	for sub, err := range m.FailOn {
		if strings.Contains(sql, sub) {
			return errors.DDLExecutionError(shown, err)
		}
	}
	m.Executed = append(m.Executed, shown)
	return nil
}

// Containing returns the executed SQL containing sub
func (m *MockWarehouse) Containing(sub string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, sql := range m.Executed {
		if strings.Contains(sql, sub) {
			out = append(out, sql)
		}
	}
	return out
}

// MockCatalog serves table definitions from memory, keyed by "schema.table"
type MockCatalog struct {
	mu sync.Mutex

	Tables     map[string]*catalog.TableMetadata
	Privileges map[string]*catalog.PrivilegeSet
	RowCounts  map[string]int64
	Error      error
}

// NewMockCatalog creates an empty mock catalog
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		Tables:     make(map[string]*catalog.TableMetadata),
		Privileges: make(map[string]*catalog.PrivilegeSet),
		RowCounts:  make(map[string]int64),
	}
}

// AddTable registers meta under its qualified name
func (m *MockCatalog) AddTable(meta *catalog.TableMetadata, rows int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tables[meta.Name().String()] = meta
	m.RowCounts[meta.Name().String()] = rows
}

func (m *MockCatalog) ReadTable(ctx context.Context, schema, table string) (*catalog.TableMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return nil, m.Error
	}
	meta, ok := m.Tables[schema+"."+table]
	if !ok {
		return nil, errors.TableNotFoundError(schema, table)
	}
	return meta, nil
}

func (m *MockCatalog) ReadPrivileges(ctx context.Context, schema, table string) (*catalog.PrivilegeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return nil, m.Error
	}
	if privs, ok := m.Privileges[schema+"."+table]; ok {
		return privs, nil
	}
	return &catalog.PrivilegeSet{}, nil
}

func (m *MockCatalog) RowCount(ctx context.Context, schema, table string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return 0, m.Error
	}
	count, ok := m.RowCounts[schema+"."+table]
	if !ok {
		return 0, errors.QueryError("SELECT COUNT(*)", errors.TableNotFoundError(schema, table))
	}
	return count, nil
}

// MockPurger records purged locations
type MockPurger struct {
	Purged []storage.Location
	Error  error
}

func (m *MockPurger) Purge(ctx context.Context, loc storage.Location) error {
	if m.Error != nil {
		return m.Error
	}
	m.Purged = append(m.Purged, loc)
	return nil
}

// TestConfig returns a sample configuration for testing
func TestConfig() *models.Config {
	cfg := models.DefaultConfig()
	cfg.Clusters = map[string]models.Cluster{
		models.MainCluster: {
			User:     "admin",
			Password: "main-secret",
			Database: "analytics",
			Host:     "main.example.com",
			Port:     5439,
		},
		models.OtherCluster: {
			User:     "admin",
			Password: "other-secret",
			Database: "analytics",
			Host:     "other.example.com",
			Port:     5439,
		},
	}
	cfg.S3.Bucket = "staging"
	cfg.S3.AccessKeyID = "AKIATEST"
	cfg.S3.SecretAccessKey = "s3-secret"
	cfg.Migration.Tables = []string{"bla.blabla"}
	return cfg
}
