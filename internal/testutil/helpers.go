package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"redkey/internal/catalog"
	"redkey/internal/common"
	"redkey/pkg/models"
)

// TestHelper provides common test utilities
type TestHelper struct {
	t *testing.T
}

// NewTestHelper creates a new test helper
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// WriteFile writes content to a file in the given directory
func (h *TestHelper) WriteFile(dir, filename, content string) string {
	h.t.Helper()
	path := filepath.Join(dir, filename)

	if err := os.MkdirAll(filepath.Dir(path), common.DirPermissionSecure); err != nil {
		h.t.Fatalf("Failed to create directories: %v", err)
	}

	if err := os.WriteFile(path, []byte(content), common.FilePermissionSecure); err != nil {
		h.t.Fatalf("Failed to write file %s: %v", path, err)
	}

	return path
}

// WriteConfig marshals cfg into a config file inside a fresh temp dir
func (h *TestHelper) WriteConfig(cfg *models.Config) string {
	h.t.Helper()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		h.t.Fatalf("Failed to marshal config: %v", err)
	}
	return h.WriteFile(h.t.TempDir(), "config.yaml", string(data))
}

// Table builds table metadata from name/type pairs. sortKey lists columns in key order.
func (h *TestHelper) Table(schema, table string, columns [][2]string, sortKey ...string) *catalog.TableMetadata {
	h.t.Helper()
	meta := &catalog.TableMetadata{Schema: schema, Table: table}
	for _, col := range columns {
		meta.Columns = append(meta.Columns, catalog.ColumnMetadata{Name: col[0], SQLType: col[1], Encoding: "none"})
	}
	for i, col := range sortKey {
		if err := meta.SortKey.Add(i+1, col); err != nil {
			h.t.Fatalf("Failed to build sort key: %v", err)
		}
	}
	return meta
}
