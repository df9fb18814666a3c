package migration

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"redkey/internal/catalog"
	"redkey/internal/storage"
	"redkey/pkg/errors"
)

const fakeBucket = "staging"

var (
	reDrop   = regexp.MustCompile(`^DROP TABLE IF EXISTS "([^"]+)"\."([^"]+)"$`)
	reCreate = regexp.MustCompile(`(?s)^CREATE TABLE "([^"]+)"\."([^"]+)" \(\n(.*?)\n\)`)
	reColumn = regexp.MustCompile(`^\s*"([^"]+)" (.+?),?$`)
	reDist   = regexp.MustCompile(`distkey\("([^"]+)"\)`)
	reUnload = regexp.MustCompile(`^UNLOAD \('SELECT \* FROM "([^"]+)"\."([^"]+)"'\)\nTO 's3://([^/]+)/([^']+)'`)
	reCopy   = regexp.MustCompile(`^COPY "([^"]+)"\."([^"]+)"\nFROM 's3://([^/]+)/([^']+)'`)
)

// fakeS3 starts an in-memory S3 server and returns a raw client plus an ObjectStore on it
func fakeS3(t *testing.T) (*minio.Client, *storage.ObjectStore) {
	t.Helper()

	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket(fakeBucket))
	ts := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(ts.Close)

	endpoint := strings.TrimPrefix(ts.URL, "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("AKIA", "secret", ""),
		Region: "us-east-1",
	})
	require.NoError(t, err)

	store, err := storage.NewObjectStore(storage.ObjectStoreConfig{
		Endpoint:    endpoint,
		Region:      "us-east-1",
		Credentials: storage.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "secret"},
	}, zerolog.Nop())
	require.NoError(t, err)

	return client, store
}

type fakeTable struct {
	meta *catalog.TableMetadata
	rows [][]string
}

// fakeCluster executes the DDL, UNLOAD and COPY statements redkey generates
// against in-memory tables, staging data in S3 the way the warehouse does.
type fakeCluster struct {
	name   string
	tables map[string]*fakeTable
	s3     *minio.Client
	// lose drops rows during COPY
	lose int
}

func newFakeCluster(name string, s3 *minio.Client) *fakeCluster {
	return &fakeCluster{name: name, tables: make(map[string]*fakeTable), s3: s3}
}

func (c *fakeCluster) add(meta *catalog.TableMetadata, rows [][]string) {
	c.tables[meta.Name().String()] = &fakeTable{meta: meta, rows: rows}
}

func (c *fakeCluster) ReadTable(_ context.Context, schema, table string) (*catalog.TableMetadata, error) {
	t, ok := c.tables[schema+"."+table]
	if !ok {
		return nil, errors.TableNotFoundError(schema, table)
	}
	return t.meta, nil
}

func (c *fakeCluster) RowCount(_ context.Context, schema, table string) (int64, error) {
	t, ok := c.tables[schema+"."+table]
	if !ok {
		return 0, errors.QueryError("SELECT COUNT(*)", fmt.Errorf("relation %s.%s does not exist", schema, table))
	}
	return int64(len(t.rows)), nil
}

func (c *fakeCluster) ExecuteSQL(ctx context.Context, sql string) error {
	return c.ExecuteRedacted(ctx, sql, nil)
}

func (c *fakeCluster) ExecuteRedacted(ctx context.Context, sql string, redact func(string) string) error {
	for _, stmt := range strings.Split(sql, ";\n") {
		stmt = strings.TrimSuffix(strings.TrimSpace(stmt), ";")
		if stmt == "" {
			continue
		}
		if err := c.exec(ctx, stmt); err != nil {
			if redact != nil {
				stmt = redact(stmt)
			}
			return errors.DDLExecutionError(stmt, err)
		}
	}
	return nil
}

func (c *fakeCluster) exec(ctx context.Context, stmt string) error {
	switch {
	case reDrop.MatchString(stmt):
		m := reDrop.FindStringSubmatch(stmt)
		delete(c.tables, m[1]+"."+m[2])
		return nil
	case reCreate.MatchString(stmt):
		return c.create(stmt)
	case reUnload.MatchString(stmt):
		m := reUnload.FindStringSubmatch(stmt)
		return c.unload(ctx, m[1]+"."+m[2], m[3], m[4])
	case reCopy.MatchString(stmt):
		m := reCopy.FindStringSubmatch(stmt)
		return c.load(ctx, m[1]+"."+m[2], m[3], m[4])
	default:
		return fmt.Errorf("fake cluster cannot execute %q", stmt)
	}
}

func (c *fakeCluster) create(stmt string) error {
	m := reCreate.FindStringSubmatch(stmt)
	key := m[1] + "." + m[2]
	if _, exists := c.tables[key]; exists {
		return fmt.Errorf("relation %q already exists", key)
	}

	meta := &catalog.TableMetadata{Schema: m[1], Table: m[2]}
	distKey := ""
	if d := reDist.FindStringSubmatch(stmt); d != nil {
		distKey = d[1]
	}
	for _, line := range strings.Split(m[3], "\n") {
		col := reColumn.FindStringSubmatch(line)
		if col == nil {
			return fmt.Errorf("bad column definition %q", line)
		}
		meta.Columns = append(meta.Columns, catalog.ColumnMetadata{
			Name:    col[1],
			SQLType: col[2],
			DistKey: col[1] == distKey,
		})
	}
	if distKey != "" && meta.CurrentDistKey() == "" {
		return fmt.Errorf("column %q named in distribution key does not exist", distKey)
	}

	c.tables[key] = &fakeTable{meta: meta}
	return nil
}

func (c *fakeCluster) unload(ctx context.Context, table, bucket, prefix string) error {
	t, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("relation %q does not exist", table)
	}

	half := len(t.rows) / 2
	parts := [][][]string{t.rows[:half], t.rows[half:]}

	type entry struct {
		URL  string `json:"url"`
		Meta struct {
			ContentLength int64 `json:"content_length"`
		} `json:"meta"`
	}
	var manifest struct {
		Entries []entry `json:"entries"`
	}

	for i, rows := range parts {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		for _, row := range rows {
			fields := make([]string, len(row))
			for j, v := range row {
				fields[j] = escape(v)
			}
			io.WriteString(zw, strings.Join(fields, "|")+"\n")
		}
		if err := zw.Close(); err != nil {
			return err
		}

		key := fmt.Sprintf("%s%04d_part_00.gz", prefix, i)
		if err := c.put(ctx, bucket, key, buf.Bytes()); err != nil {
			return err
		}
		e := entry{URL: "s3://" + bucket + "/" + key}
		e.Meta.ContentLength = int64(buf.Len())
		manifest.Entries = append(manifest.Entries, e)
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return c.put(ctx, bucket, prefix+"manifest", data)
}

func (c *fakeCluster) load(ctx context.Context, table, bucket, manifestKey string) error {
	t, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("relation %q does not exist", table)
	}

	data, err := c.get(ctx, bucket, manifestKey)
	if err != nil {
		return fmt.Errorf("manifest %s: %w", manifestKey, err)
	}
	manifest, err := storage.ParseManifest(data)
	if err != nil {
		return err
	}

	var loaded [][]string
	for _, e := range manifest.Entries {
		key := strings.TrimPrefix(e.URL, "s3://"+bucket+"/")
		compressed, err := c.get(ctx, bucket, key)
		if err != nil {
			return err
		}
		zr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(zr)
		if err != nil {
			return err
		}
		loaded = append(loaded, decode(string(raw))...)
	}

	if c.lose > 0 && len(loaded) >= c.lose {
		loaded = loaded[:len(loaded)-c.lose]
	}
	t.rows = append(t.rows, loaded...)
	return nil
}

func (c *fakeCluster) put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := c.s3.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (c *fakeCluster) get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.s3.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func escape(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `|`, `\|`, "\n", "\\\n")
	return r.Replace(v)
}

func decode(data string) [][]string {
	var (
		rows    [][]string
		row     []string
		field   strings.Builder
		escaped bool
	)
	for _, r := range data {
		switch {
		case escaped:
			field.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '|':
			row = append(row, field.String())
			field.Reset()
		case r == '\n':
			row = append(row, field.String())
			field.Reset()
			rows = append(rows, row)
			row = nil
		default:
			field.WriteRune(r)
		}
	}
	return rows
}
