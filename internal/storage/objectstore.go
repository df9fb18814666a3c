package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"redkey/pkg/errors"
)

// ObjectStoreConfig configures the S3 API client
type ObjectStoreConfig struct {
	Endpoint    string
	Region      string
	UseSSL      bool
	Credentials Credentials
}

// ObjectStore talks to the staging bucket over the S3 API
type ObjectStore struct {
	client *minio.Client
	logger zerolog.Logger
}

// NewObjectStore creates an S3 client for cfg.Endpoint
func NewObjectStore(cfg ObjectStoreConfig, logger zerolog.Logger) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.ConfigMissingError("s3.endpoint")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Credentials.AccessKeyID, cfg.Credentials.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to create S3 client").
			WithContext("endpoint", cfg.Endpoint)
	}

	return &ObjectStore{client: client, logger: logger}, nil
}

// Purge removes every object below the location prefix
func (o *ObjectStore) Purge(ctx context.Context, loc Location) error {
	if err := checkPurgeable(loc); err != nil {
		return err
	}

	// cancelling stops the lister goroutine if we bail out early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	removed := 0
	objects := o.client.ListObjects(ctx, loc.Bucket, minio.ListObjectsOptions{Prefix: loc.Prefix, Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return errors.StorageTransferError("purge", loc.PrefixURI(), obj.Err)
		}
		if err := o.client.RemoveObject(ctx, loc.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return errors.StorageTransferError("purge", "s3://"+loc.Bucket+"/"+obj.Key, err)
		}
		removed++
	}

	o.logger.Info().Str("uri", loc.PrefixURI()).Int("removed", removed).Msg("purged staging area")
	return nil
}

// ManifestEntry is one part file listed by an unload manifest
type ManifestEntry struct {
	URL       string
	Mandatory bool
	// ContentLength is only present in verbose manifests
	ContentLength int64
}

// Manifest lists the part files of one unloaded table
type Manifest struct {
	Entries []ManifestEntry
}

// ParseManifest decodes {"entries":[{"url":...,"meta":{"content_length":...}}]}
func ParseManifest(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New(errors.ErrCodeManifestInvalid, "Manifest is not valid JSON")
	}

	entries := gjson.GetBytes(data, "entries")
	if !entries.IsArray() {
		return nil, errors.New(errors.ErrCodeManifestInvalid, "Manifest has no entries array")
	}

	m := &Manifest{}
	for i, entry := range entries.Array() {
		url := entry.Get("url").String()
		if !strings.HasPrefix(url, "s3://") {
			return nil, errors.New(errors.ErrCodeManifestInvalid, fmt.Sprintf("Manifest entry %d has no s3 url", i)).
				WithContext("entry", entry.Raw)
		}
		m.Entries = append(m.Entries, ManifestEntry{
			URL:           url,
			Mandatory:     entry.Get("mandatory").Bool(),
			ContentLength: entry.Get("meta.content_length").Int(),
		})
	}
	return m, nil
}

// ReadManifest fetches and parses the manifest UNLOAD wrote for table
func (o *ObjectStore) ReadManifest(ctx context.Context, loc Location, table string) (*Manifest, error) {
	key := loc.ManifestKey(table)
	obj, err := o.client.GetObject(ctx, loc.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.StorageTransferError("read manifest", loc.ManifestURI(table), err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.StorageTransferError("read manifest", loc.ManifestURI(table), err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeManifestInvalid, "Invalid unload manifest").
			WithContext("uri", loc.ManifestURI(table))
	}
	return m, nil
}

// VerifyManifest checks that every part listed in the manifest exists with the recorded size
func (o *ObjectStore) VerifyManifest(ctx context.Context, loc Location, table string) (*Manifest, error) {
	m, err := o.ReadManifest(ctx, loc, table)
	if err != nil {
		return nil, err
	}

	for _, entry := range m.Entries {
		bucket, key, ok := splitS3URL(entry.URL)
		if !ok {
			return nil, errors.New(errors.ErrCodeManifestInvalid, "Malformed part url").WithContext("url", entry.URL)
		}

		info, err := o.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeManifestInvalid, "Manifest lists a missing part").
				WithContext("url", entry.URL)
		}
		if entry.ContentLength > 0 && info.Size != entry.ContentLength {
			return nil, errors.New(errors.ErrCodeManifestInvalid, "Part size differs from manifest").
				WithContext("url", entry.URL).
				WithContext("expected", entry.ContentLength).
				WithContext("actual", info.Size)
		}
	}

	o.logger.Debug().Str("table", table).Int("parts", len(m.Entries)).Msg("manifest verified")
	return m, nil
}

func splitS3URL(url string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(url, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, ok = strings.Cut(rest, "/")
	return bucket, key, ok && bucket != "" && key != ""
}

func checkPurgeable(loc Location) error {
	if loc.Bucket == "" {
		return errors.ConfigMissingError("s3.bucket")
	}
	if strings.Trim(loc.Prefix, "/") == "" {
		return errors.ValidationError("s3.prefix", loc.Prefix, "refusing to purge the bucket root")
	}
	return nil
}
