// Package storage builds the warehouse bulk UNLOAD/COPY statements and manages
// the S3 staging area they read and write.
package storage

import (
	"fmt"
	"strings"

	"redkey/internal/catalog"
)

// Location is the staging area for unloaded tables
type Location struct {
	Bucket string
	Prefix string
}

// NewLocation normalizes prefix to have no leading and exactly one trailing slash
func NewLocation(bucket, prefix string) Location {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return Location{Bucket: bucket, Prefix: prefix}
}

// PrefixURI is the s3:// URI of the whole staging area
func (l Location) PrefixURI() string {
	return "s3://" + l.Bucket + "/" + l.Prefix
}

// TablePrefix is the object key prefix of a table's part files
func (l Location) TablePrefix(table string) string {
	return l.Prefix + table + "/" + table + "_"
}

// ManifestKey is the object key of a table's unload manifest
func (l Location) ManifestKey(table string) string {
	return l.TablePrefix(table) + "manifest"
}

// URI is the UNLOAD target of table
func (l Location) URI(table string) string {
	return "s3://" + l.Bucket + "/" + l.TablePrefix(table)
}

// ManifestURI is the COPY source of table
func (l Location) ManifestURI(table string) string {
	return "s3://" + l.Bucket + "/" + l.ManifestKey(table)
}

// Credentials is the key pair the warehouse uses to reach the bucket
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

func (c Credentials) clause() string {
	return fmt.Sprintf("aws_access_key_id=%s;aws_secret_access_key=%s", c.AccessKeyID, c.SecretAccessKey)
}

const redacted = "****"

// Transfer renders UNLOAD and COPY statements for one staging location
type Transfer struct {
	Location    Location
	Credentials Credentials
}

// Key names the staging directory of a table. The schema is part of it so that
// equally named tables of different schemas do not overwrite each other.
func Key(name catalog.QualifiedName) string {
	return name.String()
}

// UnloadSQL exports name to its staging prefix with a manifest
func (t Transfer) UnloadSQL(name catalog.QualifiedName) string {
	query := "SELECT * FROM " + name.Quoted()
	return fmt.Sprintf(`UNLOAD (%s)
TO %s
CREDENTIALS %s
MANIFEST
DELIMITER '|'
ESCAPE
GZIP;`, literal(query), literal(t.Location.URI(Key(name))), literal(t.Credentials.clause()))
}

// CopySQL loads the staged files of source into target
func (t Transfer) CopySQL(source, target catalog.QualifiedName) string {
	return fmt.Sprintf(`COPY %s
FROM %s
CREDENTIALS %s
MANIFEST
DELIMITER '|'
ESCAPE
GZIP;`, target.Quoted(), literal(t.Location.ManifestURI(Key(source))), literal(t.Credentials.clause()))
}

// Redact masks the secret access key in sql
func (t Transfer) Redact(sql string) string {
	secret := t.Credentials.SecretAccessKey
	if secret == "" {
		return sql
	}
	sql = strings.ReplaceAll(sql, escapeLiteral(secret), redacted)
	return strings.ReplaceAll(sql, secret, redacted)
}

func literal(s string) string {
	return "'" + escapeLiteral(s) + "'"
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
