package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var exportExtensions = map[string]string{
	"parquet": "parquet",
	"csv":     "csv",
}

// BuildExportPath lays exports out by day so old ones can be expired by prefix.
func BuildExportPath(prefix, requestID, format string, at time.Time) (string, error) {
	if err := validatePathComponent(requestID, "request id"); err != nil {
		return "", err
	}
	ext, ok := exportExtensions[strings.ToLower(format)]
	if !ok {
		return "", fmt.Errorf("unsupported export format %q", format)
	}
	ts := at.UTC()
	return path.Join(
		cleanRelative(prefix),
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s.%s", requestID, ext),
	), nil
}

// BuildLakeTablePrefix returns the prefix holding the parquet files of a table.
func BuildLakeTablePrefix(prefix, tableName string) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(cleanRelative(prefix), tableName) + "/", nil
}

// LakeTableName extracts the table name from a key below the lake prefix.
func LakeTableName(prefix, key string) (string, bool) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, "/"), cleanRelative(prefix))
	rel = strings.TrimPrefix(rel, "/")
	table, rest, ok := strings.Cut(rel, "/")
	if !ok || rest == "" || !strings.HasSuffix(rest, ".parquet") {
		return "", false
	}
	if validatePathComponent(table, "table name") != nil {
		return "", false
	}
	return table, true
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

func cleanRelative(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return path.Clean(prefix)
}
