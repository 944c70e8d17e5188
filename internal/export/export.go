// Package export writes query results to the object store as parquet or CSV.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/storage"
)

type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"

	DefaultLinkExpiry = 15 * time.Minute
)

var contentTypes = map[Format]string{
	FormatParquet: "application/vnd.apache.parquet",
	FormatCSV:     "text/csv",
}

func (f Format) ContentType() string {
	return contentTypes[f]
}

func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatParquet, "":
		return FormatParquet, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", value)
	}
}

type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size_bytes"`
	Rows        int       `json:"rows"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Options struct {
	Prefix     string
	LinkExpiry time.Duration
	Now        func() time.Time
}

type Exporter struct {
	store      storage.ObjectStore
	prefix     string
	linkExpiry time.Duration
	now        func() time.Time
}

func New(store storage.ObjectStore, opts Options) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if opts.LinkExpiry <= 0 {
		opts.LinkExpiry = DefaultLinkExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Exporter{store: store, prefix: opts.Prefix, linkExpiry: opts.LinkExpiry, now: opts.Now}, nil
}

// Export encodes result and uploads it under a key derived from requestID.
// A download link is attached when the store can presign.
func (e *Exporter) Export(ctx context.Context, requestID string, format Format, result query.Result) (Artifact, error) {
	createdAt := e.now().UTC()
	key, err := storage.BuildExportPath(e.prefix, requestID, string(format), createdAt)
	if err != nil {
		return Artifact{}, err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, format, result); err != nil {
		return Artifact{}, err
	}
	size := int64(buf.Len())
	info, err := e.store.Put(ctx, key, &buf, size, storage.PutOptions{ContentType: format.ContentType()})
	if err != nil {
		return Artifact{}, fmt.Errorf("upload export: %w", err)
	}

	artifact := Artifact{
		Key:         key,
		Format:      format,
		ContentType: format.ContentType(),
		Size:        size,
		Rows:        len(result.Rows),
		CreatedAt:   createdAt,
	}
	if info.Size > 0 {
		artifact.Size = info.Size
	}
	if presigner, ok := e.store.(storage.Presigner); ok {
		link, err := presigner.PresignGet(ctx, key, e.linkExpiry)
		if err != nil {
			return Artifact{}, fmt.Errorf("presign export: %w", err)
		}
		artifact.URL = link
	}
	return artifact, nil
}

func Encode(w io.Writer, format Format, result query.Result) error {
	switch format {
	case FormatParquet:
		return WriteParquet(w, result)
	case FormatCSV:
		return WriteCSV(w, result)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
