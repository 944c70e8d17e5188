package schema

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ObjectReader is the subset of an object store needed to read descriptors.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Parse decodes a YAML or JSON descriptor and validates it.
func Parse(data []byte) (Descriptor, error) {
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("decode schema descriptor: %w", err)
	}
	if err := desc.Validate(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

func LoadFile(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

func LoadObject(ctx context.Context, store ObjectReader, key string) (Descriptor, error) {
	if store == nil {
		return Descriptor{}, fmt.Errorf("object store is required")
	}
	body, err := store.Get(ctx, key)
	if err != nil {
		return Descriptor{}, fmt.Errorf("get schema object %q: %w", key, err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read schema object %q: %w", key, err)
	}
	return Parse(data)
}

// Marshal encodes a descriptor as YAML.
func Marshal(desc Descriptor) ([]byte, error) {
	return yaml.Marshal(desc)
}
