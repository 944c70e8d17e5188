package seed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/querygate/querygate/internal/query"
	duckdbengine "github.com/querygate/querygate/internal/query/duckdb"
	"github.com/querygate/querygate/internal/storage"
)

func TestGeneratorDeterministicForSeed(t *testing.T) {
	fixedNow := time.Date(2026, 2, 19, 7, 30, 0, 0, time.UTC)

	g1 := NewGenerator(42)
	g2 := NewGenerator(42)
	g1.now = func() time.Time { return fixedNow }
	g2.now = func() time.Time { return fixedNow }

	t1, err := g1.Library(DefaultSizes())
	if err != nil {
		t.Fatalf("Library() error = %v", err)
	}
	t2, err := g2.Library(DefaultSizes())
	if err != nil {
		t.Fatalf("Library() error = %v", err)
	}
	if !reflect.DeepEqual(t1, t2) {
		t.Fatal("same seed produced different tables")
	}
}

func TestGeneratorKeepsCatalogAndReferences(t *testing.T) {
	tables, err := NewGenerator(7).Library(Sizes{Authors: 1, Books: 1, Borrowers: 25})
	if err != nil {
		t.Fatalf("Library() error = %v", err)
	}
	if len(tables) != 3 || tables[0].Name != "Authors" || tables[1].Name != "Books" || tables[2].Name != "Borrowers" {
		t.Fatalf("tables = %+v", tables)
	}
	authors, books, borrowers := tables[0].Result, tables[1].Result, tables[2].Result
	if len(authors.Rows) != len(catalog) {
		t.Fatalf("authors = %d, want catalog size %d", len(authors.Rows), len(catalog))
	}
	if authors.Rows[0][2] != "Orwell" {
		t.Fatalf("first author = %v", authors.Rows[0])
	}

	for i, row := range books.Rows {
		if row[0] != int64(i+1) {
			t.Fatalf("book_id at %d = %v", i, row[0])
		}
		if id := row[2].(int64); id < 1 || id > int64(len(authors.Rows)) {
			t.Fatalf("book %v references unknown author", row)
		}
	}
	for _, row := range borrowers.Rows {
		if id := row[1].(int64); id < 1 || id > int64(len(books.Rows)) {
			t.Fatalf("borrower %v references unknown book", row)
		}
		if _, ok := row[3].(time.Time); !ok {
			t.Fatalf("borrow_date type = %T", row[3])
		}
	}
}

func TestGeneratorRejectsNegativeSizes(t *testing.T) {
	if _, err := NewGenerator(1).Library(Sizes{Books: -1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteLakeIsQueryableThroughDuckDB(t *testing.T) {
	store := newMemoryStore()
	svc, err := NewService(store, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	written, err := svc.WriteLake(context.Background(), Options{Prefix: "lake", Seed: 3, Sizes: DefaultSizes()})
	if err != nil {
		t.Fatalf("WriteLake() error = %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("written = %+v", written)
	}
	if written[1].Key != "lake/Books/part-00000.parquet" || written[1].Rows != DefaultSizes().Books {
		t.Fatalf("books written = %+v", written[1])
	}

	engine, err := duckdbengine.Open(context.Background(), duckdbengine.Options{
		Lake: &duckdbengine.LakeSource{Store: store, Prefix: "lake"},
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      "SELECT b.title FROM Books b JOIN Authors a ON b.author_id = a.author_id WHERE a.last_name = 'Orwell' ORDER BY b.title",
		ReadOnly: true,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := [][]any{{"1984"}, {"Animal Farm"}}
	if !reflect.DeepEqual(result.Rows, want) {
		t.Fatalf("rows = %#v, want %#v", result.Rows, want)
	}
}

func TestWriteLakeReplaceRemovesOldParts(t *testing.T) {
	store := newMemoryStore()
	store.objects["lake/Books/part-00099.parquet"] = []byte("stale")
	store.objects["lake/Books/_manifest.json"] = []byte("{}")

	svc, _ := NewService(store, nil)
	if _, err := svc.WriteLake(context.Background(), Options{Prefix: "lake", Seed: 1, Sizes: DefaultSizes(), Replace: true}); err != nil {
		t.Fatalf("WriteLake() error = %v", err)
	}
	if _, ok := store.objects["lake/Books/part-00099.parquet"]; ok {
		t.Fatal("stale part was not removed")
	}
	if _, ok := store.objects["lake/Books/_manifest.json"]; !ok {
		t.Fatal("non-parquet object was removed")
	}
}

func TestWriteLakeReportsUploadFailure(t *testing.T) {
	store := newMemoryStore()
	store.putErr = errors.New("bucket unavailable")
	svc, _ := NewService(store, nil)

	written, err := svc.WriteLake(context.Background(), Options{Prefix: "lake", Seed: 1})
	if err == nil || !strings.Contains(err.Error(), "upload Authors") {
		t.Fatalf("error = %v", err)
	}
	if len(written) != 0 {
		t.Fatalf("written = %+v", written)
	}
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	if m.putErr != nil {
		return storage.ObjectInfo{}, m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, strings.TrimSuffix(prefix, "/")+"/") {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
