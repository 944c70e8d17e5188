package prompt

import (
	"strings"
	"testing"

	"github.com/querygate/querygate/internal/schema"
)

func TestBuildEnumeratesEveryTableOnce(t *testing.T) {
	tests := map[string]schema.Descriptor{
		"library": schema.Library(),
		"no foreign keys": {Tables: []schema.Table{
			{Name: "Events", Columns: []schema.Column{{Name: "event_id", Type: "INTEGER"}, {Name: "kind", Type: "VARCHAR"}}},
			{Name: "Hosts", Columns: []schema.Column{{Name: "host_id", Type: "INTEGER"}, {Name: "hostname", Type: "VARCHAR"}}},
		}},
		"prefix names": {Tables: []schema.Table{
			{Name: "Book", Columns: []schema.Column{{Name: "book_id", Type: "INTEGER"}, {Name: "title", Type: "VARCHAR"}}},
			{Name: "Books", Columns: []schema.Column{
				{Name: "books_id", Type: "INTEGER"},
				{Name: "book_id", Type: "INTEGER", References: &schema.ForeignKey{Table: "Book", Column: "book_id"}},
			}},
		}},
		"single column": {Tables: []schema.Table{
			{Name: "Tags", Columns: []schema.Column{{Name: "tag", Type: "TEXT"}}},
		}},
	}
	for name, desc := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := NewBuilder("postgres").Build("list everything", desc)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			headers := 0
			for _, line := range strings.Split(p.System, "\n") {
				if strings.HasPrefix(line, "TABLE ") {
					headers++
				}
			}
			if headers != len(desc.Tables) {
				t.Fatalf("table headers = %d, want %d", headers, len(desc.Tables))
			}
			for _, table := range desc.Tables {
				header := "TABLE " + table.Name + "\n"
				if got := strings.Count(p.System, header); got != 1 {
					t.Fatalf("table %s enumerated %d times", table.Name, got)
				}
				for _, column := range table.Columns {
					line := "  - " + column.Name + " " + column.Type
					if !strings.Contains(p.System, line) {
						t.Fatalf("column line %q missing", line)
					}
				}
			}
		})
	}
}

func TestBuildStatesOutputContract(t *testing.T) {
	p, err := NewBuilder("duckdb").Build("how many fantasy books are there", schema.Library())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	wants := []string{
		"exactly one duckdb query",
		"Books.author_id -> Authors.author_id",
		"Borrowers.book_id -> Books.book_id",
		OpenDelimiter,
		RefusalSentinel,
		"Do not end it with ;",
		"Only read data.",
		"JOIN Authors parent ON child.author_id = parent.author_id",
		"COUNT(*) AS total",
	}
	for _, want := range wants {
		if !strings.Contains(p.System, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p.System)
		}
	}
	if p.User != "Question: how many fantasy books are there" {
		t.Fatalf("User = %q", p.User)
	}
	if !strings.HasSuffix(p.Text(), p.User) {
		t.Fatal("Text() must end with the user message")
	}
	msgs := p.Messages()
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[1].Role != RoleUser {
		t.Fatalf("Messages() = %+v", msgs)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewBuilder("postgres")
	first, err := b.Build("who borrowed books in May 2025", schema.Library())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		next, err := b.Build("who borrowed books in May 2025", schema.Library())
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if next != first {
			t.Fatal("Build() output differs between identical calls")
		}
	}
}

func TestBuildFallsBackWithoutForeignKeys(t *testing.T) {
	desc := schema.Descriptor{Tables: []schema.Table{
		{Name: "events", Columns: []schema.Column{{Name: "id", Type: "BIGINT"}}},
	}}
	p, err := NewBuilder("").Build("count events", desc)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(p.System, "(none declared)") {
		t.Fatal("expected empty relationship marker")
	}
	if !strings.Contains(p.System, "illustration only") {
		t.Fatal("expected illustrative join example")
	}
	if !strings.Contains(p.System, "SELECT COUNT(*) AS total\nFROM events") {
		t.Fatalf("expected plain count example:\n%s", p.System)
	}
	if !strings.Contains(p.System, "exactly one SQL query") {
		t.Fatal("expected default dialect name")
	}
}

func TestBuildWithWritesAllowed(t *testing.T) {
	p, err := NewBuilder("postgres").BuildWithOptions("add a book", schema.Library(), Options{AllowWrites: true})
	if err != nil {
		t.Fatalf("BuildWithOptions() error = %v", err)
	}
	if strings.Contains(p.System, "Only read data.") {
		t.Fatal("read-only rule should be dropped when writes are allowed")
	}
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	b := NewBuilder("postgres")
	if _, err := b.Build("   ", schema.Library()); err == nil {
		t.Fatal("Build(empty question) expected error")
	}
	if _, err := b.Build("anything", schema.Descriptor{}); err == nil {
		t.Fatal("Build(empty schema) expected error")
	}
}
