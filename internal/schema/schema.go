// Package schema describes the tables and columns a natural-language request
// may be compiled against.
package schema

import (
	"fmt"
	"strings"
)

// Descriptor is the ordered set of queryable tables. A Descriptor is never
// mutated once it has been published to a Registry.
type Descriptor struct {
	Tables []Table `yaml:"tables" json:"tables"`
}

type Table struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []Column `yaml:"columns" json:"columns"`
}

type Column struct {
	Name       string      `yaml:"name" json:"name"`
	Type       string      `yaml:"type" json:"type"`
	References *ForeignKey `yaml:"references,omitempty" json:"references,omitempty"`
}

// ForeignKey points a column at the column it references.
type ForeignKey struct {
	Table  string `yaml:"table" json:"table"`
	Column string `yaml:"column" json:"column"`
}

// Relationship is a flattened foreign key, child side first.
type Relationship struct {
	Table        string
	Column       string
	TargetTable  string
	TargetColumn string
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", r.Table, r.Column, r.TargetTable, r.TargetColumn)
}

func (d Descriptor) Validate() error {
	if len(d.Tables) == 0 {
		return fmt.Errorf("schema must declare at least one table")
	}
	seenTables := make(map[string]struct{}, len(d.Tables))
	for _, table := range d.Tables {
		name := strings.TrimSpace(table.Name)
		if name == "" {
			return fmt.Errorf("table name is required")
		}
		key := strings.ToLower(name)
		if _, ok := seenTables[key]; ok {
			return fmt.Errorf("duplicate table %q", name)
		}
		seenTables[key] = struct{}{}
		if len(table.Columns) == 0 {
			return fmt.Errorf("table %q must declare at least one column", name)
		}
		seenColumns := make(map[string]struct{}, len(table.Columns))
		for _, column := range table.Columns {
			colName := strings.TrimSpace(column.Name)
			if colName == "" {
				return fmt.Errorf("table %q has a column without a name", name)
			}
			colKey := strings.ToLower(colName)
			if _, ok := seenColumns[colKey]; ok {
				return fmt.Errorf("duplicate column %q in table %q", colName, name)
			}
			seenColumns[colKey] = struct{}{}
		}
	}
	for _, rel := range d.Relationships() {
		if !d.HasColumn(rel.TargetTable, rel.TargetColumn) {
			return fmt.Errorf("foreign key %s references an unknown column", rel)
		}
	}
	return nil
}

// Table returns the table with the given name, compared case-insensitively.
func (d Descriptor) Table(name string) (Table, bool) {
	for _, table := range d.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}

func (d Descriptor) HasTable(name string) bool {
	_, ok := d.Table(name)
	return ok
}

func (d Descriptor) HasColumn(table, column string) bool {
	t, ok := d.Table(table)
	if !ok {
		return false
	}
	return t.HasColumn(column)
}

// ColumnOwners lists the tables declaring a column with the given name.
func (d Descriptor) ColumnOwners(column string) []string {
	var owners []string
	for _, table := range d.Tables {
		if table.HasColumn(column) {
			owners = append(owners, table.Name)
		}
	}
	return owners
}

// Relationships returns every foreign key in table then column order.
func (d Descriptor) Relationships() []Relationship {
	var out []Relationship
	for _, table := range d.Tables {
		for _, column := range table.Columns {
			if column.References == nil {
				continue
			}
			out = append(out, Relationship{
				Table:        table.Name,
				Column:       column.Name,
				TargetTable:  column.References.Table,
				TargetColumn: column.References.Column,
			})
		}
	}
	return out
}

func (d Descriptor) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for _, table := range d.Tables {
		names = append(names, table.Name)
	}
	return names
}

func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

func (t Table) Column(name string) (Column, bool) {
	for _, column := range t.Columns {
		if strings.EqualFold(column.Name, name) {
			return column, true
		}
	}
	return Column{}, false
}

// clone deep-copies a descriptor so callers cannot reach a published one.
func (d Descriptor) clone() Descriptor {
	out := Descriptor{Tables: make([]Table, len(d.Tables))}
	for i, table := range d.Tables {
		columns := make([]Column, len(table.Columns))
		for j, column := range table.Columns {
			columns[j] = column
			if column.References != nil {
				ref := *column.References
				columns[j].References = &ref
			}
		}
		out.Tables[i] = Table{Name: table.Name, Columns: columns}
	}
	return out
}

// Library is the small lending-library schema used as the development default.
func Library() Descriptor {
	return Descriptor{Tables: []Table{
		{
			Name: "Authors",
			Columns: []Column{
				{Name: "author_id", Type: "INTEGER"},
				{Name: "first_name", Type: "VARCHAR(100)"},
				{Name: "last_name", Type: "VARCHAR(100)"},
				{Name: "nationality", Type: "VARCHAR(50)"},
			},
		},
		{
			Name: "Books",
			Columns: []Column{
				{Name: "book_id", Type: "INTEGER"},
				{Name: "title", Type: "VARCHAR(255)"},
				{Name: "author_id", Type: "INTEGER", References: &ForeignKey{Table: "Authors", Column: "author_id"}},
				{Name: "publication_year", Type: "INTEGER"},
				{Name: "genre", Type: "VARCHAR(50)"},
			},
		},
		{
			Name: "Borrowers",
			Columns: []Column{
				{Name: "borrower_id", Type: "INTEGER"},
				{Name: "book_id", Type: "INTEGER", References: &ForeignKey{Table: "Books", Column: "book_id"}},
				{Name: "borrower_name", Type: "VARCHAR(100)"},
				{Name: "borrow_date", Type: "DATE"},
			},
		},
	}}
}
