package schema

import (
	"context"
	"database/sql"
	"fmt"
)

const columnsQuery = `
SELECT c.table_name, c.column_name, c.data_type
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = $1
  AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

const foreignKeysQuery = `
SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name
 AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = $1
ORDER BY kcu.table_name, kcu.column_name`

// Introspect builds a descriptor from the store's information_schema views.
// Postgres and DuckDB both expose the views used here.
func Introspect(ctx context.Context, db *sql.DB, namespace string) (Descriptor, error) {
	if db == nil {
		return Descriptor{}, fmt.Errorf("db is required")
	}
	if namespace == "" {
		namespace = "public"
	}

	rows, err := db.QueryContext(ctx, columnsQuery, namespace)
	if err != nil {
		return Descriptor{}, fmt.Errorf("query columns: %w", err)
	}
	var desc Descriptor
	index := map[string]int{}
	for rows.Next() {
		var tableName string
		var column Column
		if err := rows.Scan(&tableName, &column.Name, &column.Type); err != nil {
			_ = rows.Close()
			return Descriptor{}, fmt.Errorf("scan column: %w", err)
		}
		pos, ok := index[tableName]
		if !ok {
			pos = len(desc.Tables)
			index[tableName] = pos
			desc.Tables = append(desc.Tables, Table{Name: tableName})
		}
		desc.Tables[pos].Columns = append(desc.Tables[pos].Columns, column)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Descriptor{}, fmt.Errorf("iterate columns: %w", err)
	}
	_ = rows.Close()

	fkRows, err := db.QueryContext(ctx, foreignKeysQuery, namespace)
	if err != nil {
		return Descriptor{}, fmt.Errorf("query foreign keys: %w", err)
	}
	defer func() { _ = fkRows.Close() }()
	for fkRows.Next() {
		var tableName, columnName, targetTable, targetColumn string
		if err := fkRows.Scan(&tableName, &columnName, &targetTable, &targetColumn); err != nil {
			return Descriptor{}, fmt.Errorf("scan foreign key: %w", err)
		}
		pos, ok := index[tableName]
		if !ok {
			continue
		}
		columns := desc.Tables[pos].Columns
		for i := range columns {
			if columns[i].Name == columnName {
				columns[i].References = &ForeignKey{Table: targetTable, Column: targetColumn}
				break
			}
		}
	}
	if err := fkRows.Err(); err != nil {
		return Descriptor{}, fmt.Errorf("iterate foreign keys: %w", err)
	}

	if err := desc.Validate(); err != nil {
		return Descriptor{}, fmt.Errorf("introspected schema %q: %w", namespace, err)
	}
	return desc, nil
}
