package prompt

import (
	"fmt"
	"strings"

	"github.com/querygate/querygate/internal/schema"
)

type example struct {
	question string
	sql      string
}

// examplesFor derives a join and an aggregation from the schema itself so the
// model sees real names. The join falls back to an illustrative pair of
// tables when no foreign key is declared.
func examplesFor(desc schema.Descriptor) []example {
	out := make([]example, 0, 3)
	if join, ok := joinExample(desc); ok {
		out = append(out, join)
	} else {
		out = append(out, example{
			question: "(illustration only, these tables are not in the schema) List each order with its customer name.",
			sql:      "SELECT o.order_id, c.name\nFROM orders o\nJOIN customers c ON o.customer_id = c.customer_id",
		})
	}
	out = append(out, aggregationExample(desc))
	out = append(out, example{
		question: "What will the weather be tomorrow?",
		sql:      RefusalSentinel,
	})
	return out
}

func joinExample(desc schema.Descriptor) (example, bool) {
	rels := desc.Relationships()
	if len(rels) == 0 {
		return example{}, false
	}
	rel := rels[0]
	child, _ := desc.Table(rel.Table)
	parent, ok := desc.Table(rel.TargetTable)
	if !ok {
		return example{}, false
	}
	childCol := displayColumn(child, rel.Column)
	parentCol := displayColumn(parent, rel.TargetColumn)

	return example{
		question: fmt.Sprintf("List the %s of every %s row together with the %s of its %s.",
			humanize(childCol), rel.Table, humanize(parentCol), rel.TargetTable),
		sql: fmt.Sprintf("SELECT child.%s, parent.%s\nFROM %s child\nJOIN %s parent ON child.%s = parent.%s",
			childCol, parentCol, child.Name, parent.Name, rel.Column, rel.TargetColumn),
	}, true
}

func aggregationExample(desc schema.Descriptor) example {
	for _, table := range desc.Tables {
		if len(table.Columns) < 2 {
			continue
		}
		group := table.Columns[1].Name
		return example{
			question: fmt.Sprintf("How many %s rows are there for each %s?", table.Name, humanize(group)),
			sql: fmt.Sprintf("SELECT %s, COUNT(*) AS total\nFROM %s\nGROUP BY %s\nORDER BY total DESC",
				group, table.Name, group),
		}
	}
	table := desc.Tables[0]
	return example{
		question: fmt.Sprintf("How many %s rows are there?", table.Name),
		sql:      fmt.Sprintf("SELECT COUNT(*) AS total\nFROM %s", table.Name),
	}
}

// displayColumn picks the first column that is neither the join key nor a
// foreign key, falling back to the join key.
func displayColumn(table schema.Table, key string) string {
	for _, column := range table.Columns {
		if strings.EqualFold(column.Name, key) || column.References != nil {
			continue
		}
		if strings.HasSuffix(strings.ToLower(column.Name), "_id") {
			continue
		}
		return column.Name
	}
	return key
}

func humanize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", " ")
}
