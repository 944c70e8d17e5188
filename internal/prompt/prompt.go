// Package prompt turns a natural-language question and the active schema into
// model instructions with a fixed output contract.
package prompt

import (
	"fmt"
	"strings"

	"github.com/querygate/querygate/internal/schema"
)

const (
	OpenDelimiter   = "```sql"
	CloseDelimiter  = "```"
	RefusalSentinel = "-- Cannot generate SQL for this query"

	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string
	Content string
}

type Prompt struct {
	System string
	User   string
}

// Messages returns the role-tagged form sent to chat endpoints.
func (p Prompt) Messages() []Message {
	return []Message{
		{Role: RoleSystem, Content: p.System},
		{Role: RoleUser, Content: p.User},
	}
}

// Text flattens the prompt for completion-style endpoints.
func (p Prompt) Text() string {
	return p.System + "\n\n" + p.User
}

type Options struct {
	// AllowWrites drops the read-only instruction. Validation still applies.
	AllowWrites bool
}

type Builder struct {
	dialect string
}

func NewBuilder(dialect string) *Builder {
	dialect = strings.TrimSpace(dialect)
	if dialect == "" {
		dialect = "SQL"
	}
	return &Builder{dialect: dialect}
}

func (b *Builder) Dialect() string {
	return b.dialect
}

func (b *Builder) Build(question string, desc schema.Descriptor) (Prompt, error) {
	return b.BuildWithOptions(question, desc, Options{})
}

func (b *Builder) BuildWithOptions(question string, desc schema.Descriptor, opts Options) (Prompt, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Prompt{}, fmt.Errorf("question is required")
	}
	if len(desc.Tables) == 0 {
		return Prompt{}, fmt.Errorf("schema has no tables")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You translate questions into exactly one %s query over the database described below.\n\n", b.dialect)

	sb.WriteString("Database schema:\n")
	for _, table := range desc.Tables {
		writeTable(&sb, table)
	}

	sb.WriteString("\nRelationships:\n")
	rels := desc.Relationships()
	if len(rels) == 0 {
		sb.WriteString("  (none declared)\n")
	}
	for _, rel := range rels {
		fmt.Fprintf(&sb, "  - %s\n", rel)
	}

	sb.WriteString("\nRules:\n")
	rules := []string{
		"Use only the tables and columns listed above. Never invent names.",
		"Join tables only through the relationships listed above.",
		fmt.Sprintf("Return exactly one query inside a fenced block that starts with %s on its own line and ends with %s on its own line.", OpenDelimiter, CloseDelimiter),
		"Return a single statement. Do not end it with ; and never chain several statements.",
		fmt.Sprintf("If the question cannot be answered from this schema, return a fenced block containing only: %s", RefusalSentinel),
		"Do not explain the query and do not add text outside the fenced block.",
	}
	if !opts.AllowWrites {
		rules = append(rules, "Only read data. Never insert, update, delete or change the structure of the database.")
	}
	for i, rule := range rules {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, rule)
	}

	sb.WriteString("\nExamples:\n")
	for _, ex := range examplesFor(desc) {
		fmt.Fprintf(&sb, "\nQuestion: %s\n%s\n%s\n%s\n", ex.question, OpenDelimiter, ex.sql, CloseDelimiter)
	}

	return Prompt{
		System: strings.TrimRight(sb.String(), "\n"),
		User:   "Question: " + question,
	}, nil
}

func writeTable(sb *strings.Builder, table schema.Table) {
	fmt.Fprintf(sb, "TABLE %s\n", table.Name)
	for _, column := range table.Columns {
		typ := column.Type
		if typ == "" {
			typ = "ANY"
		}
		fmt.Fprintf(sb, "  - %s %s", column.Name, typ)
		if column.References != nil {
			fmt.Fprintf(sb, " (foreign key -> %s.%s)", column.References.Table, column.References.Column)
		}
		sb.WriteString("\n")
	}
}
