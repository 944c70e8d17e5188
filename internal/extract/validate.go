package extract

import (
	"fmt"
	"strings"

	"github.com/querygate/querygate/internal/schema"
)

type frameKind int

const (
	frameGroup frameKind = iota
	frameFunction
)

// binding is a name usable as a column qualifier. table is nil for CTEs,
// derived tables and aliases whose columns are not known statically.
type binding struct {
	table *schema.Table
}

type columnRef struct {
	qualifier string
	name      string
}

type refChecker struct {
	desc       schema.Descriptor
	tokens     []token
	frames     []frameKind
	bindings   map[string]binding
	ctes       map[string]struct{}
	aliases    map[string]struct{}
	referenced []schema.Table
	refs       []columnRef
}

// checkReferences resolves every table and column name in tokens against desc.
func checkReferences(tokens []token, desc schema.Descriptor) error {
	c := &refChecker{
		desc:     desc,
		tokens:   tokens,
		bindings: map[string]binding{},
		ctes:     map[string]struct{}{},
		aliases:  map[string]struct{}{},
	}
	if err := c.collect(); err != nil {
		return err
	}
	return c.resolve()
}

func (c *refChecker) collect() error {
	for i := 0; i < len(c.tokens); i++ {
		tok := c.tokens[i]
		switch {
		case tok.is("("):
			c.frames = append(c.frames, c.frameFor(i))
			continue
		case tok.is(")"):
			if len(c.frames) > 0 {
				c.frames = c.frames[:len(c.frames)-1]
			}
			continue
		case !tok.isWord():
			continue
		}

		if tok.kind == tokenIdent && !c.inFunction() && !c.peek(i-1).keyword("DISTINCT") {
			switch tok.upper {
			case "FROM", "JOIN", "UPDATE", "INTO", "TABLE":
				next, err := c.tableList(i+1, tok.upper)
				if err != nil {
					return err
				}
				i = next - 1
				continue
			case "AS":
				if i+1 < len(c.tokens) && c.tokens[i+1].isWord() {
					c.addAlias(c.tokens[i+1])
					i++
				}
				continue
			}
		}

		if next, ok := c.cteDefinition(i); ok {
			i = next - 1
			continue
		}
		if isKeyword(tok) {
			continue
		}
		if c.peek(i+1).is("(") {
			// function call
			continue
		}
		if prev := c.peek(i - 1); prev.is("::") || prev.keyword("AS") || prev.keyword("OVER") || prev.keyword("WINDOW") {
			continue
		}
		if c.peek(i+1).is(".") {
			i = c.qualifiedRef(i) - 1
			continue
		}
		if c.implicitAlias(i) {
			c.addAlias(tok)
			continue
		}
		c.refs = append(c.refs, columnRef{name: tok.text})
	}
	return nil
}

// frameFor decides whether the "(" at i opens a function argument list.
func (c *refChecker) frameFor(i int) frameKind {
	prev := c.peek(i - 1)
	if !prev.isWord() {
		return frameGroup
	}
	if prev.kind == tokenIdent && contains(queryOpeners, prev.upper) {
		return frameGroup
	}
	return frameFunction
}

func (c *refChecker) inFunction() bool {
	return len(c.frames) > 0 && c.frames[len(c.frames)-1] == frameFunction
}

// tableList consumes the table references following a FROM-like keyword and
// returns the index of the first token it did not consume.
func (c *refChecker) tableList(i int, clause string) (int, error) {
	for i < len(c.tokens) {
		tok := c.tokens[i]
		if tok.keyword("LATERAL") || tok.keyword("ONLY") {
			i++
			continue
		}
		if tok.is("(") || isKeyword(tok) {
			// subquery, VALUES list or a clause keyword; the main loop handles it
			return i, nil
		}
		if !tok.isWord() {
			// string literals name files in DuckDB
			return 0, fmt.Errorf("unknown table %s", tok.text)
		}

		name := tok.text
		i++
		if c.peek(i).is(".") {
			qualified := name
			for c.peek(i).is(".") {
				qualified += "." + c.peek(i+1).text
				i += 2
			}
			return 0, fmt.Errorf("unknown table %q: qualified table names are not allowed", qualified)
		}
		if c.peek(i).is("(") && clause != "INTO" {
			return 0, fmt.Errorf("unknown table %q", name)
		}

		b, err := c.bindTable(name)
		if err != nil {
			return 0, err
		}
		c.bindings[strings.ToUpper(name)] = b

		if clause == "INTO" && c.peek(i).is("(") {
			next, err := c.insertColumns(i, b)
			if err != nil {
				return 0, err
			}
			return next, nil
		}

		if c.peek(i).keyword("AS") && c.peek(i+1).isWord() {
			c.bindings[strings.ToUpper(c.tokens[i+1].text)] = b
			c.addAliasName(c.tokens[i+1].text)
			i += 2
		} else if alias := c.peek(i); alias.isWord() && !isKeyword(alias) {
			c.bindings[strings.ToUpper(alias.text)] = b
			i++
		}
		if c.peek(i).is("(") {
			i = c.aliasList(i)
		}

		if clause == "FROM" && c.peek(i).is(",") {
			i++
			continue
		}
		return i, nil
	}
	return i, nil
}

func (c *refChecker) bindTable(name string) (binding, error) {
	if _, ok := c.ctes[strings.ToUpper(name)]; ok {
		return binding{}, nil
	}
	table, ok := c.desc.Table(name)
	if !ok {
		return binding{}, fmt.Errorf("unknown table %q", name)
	}
	c.referenced = append(c.referenced, table)
	return binding{table: &table}, nil
}

func (c *refChecker) insertColumns(i int, b binding) (int, error) {
	i++
	for i < len(c.tokens) && !c.tokens[i].is(")") {
		tok := c.tokens[i]
		if tok.isWord() && b.table != nil && !b.table.HasColumn(tok.text) {
			return 0, fmt.Errorf("unknown column %q in table %q", tok.text, b.table.Name)
		}
		i++
	}
	return i + 1, nil
}

// aliasList records a parenthesised column alias list starting at i.
func (c *refChecker) aliasList(i int) int {
	i++
	for i < len(c.tokens) && !c.tokens[i].is(")") {
		if c.tokens[i].isWord() {
			c.addAliasName(c.tokens[i].text)
		}
		i++
	}
	return i + 1
}

// cteDefinition recognises "name [(cols)] AS (" after WITH, RECURSIVE or a comma.
func (c *refChecker) cteDefinition(i int) (int, bool) {
	tok := c.tokens[i]
	if isKeyword(tok) {
		return 0, false
	}
	prev := c.peek(i - 1)
	if !prev.keyword("WITH") && !prev.keyword("RECURSIVE") && !prev.is(",") {
		return 0, false
	}
	j := i + 1
	var columns []string
	if c.peek(j).is("(") {
		j++
		for j < len(c.tokens) && !c.tokens[j].is(")") {
			if c.tokens[j].isWord() {
				columns = append(columns, c.tokens[j].text)
			}
			j++
		}
		j++
	}
	if !c.peek(j).keyword("AS") {
		return 0, false
	}
	k := j + 1
	for c.peek(k).keyword("NOT") || c.peek(k).keyword("MATERIALIZED") {
		k++
	}
	if !c.peek(k).is("(") {
		return 0, false
	}
	c.ctes[strings.ToUpper(tok.text)] = struct{}{}
	c.bindings[strings.ToUpper(tok.text)] = binding{}
	for _, column := range columns {
		c.addAliasName(column)
	}
	return k, true
}

// qualifiedRef records a dotted reference starting at i and returns the
// index after it.
func (c *refChecker) qualifiedRef(i int) int {
	parts := []string{c.tokens[i].text}
	j := i + 1
	star := false
	for c.peek(j).is(".") {
		next := c.peek(j + 1)
		if next.is("*") {
			star = true
			j += 2
			break
		}
		if !next.isWord() {
			break
		}
		parts = append(parts, next.text)
		j += 2
	}
	if c.peek(j).is("(") {
		// schema-qualified function
		return j
	}
	if star {
		c.refs = append(c.refs, columnRef{qualifier: parts[len(parts)-1], name: "*"})
		return j
	}
	if len(parts) == 1 {
		c.refs = append(c.refs, columnRef{name: parts[0]})
		return j
	}
	c.refs = append(c.refs, columnRef{qualifier: parts[len(parts)-2], name: parts[len(parts)-1]})
	return j
}

// implicitAlias reports whether the word at i names the expression before it,
// as in "COUNT(*) total" or "b.title book_title".
func (c *refChecker) implicitAlias(i int) bool {
	prev := c.peek(i - 1)
	switch prev.kind {
	case tokenString, tokenNumber, tokenQuotedIdent:
		return true
	case tokenIdent:
		return !isKeyword(prev) || prev.upper == "END"
	case tokenPunct:
		return prev.is(")")
	}
	return false
}

func (c *refChecker) resolve() error {
	for _, ref := range c.refs {
		if ref.qualifier != "" {
			if err := c.resolveQualified(ref); err != nil {
				return err
			}
			continue
		}
		if _, ok := c.aliases[strings.ToUpper(ref.name)]; ok {
			continue
		}
		if c.referencedColumn(ref.name) {
			continue
		}
		return fmt.Errorf("unknown column %q", ref.name)
	}
	return nil
}

func (c *refChecker) resolveQualified(ref columnRef) error {
	b, ok := c.bindings[strings.ToUpper(ref.qualifier)]
	if !ok {
		table, known := c.desc.Table(ref.qualifier)
		if !known {
			return fmt.Errorf("unknown table or alias %q", ref.qualifier)
		}
		b = binding{table: &table}
	}
	if b.table == nil || ref.name == "*" {
		return nil
	}
	if !b.table.HasColumn(ref.name) {
		return fmt.Errorf("unknown column %q in table %q", ref.name, b.table.Name)
	}
	return nil
}

func (c *refChecker) referencedColumn(name string) bool {
	for _, table := range c.referenced {
		if table.HasColumn(name) {
			return true
		}
	}
	return false
}

func (c *refChecker) addAlias(tok token) {
	c.addAliasName(tok.text)
	if _, bound := c.bindings[strings.ToUpper(tok.text)]; !bound {
		c.bindings[strings.ToUpper(tok.text)] = binding{}
	}
}

func (c *refChecker) addAliasName(name string) {
	c.aliases[strings.ToUpper(name)] = struct{}{}
}

func (c *refChecker) peek(i int) token {
	if i < 0 || i >= len(c.tokens) {
		return token{kind: tokenPunct}
	}
	return c.tokens[i]
}

func isKeyword(tok token) bool {
	return tok.kind == tokenIdent && contains(keywords, tok.upper)
}
