// Package extract parses model output into a single candidate query and
// validates it against the active schema. Model text is tokenized and checked,
// never evaluated.
package extract

import (
	"fmt"
	"strings"

	"github.com/querygate/querygate/internal/prompt"
	"github.com/querygate/querygate/internal/schema"
)

type Classification string

const (
	Executable Classification = "executable"
	Refused    Classification = "refused"
	Malformed  Classification = "malformed"
)

// Candidate is the single query extracted from one model response.
type Candidate struct {
	Classification Classification `json:"classification"`
	SQL            string         `json:"sql,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	ReadOnly       bool           `json:"read_only"`
}

func (c Candidate) Executable() bool {
	return c.Classification == Executable
}

// Err returns nil for executable candidates and an *ExtractionError otherwise.
func (c Candidate) Err() error {
	switch c.Classification {
	case Executable:
		return nil
	case Refused:
		return &ExtractionError{Kind: Refused, Reason: c.Reason}
	default:
		return &ExtractionError{Kind: Malformed, Reason: c.Reason}
	}
}

type ExtractionError struct {
	Kind   Classification
	Reason string
}

func (e *ExtractionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("extraction %s", e.Kind)
	}
	return fmt.Sprintf("extraction %s: %s", e.Kind, e.Reason)
}

type Extractor struct {
	open     string
	close    string
	sentinel string
}

func NewExtractor() *Extractor {
	return &Extractor{
		open:     prompt.OpenDelimiter,
		close:    prompt.CloseDelimiter,
		sentinel: normalizeSpace(prompt.RefusalSentinel),
	}
}

// Extract pulls exactly one delimited block out of raw and classifies it.
func (e *Extractor) Extract(raw string, desc schema.Descriptor, readOnly bool) Candidate {
	blocks, err := e.findBlocks(raw)
	if err != nil {
		return malformed(readOnly, err.Error())
	}
	switch len(blocks) {
	case 0:
		return malformed(readOnly, "response contains no fenced sql block")
	case 1:
	default:
		return malformed(readOnly, fmt.Sprintf("response contains %d fenced sql blocks, expected exactly one", len(blocks)))
	}
	return e.classify(blocks[0], desc, readOnly)
}

// Validate applies the same checks to a statement supplied directly by a caller.
func (e *Extractor) Validate(sql string, desc schema.Descriptor, readOnly bool) Candidate {
	return e.classify(sql, desc, readOnly)
}

func (e *Extractor) classify(text string, desc schema.Descriptor, readOnly bool) Candidate {
	sql := strings.TrimSpace(text)
	sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	if strings.EqualFold(normalizeSpace(sql), e.sentinel) {
		return Candidate{Classification: Refused, SQL: sql, Reason: "the question cannot be answered from this schema", ReadOnly: readOnly}
	}
	if sql == "" {
		return malformed(readOnly, "query is empty")
	}

	tokens, err := tokenize(sql)
	if err != nil {
		return malformedSQL(sql, readOnly, err.Error())
	}
	if len(tokens) == 0 {
		return malformedSQL(sql, readOnly, "query is empty")
	}
	for _, tok := range tokens {
		if tok.is(";") {
			return malformedSQL(sql, readOnly, "multiple statements are not allowed")
		}
	}
	if readOnly {
		if reason := checkReadOnly(tokens); reason != "" {
			return malformedSQL(sql, readOnly, reason)
		}
	}
	if err := checkReferences(tokens, desc); err != nil {
		return malformedSQL(sql, readOnly, err.Error())
	}
	return Candidate{Classification: Executable, SQL: sql, ReadOnly: readOnly}
}

// findBlocks returns the bodies of every ```sql fenced block. The opening
// fence is matched case-insensitively and must be followed by whitespace.
func (e *Extractor) findBlocks(raw string) ([]string, error) {
	var blocks []string
	pos := 0
	for {
		idx := indexFold(raw[pos:], e.open)
		if idx < 0 {
			return blocks, nil
		}
		start := pos + idx + len(e.open)
		if start < len(raw) && !isSpaceByte(raw[start]) {
			// ```sqlite and friends are not the agreed fence.
			pos = start
			continue
		}
		end := strings.Index(raw[start:], e.close)
		if end < 0 {
			return nil, fmt.Errorf("fenced sql block is not closed")
		}
		blocks = append(blocks, raw[start:start+end])
		pos = start + end + len(e.close)
	}
}

// indexFold is a case-insensitive strings.Index whose offsets are valid in s.
func indexFold(s, substr string) int {
	if substr == "" {
		return 0
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

func checkReadOnly(tokens []token) string {
	first := tokens[0]
	if !first.is("(") && !(first.kind == tokenIdent && contains(readOnlyLeads, first.upper)) {
		return fmt.Sprintf("statement starting with %q is not a read-only query", first.text)
	}
	for i, tok := range tokens {
		if tok.kind != tokenIdent || !contains(modifyingVerbs, tok.upper) {
			continue
		}
		if contains(functionVerbs, tok.upper) && i+1 < len(tokens) && tokens[i+1].is("(") {
			continue
		}
		return fmt.Sprintf("%s is not allowed in read-only mode", tok.upper)
	}
	return ""
}

func malformed(readOnly bool, reason string) Candidate {
	return Candidate{Classification: Malformed, Reason: reason, ReadOnly: readOnly}
}

func malformedSQL(sql string, readOnly bool, reason string) Candidate {
	return Candidate{Classification: Malformed, SQL: sql, Reason: reason, ReadOnly: readOnly}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}
