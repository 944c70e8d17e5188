package extract

func wordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// modifyingVerbs are rejected in read-only mode wherever they appear.
var modifyingVerbs = wordSet(
	"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT", "REPLACE", "INTO",
	"DROP", "ALTER", "CREATE", "TRUNCATE", "GRANT", "REVOKE", "COPY", "ATTACH", "DETACH",
	"VACUUM", "CALL", "EXEC", "EXECUTE", "INSTALL", "LOAD", "PRAGMA", "SET",
)

// functionVerbs are denylisted words that are also common scalar functions.
// They are allowed when immediately followed by "(".
var functionVerbs = wordSet("REPLACE")

// readOnlyLeads are the statement openers accepted in read-only mode.
var readOnlyLeads = wordSet("SELECT", "WITH", "VALUES", "TABLE")

// keywords never resolve to columns.
var keywords = wordSet(
	"SELECT", "FROM", "WHERE", "GROUP", "BY", "ORDER", "HAVING", "LIMIT", "OFFSET", "FETCH", "NEXT",
	"ONLY", "ROWS", "ROW", "AS", "ON", "USING", "JOIN", "INNER", "LEFT", "RIGHT", "FULL", "OUTER",
	"CROSS", "NATURAL", "LATERAL", "SEMI", "ANTI", "ASOF", "POSITIONAL",
	"AND", "OR", "NOT", "IN", "IS", "NULL", "LIKE", "ILIKE", "SIMILAR", "ESCAPE", "GLOB",
	"BETWEEN", "SYMMETRIC", "EXISTS", "ANY", "ALL", "SOME", "CASE", "WHEN", "THEN", "ELSE", "END",
	"DISTINCT", "UNION", "INTERSECT", "EXCEPT", "WITH", "RECURSIVE", "MATERIALIZED", "IF",
	"ASC", "DESC", "NULLS", "FIRST", "LAST", "TRUE", "FALSE", "UNKNOWN",
	"CAST", "TRY_CAST", "COLLATE", "INTERVAL", "AT", "ZONE", "OVER", "PARTITION", "WINDOW",
	"RANGE", "GROUPS", "PRECEDING", "FOLLOWING", "UNBOUNDED", "CURRENT", "EXCLUDE", "TIES", "OTHERS",
	"FILTER", "WITHIN", "QUALIFY", "VALUES", "TABLE", "TABLESAMPLE", "SAMPLE", "DEFAULT", "RETURNING",
	"CONFLICT", "NOTHING", "MATCHED", "FOR", "SHARE", "NOWAIT", "SKIP", "LOCKED", "OF",
	"BOTH", "LEADING", "TRAILING", "PLACING", "TOP", "PERCENT",
	"EXTRACT", "CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP", "LOCALTIME", "LOCALTIMESTAMP",
	"CURRENT_USER", "SESSION_USER", "USER",
	"CENTURY", "DECADE", "YEAR", "YEARS", "QUARTER", "MONTH", "MONTHS", "WEEK", "WEEKS", "DAY", "DAYS",
	"HOUR", "HOURS", "MINUTE", "MINUTES", "SECOND", "SECONDS", "MILLISECOND", "MILLISECONDS",
	"MICROSECOND", "MICROSECONDS", "EPOCH", "DOW", "DOY", "ISODOW", "ISOYEAR", "JULIAN", "TIMEZONE",
	"INTEGER", "INT", "INT2", "INT4", "INT8", "BIGINT", "SMALLINT", "TINYINT", "HUGEINT", "UBIGINT",
	"UINTEGER", "SERIAL", "BIGSERIAL", "TEXT", "VARCHAR", "CHAR", "CHARACTER", "VARYING", "STRING",
	"NUMERIC", "DECIMAL", "REAL", "DOUBLE", "PRECISION", "FLOAT", "FLOAT4", "FLOAT8", "BOOLEAN",
	"BOOL", "DATE", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "DATETIME", "WITHOUT", "UUID", "JSON",
	"JSONB", "BLOB", "BYTEA", "ARRAY", "LIST", "STRUCT", "MAP",
	"INSERT", "UPDATE", "DELETE", "MERGE", "INTO", "SET", "DROP", "ALTER", "CREATE", "TRUNCATE",
)

// queryOpeners precede a "(" that starts a subquery or expression group
// rather than a function argument list.
var queryOpeners = wordSet(
	"IN", "EXISTS", "FROM", "JOIN", "AS", "ANY", "ALL", "SOME", "ON", "WHERE", "AND", "OR", "NOT",
	"SELECT", "WITH", "UNION", "INTERSECT", "EXCEPT", "LATERAL", "VALUES", "USING", "HAVING",
	"WHEN", "THEN", "ELSE", "CASE", "BY", "IS", "BETWEEN", "LIKE", "ILIKE", "RETURNING", "SET",
	"DISTINCT", "MATERIALIZED",
)

func contains(set map[string]struct{}, word string) bool {
	_, ok := set[word]
	return ok
}
