package querygen

import (
	"sort"
	"strings"

	"github.com/koustreak/pha/internal/schema"
)

// LimitStyle is where and how a dialect bounds the row count.
type LimitStyle int

const (
	SuffixLimit LimitStyle = iota // ... LIMIT n
	PrefixTop                     // SELECT TOP n ...
	FetchFirst                    // ... FETCH FIRST n ROWS ONLY
)

func (s LimitStyle) String() string {
	switch s {
	case PrefixTop:
		return "prefix_top"
	case FetchFirst:
		return "fetch_first"
	default:
		return "suffix_limit"
	}
}

// Dialect holds one engine's identifier and limit rules. Values are
// immutable once built; WithKeywords returns a copy.
type Dialect struct {
	Name       schema.DatabaseType
	QuoteOpen  string
	QuoteClose string
	LimitStyle LimitStyle

	// BackslashEscapes is set for engines that treat '\' in string
	// literals as an escape character (MySQL's default sql_mode).
	BackslashEscapes bool

	// Fallback marks a type with no SQL engine of its own (MongoDB);
	// generation proceeds with ANSI rules and a warning.
	Fallback bool

	keywords map[string]struct{}
}

// IsReserved reports whether ident collides with a keyword of d,
// compared case-insensitively.
func (d Dialect) IsReserved(ident string) bool {
	_, ok := d.keywords[strings.ToLower(ident)]
	return ok
}

// Quote wraps ident in d's quote pair if and only if it is reserved.
func (d Dialect) Quote(ident string) string {
	if !d.IsReserved(ident) {
		return ident
	}
	return d.QuoteOpen + ident + d.QuoteClose
}

// Qualify renders table.column with both parts quoted as needed.
func (d Dialect) Qualify(table, column string) string {
	return d.Quote(table) + "." + d.Quote(column)
}

// Literal renders s as a single-quoted string literal.
func (d Dialect) Literal(s string) string {
	if d.BackslashEscapes {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Keywords returns d's reserved words, sorted.
func (d Dialect) Keywords() []string {
	out := make([]string, 0, len(d.keywords))
	for k := range d.keywords {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WithKeywords returns a copy of d with words added to its reserved set.
func (d Dialect) WithKeywords(words ...string) Dialect {
	kw := make(map[string]struct{}, len(d.keywords)+len(words))
	for k := range d.keywords {
		kw[k] = struct{}{}
	}
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			kw[w] = struct{}{}
		}
	}
	d.keywords = kw
	return d
}

// --- registry ---

// commonKeywords are words that collide with healthcare column names and
// are reserved (or context-reserved) in most engines. The list is partial
// by intent: it covers what clinical schemas actually use.
var commonKeywords = []string{
	"user", "order", "group", "table", "column", "index", "view", "key",
	"primary", "foreign", "references", "constraint", "check", "unique",
	"default", "null", "not", "and", "or", "in", "exists", "between", "like",
	"is", "case", "when", "then", "else", "end", "select", "from", "where",
	"having", "limit", "offset", "join", "inner", "left", "right", "full",
	"outer", "union", "intersect", "except", "distinct", "all", "any", "some",
	"start", "date", "time", "timestamp", "type", "status", "level", "class",
	"position", "rank", "value", "count", "sum", "avg", "min", "max", "desc",
	"asc", "true", "false", "current", "session", "system",

	// Statement words. Generated SQL must pass the read-only guard, which
	// rejects these anywhere outside quotes.
	"insert", "update", "delete", "merge", "upsert", "drop", "alter", "create",
	"truncate", "rename", "grant", "revoke", "exec", "execute", "call", "into",
	"copy", "lock",
}

func keywordSet(add []string, drop ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(commonKeywords)+len(add))
	for _, k := range commonKeywords {
		set[k] = struct{}{}
	}
	for _, k := range drop {
		delete(set, k)
	}
	for _, k := range add {
		set[k] = struct{}{}
	}
	return set
}

var defaultDialects = map[schema.DatabaseType]Dialect{
	schema.PostgreSQL: {
		Name: schema.PostgreSQL, QuoteOpen: `"`, QuoteClose: `"`, LimitStyle: SuffixLimit,
		keywords: keywordSet([]string{"analyse", "analyze", "array", "returning", "window"}),
	},
	schema.MySQL: {
		Name: schema.MySQL, QuoteOpen: "`", QuoteClose: "`", LimitStyle: SuffixLimit,
		BackslashEscapes: true,
		keywords:         keywordSet([]string{"interval", "range", "rows", "row", "signal"}),
	},
	schema.SQLServer: {
		Name: schema.SQLServer, QuoteOpen: "[", QuoteClose: "]", LimitStyle: PrefixTop,
		keywords: keywordSet([]string{"top", "file", "identity", "percent", "plan", "public"}, "limit", "offset"),
	},
	schema.Oracle: {
		Name: schema.Oracle, QuoteOpen: `"`, QuoteClose: `"`, LimitStyle: FetchFirst,
		keywords: keywordSet([]string{"rownum", "rowid", "minus", "number", "comment", "size", "uid"}, "limit"),
	},
	schema.Snowflake: {
		Name: schema.Snowflake, QuoteOpen: `"`, QuoteClose: `"`, LimitStyle: SuffixLimit,
		keywords: keywordSet([]string{"qualify", "sample", "regexp", "ilike"}),
	},
	schema.MongoDB: {
		Name: schema.MongoDB, QuoteOpen: `"`, QuoteClose: `"`, LimitStyle: SuffixLimit,
		Fallback: true,
		keywords: keywordSet(nil),
	},
}

// DialectFor returns the built-in dialect for t.
func DialectFor(t schema.DatabaseType) (Dialect, bool) {
	d, ok := defaultDialects[t]
	return d, ok
}
