// Package querygen turns a unified schema and a patient filter into one
// dialect-correct SELECT statement. It never executes SQL.
//
// Generation is pure: a Generator holds only immutable rules, so one value
// may serve any number of goroutines, and the same Request always yields
// the same SQL.
package querygen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/schema"
)

// DefaultColumnCap bounds the interesting columns selected per table.
const DefaultColumnCap = 8

// Generator builds patient queries. Construct with New.
type Generator struct {
	columnCap int
	dialects  map[schema.DatabaseType]Dialect
}

// Option configures a Generator.
type Option func(*Generator)

// WithColumnCap overrides DefaultColumnCap. Values below 1 are ignored.
func WithColumnCap(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.columnCap = n
		}
	}
}

// WithExtraKeywords adds reserved words to one dialect. Unknown types are
// ignored.
func WithExtraKeywords(t schema.DatabaseType, words ...string) Option {
	return func(g *Generator) {
		if d, ok := g.dialects[t]; ok {
			g.dialects[t] = d.WithKeywords(words...)
		}
	}
}

// New returns a Generator with the built-in dialects and opts applied.
func New(opts ...Option) *Generator {
	g := &Generator{
		columnCap: DefaultColumnCap,
		dialects:  make(map[schema.DatabaseType]Dialect, len(defaultDialects)),
	}
	for t, d := range defaultDialects {
		g.dialects[t] = d
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dialect returns g's rules for t.
func (g *Generator) Dialect(t schema.DatabaseType) (Dialect, bool) {
	d, ok := g.dialects[t]
	return d, ok
}

// ColumnCap returns the per-table interesting-column cap.
func (g *Generator) ColumnCap() int { return g.columnCap }

var defaultGenerator = New()

// Generate is the raw-string entry point: it parses patientID and
// queryType the way the HTTP layer does and runs the default Generator.
func Generate(s *schema.Unified, patientID, queryType string, limit int) (*Result, error) {
	return defaultGenerator.Generate(Request{
		Schema:  s,
		Patient: ParsePatientFilter(patientID),
		Type:    QueryType(strings.ToLower(strings.TrimSpace(queryType))),
		Limit:   limit,
	})
}

// Generate builds the query for req. Inputs are checked in order: schema,
// query type, limit, patient root. The first failure is returned as an
// *errs.Error and no partial result is produced.
func (g *Generator) Generate(req Request) (*Result, error) {
	if err := req.Schema.Validate(); err != nil {
		return nil, err
	}
	dialect, ok := g.dialects[req.Schema.DatabaseInfo.Type]
	if !ok {
		return nil, errs.Newf(errs.ErrKindSchema, "no dialect for database type %q", req.Schema.DatabaseInfo.Type)
	}
	if !req.Type.Valid() {
		return nil, invalidQueryType(string(req.Type))
	}
	if req.Limit <= 0 {
		return nil, errs.Newf(errs.ErrKindInvalidLimit, "limit must be a positive integer, got %d", req.Limit)
	}

	b := &build{gen: g, dialect: dialect, req: req}
	if dialect.Fallback {
		b.warn("%s has no SQL dialect; generated ANSI SQL", dialect.Name)
	}

	profiles := make([]TableProfile, len(req.Schema.Tables))
	for i, t := range req.Schema.Tables {
		profiles[i] = Classify(t)
	}

	root, err := b.pickRoot(profiles)
	if err != nil {
		return nil, err
	}
	details := b.pickDetails(profiles)

	return b.render(root, details), nil
}

// --- build state ---

type build struct {
	gen      *Generator
	dialect  Dialect
	req      Request
	warnings []string
}

func (b *build) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *build) pickRoot(profiles []TableProfile) (TableProfile, error) {
	var roots []TableProfile
	for _, p := range profiles {
		if p.Role == PatientRoot {
			roots = append(roots, p)
		}
	}
	if len(roots) == 0 {
		return TableProfile{}, errs.Newf(errs.ErrKindNoPatientTable,
			"no patient table among %d tables: need a table named like 'patient' with a primary key and an id column",
			len(profiles))
	}

	if want := b.req.RootTable; want != "" {
		for _, r := range roots {
			if strings.EqualFold(r.Table.Name, want) {
				if len(roots) > 1 {
					b.warn("ignoring other patient root tables: %s", joinNames(roots, r.Table.Name))
				}
				return r, nil
			}
		}
		return TableProfile{}, errs.Newf(errs.ErrKindSchema,
			"root table %q is not a patient root table (candidates: %s)", want, joinNames(roots, ""))
	}

	if len(roots) > 1 {
		return TableProfile{}, errs.Newf(errs.ErrKindSchema,
			"ambiguous patient root: %s; set root_table to choose one", joinNames(roots, ""))
	}
	return roots[0], nil
}

// pickDetails returns the joinable non-root tables req.Type asks for, in
// declaration order.
func (b *build) pickDetails(profiles []TableProfile) []TableProfile {
	want := b.req.Type.roles()
	byRole := make(map[Role][]TableProfile, len(want))
	for _, p := range profiles {
		byRole[p.Role] = append(byRole[p.Role], p)
	}

	include := make(map[Role]bool, len(want)+1)
	for _, role := range want {
		if len(byRole[role]) == 0 {
			b.warn("no %s tables found", role)
			continue
		}
		include[role] = true
	}
	if b.req.Type == Comprehensive && len(include) == 0 && len(byRole[Unclassified]) > 0 {
		b.warn("falling back to unclassified tables")
		include[Unclassified] = true
	}

	var out []TableProfile
	for _, p := range profiles {
		if p.Role == PatientRoot || !include[p.Role] {
			continue
		}
		if p.JoinColumn() == "" {
			b.warn("table %s has no patient id column; skipped", p.Table.Name)
			continue
		}
		out = append(out, p)
	}
	return out
}

// --- rendering ---

func (b *build) render(root TableProfile, details []TableProfile) *Result {
	d := b.dialect

	tables := append([]TableProfile{root}, details...)
	var cols []string
	for _, p := range tables {
		for _, c := range b.selectColumns(p) {
			cols = append(cols, d.Qualify(p.Table.Name, c))
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if d.LimitStyle == PrefixTop {
		sb.WriteString("TOP " + strconv.Itoa(b.req.Limit) + " ")
	}
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString("\nFROM " + d.Quote(root.Table.Name))

	rootKey := d.Qualify(root.Table.Name, root.PrimaryKey)
	for _, p := range details {
		sb.WriteString(fmt.Sprintf("\nLEFT JOIN %s ON %s = %s",
			d.Quote(p.Table.Name), rootKey, d.Qualify(p.Table.Name, p.JoinColumn())))
	}

	id, filtered := b.req.Patient.ID()
	if filtered {
		sb.WriteString(fmt.Sprintf("\nWHERE %s = %s",
			d.Qualify(root.Table.Name, root.FilterColumn()), d.Literal(id)))
	}

	sb.WriteString("\nORDER BY " + rootKey)
	switch d.LimitStyle {
	case SuffixLimit:
		sb.WriteString("\nLIMIT " + strconv.Itoa(b.req.Limit))
	case FetchFirst:
		sb.WriteString("\nFETCH FIRST " + strconv.Itoa(b.req.Limit) + " ROWS ONLY")
	}

	used := make([]string, len(tables))
	for i, p := range tables {
		used[i] = p.Table.Name
	}

	warnings := b.warnings
	if warnings == nil {
		warnings = []string{}
	}
	return &Result{
		SQL:                  sb.String(),
		TablesUsed:           used,
		PatientFilterApplied: filtered,
		Warnings:             warnings,
		Dialect:              d.Name,
		RootTable:            root.Table.Name,
	}
}

// selectColumns returns the primary key, the patient-id columns, then up to
// columnCap remaining columns with id-like and audit columns moved last.
func (b *build) selectColumns(p TableProfile) []string {
	var out []string
	taken := make(map[string]bool)
	take := func(name string) {
		key := strings.ToLower(name)
		if name == "" || taken[key] {
			return
		}
		taken[key] = true
		out = append(out, name)
	}

	take(p.PrimaryKey)
	for _, c := range p.PatientIDColumns {
		take(c)
	}

	var preferred, later []string
	for _, f := range p.Table.Fields {
		if taken[strings.ToLower(f.Name)] {
			continue
		}
		if isDeprioritized(f.Name) {
			later = append(later, f.Name)
		} else {
			preferred = append(preferred, f.Name)
		}
	}
	eligible := append(preferred, later...)

	limit := b.gen.columnCap
	if len(eligible) > limit {
		b.warn("table %s truncated to %d columns", p.Table.Name, limit)
		eligible = eligible[:limit]
	}
	for _, c := range eligible {
		take(c)
	}
	return out
}

func joinNames(profiles []TableProfile, skip string) string {
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if p.Table.Name != skip {
			names = append(names, p.Table.Name)
		}
	}
	return strings.Join(names, ", ")
}
