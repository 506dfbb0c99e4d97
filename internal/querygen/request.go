package querygen

import (
	"strings"

	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/schema"
)

// QueryType selects which table roles a query includes.
type QueryType string

const (
	Basic         QueryType = "basic"
	Clinical      QueryType = "clinical"
	Comprehensive QueryType = "comprehensive"
	Billing       QueryType = "billing"
)

// QueryTypes lists every QueryType in documentation order.
var QueryTypes = []QueryType{Basic, Clinical, Comprehensive, Billing}

func (q QueryType) Valid() bool {
	switch q {
	case Basic, Clinical, Comprehensive, Billing:
		return true
	}
	return false
}

// roles returns the non-root roles q includes.
func (q QueryType) roles() []Role {
	switch q {
	case Clinical:
		return []Role{ClinicalDetail}
	case Billing:
		return []Role{Administrative}
	case Comprehensive:
		return []Role{ClinicalDetail, Administrative}
	}
	return nil
}

// ParseQueryType matches s case-insensitively.
func ParseQueryType(s string) (QueryType, error) {
	q := QueryType(strings.ToLower(strings.TrimSpace(s)))
	if !q.Valid() {
		return "", invalidQueryType(s)
	}
	return q, nil
}

func invalidQueryType(s string) error {
	return errs.Newf(errs.ErrKindInvalidQueryType,
		"unknown query type %q: want one of basic, clinical, comprehensive, billing", s)
}

// PatientFilter says whether a query is narrowed to one patient. The zero
// value is NoFilter.
type PatientFilter struct {
	id string
}

// NoFilter returns sample rows for all patients, bounded by the limit.
func NoFilter() PatientFilter { return PatientFilter{} }

// ByID narrows the query to the patient whose identifier equals id.
func ByID(id string) PatientFilter { return PatientFilter{id: id} }

// ParsePatientFilter decides the filter for a raw caller value. Empty,
// whitespace-only, "all" and "none" (any case) mean NoFilter; any other
// value is a literal identifier.
func ParsePatientFilter(raw string) PatientFilter {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "", "all", "none":
		return NoFilter()
	}
	return ByID(v)
}

// ID returns the patient identifier and whether the filter applies.
func (f PatientFilter) ID() (string, bool) {
	return f.id, f.id != ""
}

func (f PatientFilter) String() string {
	if f.id == "" {
		return "none"
	}
	return "id=" + f.id
}

// Request is one generation input.
type Request struct {
	Schema  *schema.Unified
	Patient PatientFilter
	Type    QueryType
	Limit   int

	// RootTable picks the anchor when the schema has more than one
	// patient-root table. Empty means the schema must have exactly one.
	RootTable string
}

// Result is a generated query and what went into it.
type Result struct {
	SQL                  string              `json:"sql"`
	TablesUsed           []string            `json:"tables_used"`
	PatientFilterApplied bool                `json:"patient_filter_applied"`
	Warnings             []string            `json:"warnings"`
	Dialect              schema.DatabaseType `json:"dialect"`
	RootTable            string              `json:"root_table"`
}
