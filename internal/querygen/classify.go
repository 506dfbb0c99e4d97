package querygen

import (
	"strings"

	"github.com/koustreak/pha/internal/schema"
)

// Role is the part a table plays in a patient query.
type Role int

const (
	Unclassified Role = iota
	PatientRoot
	ClinicalDetail
	Administrative
)

func (r Role) String() string {
	switch r {
	case PatientRoot:
		return "patient_root"
	case ClinicalDetail:
		return "clinical_detail"
	case Administrative:
		return "administrative"
	default:
		return "unclassified"
	}
}

var (
	clinicalKeywords       = []string{"encounter", "diagnosis", "condition", "medication", "procedure", "lab", "observation", "vital"}
	administrativeKeywords = []string{"appointment", "billing", "insurance", "claim", "payment"}
	auditColumns           = []string{"created_at", "updated_at", "modified_at", "deleted_at"}
)

// TableProfile is the classification of one table.
type TableProfile struct {
	Table schema.Table
	Role  Role

	// PatientIDColumns are the columns that plausibly carry a patient
	// identifier, in declaration order.
	PatientIDColumns []string

	// PrimaryKey is the first flagged primary-key column, else a column
	// named id, else empty.
	PrimaryKey string
}

// Classify profiles t by name and column heuristics. Clinical and
// administrative keywords win over "patient", so patient_medications is a
// clinical detail table rather than a second root. This reverses the
// extraction service, which matched "patient" first; with that order such
// tables would make every schema with them ambiguous.
func Classify(t schema.Table) TableProfile {
	p := TableProfile{
		Table:            t,
		PrimaryKey:       primaryKey(t),
		PatientIDColumns: patientIDColumns(t),
	}

	name := strings.ToLower(t.Name)
	switch {
	case containsAny(name, clinicalKeywords):
		p.Role = ClinicalDetail
	case containsAny(name, administrativeKeywords):
		p.Role = Administrative
	case strings.Contains(name, "patient") && p.PrimaryKey != "" && hasIDColumn(t):
		p.Role = PatientRoot
	}
	return p
}

// FilterColumn is the column a patient literal is compared against: the
// preferred patient-id column, else the primary key.
func (p TableProfile) FilterColumn() string {
	if c := preferPatientID(p.PatientIDColumns); c != "" {
		return c
	}
	return p.PrimaryKey
}

// JoinColumn is the column that references the root's key. A generic key
// such as id identifies the detail row itself and is skipped; a key that
// names the patient (one row per patient) is a valid join column.
func (p TableProfile) JoinColumn() string {
	candidates := make([]string, 0, len(p.PatientIDColumns))
	for _, c := range p.PatientIDColumns {
		if strings.EqualFold(c, p.PrimaryKey) && !strings.Contains(strings.ToLower(c), "patient") {
			continue
		}
		candidates = append(candidates, c)
	}
	return preferPatientID(candidates)
}

func primaryKey(t schema.Table) string {
	for _, f := range t.Fields {
		if f.IsPrimaryKey {
			return f.Name
		}
	}
	for _, f := range t.Fields {
		if strings.EqualFold(f.Name, "id") {
			return f.Name
		}
	}
	return ""
}

func patientIDColumns(t schema.Table) []string {
	var cols []string
	for _, f := range t.Fields {
		if isPatientIDColumn(f.Name) {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

func isPatientIDColumn(name string) bool {
	n := strings.ToLower(name)
	if n == "id" || n == "patient_id" {
		return true
	}
	return strings.Contains(n, "patient") && strings.Contains(n, "id")
}

func hasIDColumn(t schema.Table) bool {
	for _, f := range t.Fields {
		if strings.Contains(strings.ToLower(f.Name), "id") {
			return true
		}
	}
	return false
}

// preferPatientID picks an exact patient_id, else the first candidate.
func preferPatientID(cols []string) string {
	for _, c := range cols {
		if strings.EqualFold(c, "patient_id") {
			return c
		}
	}
	if len(cols) > 0 {
		return cols[0]
	}
	return ""
}

// isDeprioritized reports id-like and audit columns, which sort after the
// clinically interesting ones.
func isDeprioritized(name string) bool {
	n := strings.ToLower(name)
	if n == "id" || strings.HasSuffix(n, "_id") || strings.HasPrefix(n, "id_") {
		return true
	}
	for _, a := range auditColumns {
		if n == a {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
