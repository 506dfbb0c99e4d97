package sqlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pha/internal/errs"
)

func TestCheck_Allows(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"plain select", "SELECT id FROM patients", "SELECT id FROM patients"},
		{"trailing semicolon", "  select id from patients ;  ", "select id from patients"},
		{"cte", "WITH p AS (SELECT id FROM patients) SELECT * FROM p", "WITH p AS (SELECT id FROM patients) SELECT * FROM p"},
		{"keyword inside literal", "SELECT * FROM notes WHERE body = 'drop; delete'", "SELECT * FROM notes WHERE body = 'drop; delete'"},
		{"doubled quote", "SELECT * FROM patients WHERE name = 'O''Brien'", "SELECT * FROM patients WHERE name = 'O''Brien'"},
		{"quoted identifiers", "SELECT \"update\", [delete], `insert` FROM audit", "SELECT \"update\", [delete], `insert` FROM audit"},
		{"comments", "SELECT id -- delete later\nFROM patients /* drop; */", "SELECT id -- delete later\nFROM patients /* drop; */"},
		{"word containing keyword", "SELECT updated_at, created_by FROM visits", "SELECT updated_at, created_by FROM visits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Check(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheck_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantMsg string
	}{
		{"empty", "  ;  ", "empty"},
		{"two statements", "SELECT 1; SELECT 2", "multiple"},
		{"stacked write", "SELECT 1; DROP TABLE patients", "multiple"},
		{"not a select", "DELETE FROM patients", "only SELECT"},
		{"show", "SHOW TABLES", "only SELECT"},
		{"select into", "SELECT * INTO backup FROM patients", "INTO"},
		{"cte write", "WITH x AS (DELETE FROM patients RETURNING *) SELECT * FROM x", "DELETE"},
		{"for update", "SELECT * FROM patients FOR UPDATE", "UPDATE"},
		{"unterminated literal", "SELECT 'abc FROM patients", "unterminated"},
		{"unterminated comment", "SELECT 1 /* drop", "unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Check(tt.sql)
			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCheckLiteral(t *testing.T) {
	for _, clean := range []string{"", "12345", "2024-01-15", "550e8400-e29b-41d4-a716-446655440000"} {
		assert.NoError(t, CheckLiteral("patient_id", clean), clean)
	}

	for _, attack := range []string{"' OR '1'='1", "'; DROP TABLE users--", "' OR 1=1--"} {
		err := CheckLiteral("patient_id", attack)
		require.Error(t, err, attack)
		assert.True(t, errs.IsInvalidInput(err))
		assert.Contains(t, err.Error(), "patient_id")
	}
}
