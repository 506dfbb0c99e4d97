package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/errs"
)

var _ database.DB = (*Driver)(nil)

func TestClassifyCode(t *testing.T) {
	tests := map[int]errs.ErrKind{
		1017:  errs.ErrKindPermissionDenied, // invalid username/password
		942:   errs.ErrKindNotFound,         // table or view does not exist
		936:   errs.ErrKindQueryFailed,      // missing expression
		904:   errs.ErrKindQueryFailed,      // invalid identifier
		1013:  errs.ErrKindTimeout,          // user requested cancel
		12541: errs.ErrKindConnectionFailed, // no listener
	}
	for code, want := range tests {
		assert.Equal(t, want, classifyCode(code), "ORA-%05d", code)
	}
}

func TestOwnerExprFallsBackToCurrentSchema(t *testing.T) {
	assert.Contains(t, ownerExpr, "CURRENT_SCHEMA")
}
