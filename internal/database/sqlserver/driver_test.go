package sqlserver

import (
	"context"
	"errors"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/errs"
)

var _ database.DB = (*Driver)(nil)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"canceled", context.Canceled, errs.ErrKindTimeout},
		{"login failed", mssql.Error{Number: 18456, Message: "Login failed"}, errs.ErrKindPermissionDenied},
		{"invalid object", mssql.Error{Number: 208, Message: "Invalid object name 'encounters'"}, errs.ErrKindNotFound},
		{"syntax near keyword", mssql.Error{Number: 156, Message: "Incorrect syntax near the keyword 'user'"}, errs.ErrKindQueryFailed},
		{"cannot open database", mssql.Error{Number: 4060}, errs.ErrKindConnectionFailed},
		{"network", errors.New("read tcp: reset"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapError(tt.err, "query failed").Kind)
		})
	}
}

func TestMapError_Message(t *testing.T) {
	got := mapError(mssql.Error{Number: 156, Message: "Incorrect syntax near the keyword 'user'."}, "query failed")
	assert.Equal(t, "query failed: Incorrect syntax near the keyword 'user'.", got.Message)
}
