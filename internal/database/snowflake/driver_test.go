package snowflake

import (
	"context"
	"errors"
	"testing"

	"github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/errs"
)

var _ database.DB = (*Driver)(nil)

func TestQualified(t *testing.T) {
	assert.Equal(t, `"PUBLIC"."PATIENTS"`, qualified("PUBLIC", "PATIENTS"))
	assert.Equal(t, `"EHR"."odd""name"`, qualified("EHR", `odd"name`))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"auth", &gosnowflake.SnowflakeError{Number: 390100, Message: "Incorrect username or password"}, errs.ErrKindPermissionDenied},
		{"missing object", &gosnowflake.SnowflakeError{Number: 2003, Message: "does not exist or not authorized"}, errs.ErrKindNotFound},
		{"compilation", &gosnowflake.SnowflakeError{Number: 1003, Message: "syntax error"}, errs.ErrKindQueryFailed},
		{"network", errors.New("no such host"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapError(tt.err, "query failed").Kind)
		})
	}
}
