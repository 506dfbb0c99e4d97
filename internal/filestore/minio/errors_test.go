package minio

import (
	"context"
	"errors"
	"net/http"
	"testing"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"github.com/koustreak/pha/internal/errs"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"no such key", miniogo.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, errs.ErrKindNotFound},
		{"code wins over status", miniogo.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}, errs.ErrKindTimeout},
		{"access denied", miniogo.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, errs.ErrKindPermissionDenied},
		{"bare 401", miniogo.ErrorResponse{StatusCode: http.StatusUnauthorized}, errs.ErrKindPermissionDenied},
		{"bad bucket name", miniogo.ErrorResponse{Code: "InvalidBucketName", StatusCode: http.StatusBadRequest}, errs.ErrKindInvalidInput},
		{"network", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, "op", got.Message)
		})
	}

	assert.Nil(t, mapError(nil, "op"))
}
