package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := New(Validation, "search", "query too short")
	wrapped := fmt.Errorf("handler: %w", base)

	assert.Equal(t, Validation, KindOf(wrapped))
	assert.True(t, Is(wrapped, Validation))
	assert.False(t, Is(wrapped, Timeout))
	assert.False(t, Is(nil, Validation))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{Validation, http.StatusBadRequest},
		{InputNotFound, http.StatusNotFound},
		{Timeout, http.StatusGatewayTimeout},
		{QuotaExceeded, http.StatusTooManyRequests},
		{UpstreamUnavailable, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.kind, "op", "msg")))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(TransientIO, "fetch", nil))

	raw := errors.New("connection reset")
	err := Wrap(TransientIO, "fetch", raw)
	assert.ErrorIs(t, err, raw)
	assert.Equal(t, "fetch: connection reset", err.Error())

	err = Wrapf(InputNotFound, "merge", raw, "missing %s", "videos.csv")
	assert.Equal(t, "merge: missing videos.csv: connection reset", err.Error())
	assert.Equal(t, "missing videos.csv", PublicMessage(err))
	assert.Equal(t, "internal server error", PublicMessage(raw))
}
