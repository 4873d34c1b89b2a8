package apierr

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TruncatesLongUpstreamBody(t *testing.T) {
	body := strings.Repeat("x", maxUpstreamBodyLen+100)
	err := New(UpstreamInvalid, "bad upstream response", body)

	assert.True(t, strings.HasSuffix(err.UpstreamBody, "...(truncated)"))
	assert.Len(t, err.UpstreamBody, maxUpstreamBodyLen+len("...(truncated)"))
}

func TestNew_ShortBodyUntouched(t *testing.T) {
	err := New(Internal, "boom", "short body")
	assert.Equal(t, "short body", err.UpstreamBody)
}

func TestInvalid_SetsParamAndType(t *testing.T) {
	err := Invalid("model", "unknown model")
	assert.Equal(t, InvalidInput, err.ErrType)
	assert.Equal(t, "model", err.Param)
	assert.Equal(t, "unknown model", err.Message)
}

func TestHTTPStatus_MapsKnownTypes(t *testing.T) {
	cases := map[Type]int{
		InvalidInput:        http.StatusBadRequest,
		AuthFailure:         http.StatusUnauthorized,
		Unavailable:         http.StatusServiceUnavailable,
		UpstreamRateLimit:   http.StatusTooManyRequests,
		UpstreamInvalid:     http.StatusBadGateway,
		UpstreamTransient:   http.StatusBadGateway,
		Internal:            http.StatusInternalServerError,
		StorageUnavailable:  http.StatusServiceUnavailable,
	}
	for typ, want := range cases {
		err := New(typ, "msg", "")
		assert.Equal(t, want, err.HTTPStatus(), "type %s", typ)
	}
}

func TestHTTPStatus_UnknownTypeFallsBackToInternal(t *testing.T) {
	err := &Error{ErrType: Type("something_unregistered")}
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestHTTPStatus_NilReceiverIsInternal(t *testing.T) {
	var err *Error
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestError_NilReceiverReturnsEmptyString(t *testing.T) {
	var err *Error
	assert.Equal(t, "", err.Error())
}

func TestError_FormatsTypeAndMessage(t *testing.T) {
	err := New(AuthFailure, "token expired", "")
	assert.Equal(t, "auth_failure: token expired", err.Error())
}

func TestToJSON_OmitsParamWhenEmptyAndNeverLeaksUpstreamBody(t *testing.T) {
	err := New(UpstreamInvalid, "bad gateway", "sensitive upstream payload")
	out := err.ToJSON()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "upstream_invalid", decoded["type"])
	assert.Equal(t, "bad gateway", decoded["message"])
	_, hasParam := decoded["param"]
	assert.False(t, hasParam)
	assert.NotContains(t, string(out), "sensitive upstream payload")
}

func TestToJSON_IncludesParamWhenSet(t *testing.T) {
	err := Invalid("label", "label is required")
	out := err.ToJSON()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "label", decoded["param"])
}
