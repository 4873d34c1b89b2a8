package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llmgate/internal/apierr"
	"github.com/relaymux/llmgate/internal/config"
	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/resource"
	"github.com/relaymux/llmgate/internal/translate"
)

func TestSplitModelAction(t *testing.T) {
	model, action, ok := splitModelAction("gemini-1.5-pro:streamGenerateContent")
	require.True(t, ok)
	assert.Equal(t, "gemini-1.5-pro", model)
	assert.Equal(t, "streamGenerateContent", action)

	_, _, ok = splitModelAction("no-colon-here")
	assert.False(t, ok)
}

func TestIsOpusModel(t *testing.T) {
	assert.True(t, isOpusModel("claude-3-opus-20240229"))
	assert.True(t, isOpusModel("CLAUDE-OPUS"))
	assert.False(t, isOpusModel("claude-3-sonnet"))
}

func TestOutcomeForErr_NonAPIErrorIsTransientFail(t *testing.T) {
	outcome := outcomeForErr(errors.New("boom"))
	assert.Equal(t, resource.OutcomeTransientFail, outcome.Kind)
}

func TestOutcomeForErr_MapsAPIErrorStatus(t *testing.T) {
	outcome := outcomeForErr(apierr.New(apierr.AuthFailure, "bad token", ""))
	assert.Equal(t, resource.OutcomeInvalid, outcome.Kind)

	outcome = outcomeForErr(apierr.New(apierr.UpstreamRateLimit, "slow down", ""))
	assert.Equal(t, resource.OutcomeExhausted, outcome.Kind)
}

func TestWriteAPIError_WrapsNonAPIErrorAsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	c := ginContext(rec)

	writeAPIError(c, errors.New("unexpected"))

	assert.Equal(t, 500, rec.Code)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, string(apierr.Internal), decoded["type"])
}

func TestWriteAPIError_PreservesAPIErrorStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	c := ginContext(rec)

	writeAPIError(c, apierr.Invalid("model", "unknown model"))

	assert.Equal(t, 400, rec.Code)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, "model", decoded["param"])
}

func TestParseBody_InvalidJSONReturnsError(t *testing.T) {
	app := &App{}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("POST", "/", bytes.NewReader([]byte("not json")))

	_, ok := app.parseBody(c, translate.ParseClaudeRequest)
	assert.False(t, ok)
	assert.Equal(t, 400, rec.Code)
}

func TestLease_NoManagerConfiguredReturnsUnavailable(t *testing.T) {
	app := &App{Managers: map[credential.Kind]*resource.Manager{}}
	rec := httptest.NewRecorder()
	c := ginContext(rec)

	_, _, ok := app.lease(c, credential.KindOAuth)
	assert.False(t, ok)
	assert.Equal(t, 503, rec.Code)
}

func TestLease_NoCredentialAvailableReturnsUnavailable(t *testing.T) {
	mgr := resource.NewManager(credential.KindOAuth, nil, config.Rotation{}, nil)
	app := &App{Managers: map[credential.Kind]*resource.Manager{credential.KindOAuth: mgr}}
	rec := httptest.NewRecorder()
	c := ginContext(rec)

	_, _, ok := app.lease(c, credential.KindOAuth)
	assert.False(t, ok)
	assert.Equal(t, 503, rec.Code)
}

func TestLeaseAndRelease_RoundTrip(t *testing.T) {
	cred := &credential.Credential{ID: "a", Kind: credential.KindOAuth, State: credential.StateValid}
	mgr := resource.NewManager(credential.KindOAuth, nil, config.Rotation{}, []*credential.Credential{cred})
	app := &App{Managers: map[credential.Kind]*resource.Manager{credential.KindOAuth: mgr}}
	rec := httptest.NewRecorder()
	c := ginContext(rec)

	handle, gotMgr, ok := app.lease(c, credential.KindOAuth)
	require.True(t, ok)
	require.Equal(t, mgr, gotMgr)

	app.release(c, gotMgr, handle, resource.Outcome{Kind: resource.OutcomeOk})
	valid, _, _, _ := mgr.Snapshot()
	require.Len(t, valid, 1)
}
