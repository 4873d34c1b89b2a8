package api

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/relaymux/llmgate/internal/apierr"
	"github.com/relaymux/llmgate/internal/config"
	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/resource"
)

// validate is a single, stateless validator instance shared by every admin
// handler, the way the package-level validator.New() call is normally
// hoisted once rather than built per request.
var validate = validator.New()

// credentialView is the admin-facing credential projection: secrets
// (APIKey, SessionToken, RefreshToken, PrivateKey, ClientSecret) are never
// serialized back to an admin client.
type credentialView struct {
	ID string `json:"id"`
	Kind credential.Kind `json:"kind"`
	Label string `json:"label,omitempty"`
	State credential.State `json:"state"`
	InvalidReason credential.InvalidReason `json:"invalid_reason,omitempty"`
	Usage credential.UsageCounters `json:"usage"`
}

func toView(c *credential.Credential) credentialView {
	return credentialView{
		ID: c.ID,
		Kind: c.Kind,
		Label: c.Label,
		State: c.State,
		InvalidReason: c.InvalidReason,
		Usage: c.Usage,
	}
}

// handleAdminList returns the partitioned snapshot (valid / dispatched /
// exhausted / invalid) for the credential kind named in the path.
func (a *App) handleAdminList(c *gin.Context) {
	mgr, ok := a.adminManager(c)
	if !ok {
		return
	}
	valid, dispatched, exhausted, invalid := mgr.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"valid": viewAll(valid),
		"dispatched": viewAll(dispatched),
		"exhausted": viewAll(exhausted),
		"invalid": viewAll(invalid),
	})
}

func viewAll(creds []*credential.Credential) []credentialView {
	out := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, toView(c))
	}
	return out
}

// adminAddRequest is the subset of credential.Credential fields an
// operator supplies when registering one by hand; everything else
// (state, timestamps, usage counters) is derived.
type adminAddRequest struct {
	Label string `json:"label" validate:"required"`
	SessionToken string `json:"session_token"`
	APIKey string `json:"api_key"`
	ClientID string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	ClientEmail string `json:"client_email"`
	PrivateKey string `json:"private_key"`
	ProjectID string `json:"project_id"`
	KeyID string `json:"key_id"`
}

// handleAdminAdd registers a new credential of the path's kind.
func (a *App) handleAdminAdd(c *gin.Context) {
	mgr, ok := a.adminManager(c)
	if !ok {
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeAPIError(c, apierr.Invalid("body", "failed to read request body"))
		return
	}
	var req adminAddRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeAPIError(c, apierr.Invalid("body", err.Error()))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeAPIError(c, apierr.Invalid("label", "label is required"))
		return
	}

	cred := &credential.Credential{
		ID: uuid.NewString(),
		Kind: credential.Kind(c.Param("kind")),
		Label: req.Label,
		SessionToken: req.SessionToken,
		APIKey: req.APIKey,
		ClientID: req.ClientID,
		ClientSecret: req.ClientSecret,
		RefreshToken: req.RefreshToken,
		ClientEmail: req.ClientEmail,
		PrivateKey: req.PrivateKey,
		ProjectID: req.ProjectID,
		KeyID: req.KeyID,
	}
	if err := mgr.AdminAdd(c.Request.Context(), cred); err != nil {
		writeAPIError(c, apierr.New(apierr.StorageUnavailable, err.Error(), ""))
		return
	}
	c.JSON(http.StatusCreated, toView(cred))
}

// handleAdminRemove deletes a credential outright (not tombstoned).
func (a *App) handleAdminRemove(c *gin.Context) {
	mgr, ok := a.adminManager(c)
	if !ok {
		return
	}
	if err := mgr.AdminRemove(c.Request.Context(), c.Param("id")); err != nil {
		writeAPIError(c, apierr.New(apierr.StorageUnavailable, err.Error(), ""))
		return
	}
	c.Status(http.StatusNoContent)
}

type adminWasteRequest struct {
	Reason credential.InvalidReason `json:"reason"`
}

// handleAdminWaste tombstones a credential into the wasted set with an
// operator-supplied reason, defaulting to "banned" when omitted.
func (a *App) handleAdminWaste(c *gin.Context) {
	mgr, ok := a.adminManager(c)
	if !ok {
		return
	}
	raw, _ := io.ReadAll(c.Request.Body)
	req := adminWasteRequest{Reason: credential.ReasonBanned}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			writeAPIError(c, apierr.Invalid("body", err.Error()))
			return
		}
	}
	if err := mgr.AdminWaste(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		writeAPIError(c, apierr.New(apierr.StorageUnavailable, err.Error(), ""))
		return
	}
	c.Status(http.StatusNoContent)
}

// handleAdminConfig reports the live process configuration, redacting the
// two bearer-token secrets.
func (a *App) handleAdminConfig(c *gin.Context) {
	cfg := *a.Config
	cfg.Password = redact(cfg.Password)
	cfg.AdminPassword = redact(cfg.AdminPassword)
	c.JSON(http.StatusOK, cfg)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// handleAdminSaveConfig replaces the live process configuration with the
// JSON body and persists it to ConfigPath as YAML, the format the process
// was originally loaded from. Disabled when ConfigPath is empty (answered
// with a 400 invalid_input error), e.g. in tests that only exercise
// individual Managers.
func (a *App) handleAdminSaveConfig(c *gin.Context) {
	if a.ConfigPath == "" {
		writeAPIError(c, apierr.Invalid("config", "config save is disabled for this process"))
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeAPIError(c, apierr.Invalid("body", "failed to read request body"))
		return
	}
	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		writeAPIError(c, apierr.Invalid("body", err.Error()))
		return
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		writeAPIError(c, apierr.New(apierr.InvalidInput, err.Error(), ""))
		return
	}
	if err := os.WriteFile(a.ConfigPath, out, 0o644); err != nil {
		writeAPIError(c, apierr.New(apierr.StorageUnavailable, err.Error(), ""))
		return
	}
	*a.Config = cfg
	c.Status(http.StatusNoContent)
}

// healthView mirrors credential.HealthStatus with an error rendered as a
// string, since error doesn't round-trip through encoding/json.
type healthView struct {
	Mode string `json:"mode"`
	LatencyMS int64 `json:"latency_ms"`
	LastWrite string `json:"last_write,omitempty"`
	Err string `json:"error,omitempty"`
}

// handleAdminStorageStatus reports Store.Health, the liveness probe for
// whichever persistence backend the process is configured with.
func (a *App) handleAdminStorageStatus(c *gin.Context) {
	if a.Store == nil {
		writeAPIError(c, apierr.Invalid("storage", "no credential store configured"))
		return
	}
	status := a.Store.Health(c.Request.Context())
	view := healthView{
		Mode: status.Mode,
		LatencyMS: status.Latency.Milliseconds(),
	}
	if !status.LastWrite.IsZero() {
		view.LastWrite = status.LastWrite.UTC().Format(http.TimeFormat)
	}
	if status.Err != nil {
		view.Err = status.Err.Error()
	}
	c.JSON(http.StatusOK, view)
}

// handleAdminStorageExport renders the full credential snapshot as TOML,
// independent of whether the live backend is TOML or SQL.
func (a *App) handleAdminStorageExport(c *gin.Context) {
	if a.Store == nil {
		writeAPIError(c, apierr.Invalid("storage", "no credential store configured"))
		return
	}
	snap, err := a.Store.Load(c.Request.Context())
	if err != nil {
		writeAPIError(c, apierr.New(apierr.StorageUnavailable, err.Error(), ""))
		return
	}
	out, err := credential.EncodeSnapshotTOML(snap)
	if err != nil {
		writeAPIError(c, apierr.New(apierr.InvalidInput, err.Error(), ""))
		return
	}
	c.Data(http.StatusOK, "application/toml", out)
}

// handleAdminStorageImport replaces the full credential snapshot from a
// TOML body, persists it through Store, and immediately replaces every
// live Manager's working set so the import takes effect without waiting
// on the file watcher's reload cycle.
func (a *App) handleAdminStorageImport(c *gin.Context) {
	if a.Store == nil {
		writeAPIError(c, apierr.Invalid("storage", "no credential store configured"))
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeAPIError(c, apierr.Invalid("body", "failed to read request body"))
		return
	}
	snap, err := credential.DecodeSnapshotTOML(raw)
	if err != nil {
		writeAPIError(c, apierr.Invalid("body", err.Error()))
		return
	}
	if err := a.Store.Save(c.Request.Context(), snap); err != nil {
		writeAPIError(c, apierr.New(apierr.StorageUnavailable, err.Error(), ""))
		return
	}
	for kind, mgr := range a.Managers {
		mgr.ReplaceAll(snap.ByKind(kind))
	}
	c.Status(http.StatusNoContent)
}

// adminManager resolves the :kind path parameter to its Manager, writing
// the standard error envelope for an unknown or unconfigured kind.
func (a *App) adminManager(c *gin.Context) (*resource.Manager, bool) {
	kind := credential.Kind(c.Param("kind"))
	mgr := a.managerFor(kind)
	if mgr == nil {
		writeAPIError(c, apierr.Invalid("kind", "unknown or unconfigured credential kind"))
		return nil, false
	}
	return mgr, true
}
