package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llmgate/internal/config"
	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/resource"
)

func testApp() *App {
	mgr := resource.NewManager(credential.KindKey, nil, config.Rotation{}, nil)
	return &App{
		Config:   &config.Config{Password: "secret", AdminPassword: "adminsecret"},
		Managers: map[credential.Kind]*resource.Manager{credential.KindKey: mgr},
	}
}

func ginContextWithParams(method, path string, body []byte, params gin.Params) (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, path, bytes.NewReader(body))
	c.Params = params
	return c, rec
}

func TestHandleAdminAdd_RegistersCredential(t *testing.T) {
	app := testApp()
	body, _ := json.Marshal(adminAddRequest{Label: "test", APIKey: "sk-abc"})
	c, rec := ginContextWithParams("POST", "/admin/credentials/key", body, gin.Params{{Key: "kind", Value: "key"}})

	app.handleAdminAdd(c)

	assert.Equal(t, 201, rec.Code)
	var view credentialView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "test", view.Label)
	assert.Equal(t, credential.StateValid, view.State)

	valid, _, _, _ := app.Managers[credential.KindKey].Snapshot()
	require.Len(t, valid, 1)
}

func TestHandleAdminAdd_MissingLabelIsRejected(t *testing.T) {
	app := testApp()
	body, _ := json.Marshal(adminAddRequest{APIKey: "sk-abc"})
	c, rec := ginContextWithParams("POST", "/admin/credentials/key", body, gin.Params{{Key: "kind", Value: "key"}})

	app.handleAdminAdd(c)

	assert.Equal(t, 400, rec.Code)
	valid, _, _, _ := app.Managers[credential.KindKey].Snapshot()
	assert.Empty(t, valid)
}

func TestHandleAdminAdd_UnknownKindReturnsError(t *testing.T) {
	app := testApp()
	body, _ := json.Marshal(adminAddRequest{APIKey: "sk-abc"})
	c, rec := ginContextWithParams("POST", "/admin/credentials/bogus", body, gin.Params{{Key: "kind", Value: "bogus"}})

	app.handleAdminAdd(c)

	assert.Equal(t, 400, rec.Code)
}

func TestHandleAdminList_PartitionsByState(t *testing.T) {
	app := testApp()
	mgr := app.Managers[credential.KindKey]
	require.NoError(t, mgr.AdminAdd(context.Background(), &credential.Credential{ID: "a", Kind: credential.KindKey}))

	c, rec := ginContextWithParams("GET", "/admin/credentials/key", nil, gin.Params{{Key: "kind", Value: "key"}})
	app.handleAdminList(c)

	assert.Equal(t, 200, rec.Code)
	var decoded struct {
		Valid []credentialView `json:"valid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	require.Len(t, decoded.Valid, 1)
	assert.Equal(t, "a", decoded.Valid[0].ID)
}

func TestHandleAdminRemove_DeletesCredential(t *testing.T) {
	app := testApp()
	mgr := app.Managers[credential.KindKey]
	require.NoError(t, mgr.AdminAdd(context.Background(), &credential.Credential{ID: "a", Kind: credential.KindKey}))

	c, rec := ginContextWithParams("DELETE", "/admin/credentials/key/a", nil, gin.Params{
		{Key: "kind", Value: "key"},
		{Key: "id", Value: "a"},
	})
	app.handleAdminRemove(c)

	assert.Equal(t, 204, rec.Code)
	valid, _, _, _ := mgr.Snapshot()
	assert.Empty(t, valid)
}

func TestHandleAdminWaste_DefaultsReasonToBanned(t *testing.T) {
	app := testApp()
	mgr := app.Managers[credential.KindKey]
	require.NoError(t, mgr.AdminAdd(context.Background(), &credential.Credential{ID: "a", Kind: credential.KindKey}))

	c, rec := ginContextWithParams("POST", "/admin/credentials/key/a/waste", nil, gin.Params{
		{Key: "kind", Value: "key"},
		{Key: "id", Value: "a"},
	})
	app.handleAdminWaste(c)

	assert.Equal(t, 204, rec.Code)
}

func TestHandleAdminConfig_RedactsPasswords(t *testing.T) {
	app := testApp()
	c, rec := ginContextWithParams("GET", "/admin/config", nil, nil)
	app.handleAdminConfig(c)

	assert.Equal(t, 200, rec.Code)
	var decoded config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, "***", decoded.Password)
	assert.Equal(t, "***", decoded.AdminPassword)
	assert.Equal(t, "secret", app.Config.Password, "redact must not mutate the live config")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "***", redact("secret"))
}

func TestHandleAdminSaveConfig_WritesYAMLAndUpdatesLiveConfig(t *testing.T) {
	app := testApp()
	app.ConfigPath = filepath.Join(t.TempDir(), "config.yaml")

	body, _ := json.Marshal(config.Config{Port: 9100, Password: "newsecret"})
	c, rec := ginContextWithParams("POST", "/admin/config", body, nil)
	app.handleAdminSaveConfig(c)

	assert.Equal(t, 204, rec.Code)
	assert.Equal(t, 9100, app.Config.Port)
	assert.Equal(t, "newsecret", app.Config.Password)

	data, err := os.ReadFile(app.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 9100")
}

func TestHandleAdminSaveConfig_DisabledWithoutConfigPath(t *testing.T) {
	app := testApp()
	c, rec := ginContextWithParams("POST", "/admin/config", []byte(`{}`), nil)
	app.handleAdminSaveConfig(c)
	assert.Equal(t, 400, rec.Code)
}

func TestHandleAdminStorageStatus_ReportsStoreHealth(t *testing.T) {
	app := testApp()
	app.Store = credential.NewTOMLStore(filepath.Join(t.TempDir(), "credentials.toml"))

	c, rec := ginContextWithParams("GET", "/admin/storage/status", nil, nil)
	app.handleAdminStorageStatus(c)

	assert.Equal(t, 200, rec.Code)
	var view healthView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "toml", view.Mode)
	assert.Empty(t, view.Err)
}

func TestHandleAdminStorageStatus_NoStoreConfigured(t *testing.T) {
	app := testApp()
	c, rec := ginContextWithParams("GET", "/admin/storage/status", nil, nil)
	app.handleAdminStorageStatus(c)
	assert.Equal(t, 400, rec.Code)
}

func TestHandleAdminStorageExport_RendersTOML(t *testing.T) {
	app := testApp()
	store := credential.NewTOMLStore(filepath.Join(t.TempDir(), "credentials.toml"))
	require.NoError(t, store.AddCredential(context.Background(), credential.KindKey, &credential.Credential{ID: "k1", Kind: credential.KindKey, Label: "prod", APIKey: "sk-abc"}))
	app.Store = store

	c, rec := ginContextWithParams("GET", "/admin/storage/export", nil, nil)
	app.handleAdminStorageExport(c)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "prod")
}

func TestHandleAdminStorageImport_ReplacesSnapshotAndLiveManagers(t *testing.T) {
	app := testApp()
	store := credential.NewTOMLStore(filepath.Join(t.TempDir(), "credentials.toml"))
	app.Store = store

	snap := &credential.Snapshot{
		Keys: []*credential.Credential{
			{ID: "k1", Kind: credential.KindKey, Label: "imported", APIKey: "sk-new", State: credential.StateValid},
		},
	}
	body, err := credential.EncodeSnapshotTOML(snap)
	require.NoError(t, err)

	c, rec := ginContextWithParams("POST", "/admin/storage/import", body, nil)
	app.handleAdminStorageImport(c)

	assert.Equal(t, 204, rec.Code)
	valid, _, _, _ := app.Managers[credential.KindKey].Snapshot()
	require.Len(t, valid, 1)
	assert.Equal(t, "imported", valid[0].Label)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded.Keys, 1)
}

func TestHandleAdminStorageImport_InvalidTOMLReturnsError(t *testing.T) {
	app := testApp()
	app.Store = credential.NewTOMLStore(filepath.Join(t.TempDir(), "credentials.toml"))

	c, rec := ginContextWithParams("POST", "/admin/storage/import", []byte("not = [valid"), nil)
	app.handleAdminStorageImport(c)
	assert.Equal(t, 400, rec.Code)
}
