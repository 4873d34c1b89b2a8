package credential

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(context.Background(), filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStore_LoadOnFreshDatabaseReturnsEmptySnapshot(t *testing.T) {
	s := newTestSQLStore(t)
	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Cookies)
	assert.Empty(t, snap.Keys)
	assert.Empty(t, snap.Wasted)
}

func TestSQLStore_SaveThenLoadRoundTrips(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	snap := &Snapshot{
		Cookies: []*Credential{
			{ID: "c1", Kind: KindCookie, SessionToken: "sess-1", State: StateValid},
		},
		ServiceAccounts: []*Credential{
			{ID: "sa1", Kind: KindServiceAccount, ClientEmail: "svc@proj.iam", State: StateValid},
		},
	}
	require.NoError(t, s.Save(ctx, snap))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Cookies, 1)
	assert.Equal(t, "sess-1", loaded.Cookies[0].SessionToken)
	require.Len(t, loaded.ServiceAccounts, 1)
	assert.Equal(t, "svc@proj.iam", loaded.ServiceAccounts[0].ClientEmail)
}

func TestSQLStore_AddCredential_InsertsNewAndReplacesExisting(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddCredential(ctx, KindKey, &Credential{ID: "k1", Kind: KindKey, Label: "first"}))
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Keys, 1)
	assert.Equal(t, "first", snap.Keys[0].Label)

	require.NoError(t, s.AddCredential(ctx, KindKey, &Credential{ID: "k1", Kind: KindKey, Label: "replaced"}))
	snap, err = s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Keys, 1)
	assert.Equal(t, "replaced", snap.Keys[0].Label)
}

func TestSQLStore_AddCredential_UnknownKindReturnsError(t *testing.T) {
	s := newTestSQLStore(t)
	err := s.AddCredential(context.Background(), Kind("bogus"), &Credential{ID: "x"})
	assert.Error(t, err)
}

func TestSQLStore_RemoveCredential_DeletesOnlyMatchingID(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddCredential(ctx, KindOAuth, &Credential{ID: "o1", Kind: KindOAuth}))
	require.NoError(t, s.AddCredential(ctx, KindOAuth, &Credential{ID: "o2", Kind: KindOAuth}))

	require.NoError(t, s.RemoveCredential(ctx, KindOAuth, "o1"))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.OAuth, 1)
	assert.Equal(t, "o2", snap.OAuth[0].ID)
}

func TestSQLStore_MoveToWasted_RemovesFromLiveSetAndRecordsReason(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddCredential(ctx, KindCookie, &Credential{ID: "c1", Kind: KindCookie}))

	require.NoError(t, s.MoveToWasted(ctx, KindCookie, "c1", ReasonRestricted))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Cookies)
	require.Len(t, snap.Wasted, 1)
	assert.Equal(t, "c1", snap.Wasted[0].Credential.ID)
	assert.Equal(t, ReasonRestricted, snap.Wasted[0].Reason)
}

func TestSQLStore_MoveToWasted_UnknownIDIsANoOp(t *testing.T) {
	s := newTestSQLStore(t)
	err := s.MoveToWasted(context.Background(), KindCookie, "missing", ReasonBanned)
	assert.NoError(t, err)
}

func TestSQLStore_UpdateUsage_PersistsCounters(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddCredential(ctx, KindCookie, &Credential{ID: "c1", Kind: KindCookie}))

	require.NoError(t, s.UpdateUsage(ctx, "c1", UsageCounters{LifetimeInputTokens: 42}))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Cookies, 1)
	assert.EqualValues(t, 42, snap.Cookies[0].Usage.LifetimeInputTokens)
}

func TestSQLStore_Health_ReportsSQLMode(t *testing.T) {
	s := newTestSQLStore(t)
	status := s.Health(context.Background())
	assert.Equal(t, "sql", status.Mode)
	assert.NoError(t, status.Err)
}

func TestSQLStore_Health_AfterCloseReportsError(t *testing.T) {
	s, err := NewSQLStore(context.Background(), filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	status := s.Health(context.Background())
	assert.Error(t, status.Err)
}
