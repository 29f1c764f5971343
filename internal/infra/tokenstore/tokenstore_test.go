package tokenstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/boddenberg/crm-leads-go/internal/infra/tokenstore"
	"github.com/boddenberg/crm-leads-go/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	_ port.TokenStore = (*tokenstore.FileStore)(nil)
	_ port.TokenStore = (*tokenstore.MemoryStore)(nil)
)

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := tokenstore.NewFileStore(dir, zap.NewNop())
	ctx := context.Background()

	_, ok := store.Get(ctx)
	assert.False(t, ok, "empty store must report absent")

	require.NoError(t, store.Save(ctx, "secret-token"))

	token, ok := store.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "secret-token", token)

	raw, err := os.ReadFile(filepath.Join(dir, tokenstore.TokenKey))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token", "token must not be stored in clear text")

	info, err := os.Stat(filepath.Join(dir, tokenstore.TokenKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, tokenstore.NewFileStore(dir, zap.NewNop()).Save(ctx, "abc"))

	token, ok := tokenstore.NewFileStore(dir, zap.NewNop()).Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc", token)
}

func TestFileStore_Delete(t *testing.T) {
	dir := t.TempDir()
	store := tokenstore.NewFileStore(dir, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx), "deleting an absent token is not an error")
	require.NoError(t, store.Save(ctx, "abc"))
	require.NoError(t, store.Delete(ctx))

	_, ok := store.Get(ctx)
	assert.False(t, ok)
}

func TestFileStore_TamperedFileIsAbsent(t *testing.T) {
	dir := t.TempDir()
	store := tokenstore.NewFileStore(dir, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "abc"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tokenstore.TokenKey), []byte(strings.Repeat("A", 80)), 0o600))

	_, ok := store.Get(ctx)
	assert.False(t, ok)
}

func TestFileStore_SaveFailureSurfaces(t *testing.T) {
	// A regular file where the directory should be makes MkdirAll fail.
	parent := t.TempDir()
	blocker := filepath.Join(parent, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store := tokenstore.NewFileStore(filepath.Join(blocker, "tokens"), zap.NewNop())
	err := store.Save(context.Background(), "abc")

	var storeErr *domain.ErrTokenStore
	require.True(t, errors.As(err, &storeErr), "expected ErrTokenStore, got %v", err)
	assert.Equal(t, "save", storeErr.Op)

	_, ok := store.Get(context.Background())
	assert.False(t, ok, "read failures are reported as absent")
}

func TestMemoryStore_ScopedPerOrigin(t *testing.T) {
	ctx := context.Background()
	a := tokenstore.NewMemoryStore("https://a.example")
	b := a.ForOrigin("https://b.example")

	require.NoError(t, a.Save(ctx, "token-a"))

	token, ok := a.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "token-a", token)

	_, ok = b.Get(ctx)
	assert.False(t, ok, "other origins must not see the token")

	require.NoError(t, a.Delete(ctx))
	_, ok = a.Get(ctx)
	assert.False(t, ok)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := tokenstore.NewMemoryStore("default")
	assert.Error(t, store.Save(ctx, "abc"))

	_, ok := store.Get(ctx)
	assert.False(t, ok)
}
