package pushtoken_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callbridge/callbridge/internal/pushtoken"
)

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token.db")

	repo, err := pushtoken.OpenSQLiteRepository(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.Load(ctx)
	assert.ErrorIs(t, err, pushtoken.ErrNoRecord)

	updated := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, repo.Save(ctx, &pushtoken.Record{Token: []byte("first"), UpdatedAt: updated}))
	require.NoError(t, repo.Save(ctx, &pushtoken.Record{Token: []byte("second"), Acknowledged: true, UpdatedAt: updated}))

	record, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), record.Token)
	assert.True(t, record.Acknowledged)
	assert.True(t, record.UpdatedAt.Equal(updated))

	require.NoError(t, repo.Clear(ctx))
	require.NoError(t, repo.Clear(ctx))

	_, err = repo.Load(ctx)
	assert.ErrorIs(t, err, pushtoken.ErrNoRecord)
}

func TestSQLiteRepository_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token.db")

	repo, err := pushtoken.OpenSQLiteRepository(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, &pushtoken.Record{Token: []byte("A"), Acknowledged: true, UpdatedAt: time.Now()}))
	require.NoError(t, repo.Close())

	reopened, err := pushtoken.OpenSQLiteRepository(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	record, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), record.Token)
	assert.True(t, record.Acknowledged)
}
