package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"OnchainAgent/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertAndSelect(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, storage.TableTokens, "0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	require.NoError(t, store.Upsert(ctx, storage.TableTokens, "0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	require.NoError(t, store.Upsert(ctx, storage.TableNFTs, "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"))

	tokens, err := store.SelectAll(ctx, storage.TableTokens)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x5FbDB2315678afecb367f032d93F642f64180aa3"}, tokens)

	nfts, err := store.SelectAll(ctx, storage.TableNFTs)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"}, nfts)

	require.NoError(t, store.Ping(ctx))
}

func TestEmptyTableReturnsEmptySlice(t *testing.T) {
	store := openTestStore(t)
	keys, err := store.SelectAll(context.Background(), storage.TableNFTs)
	require.NoError(t, err)
	assert.NotNil(t, keys)
	assert.Empty(t, keys)
}

func TestConcurrentUpsertsKeepOneRowPerAddress(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addrs := []string{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Upsert(ctx, storage.TableTokens, addrs[i%2]))
		}(i)
	}
	wg.Wait()

	keys, err := store.SelectAll(ctx, storage.TableTokens)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, addrs, keys)
}

func TestRejectsUnknownTable(t *testing.T) {
	store := openTestStore(t)
	err := store.Upsert(context.Background(), "wallets", "0x1")
	assert.True(t, errors.Is(err, storage.ErrUnknownTable))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, storage.TableTokens, "0xabc"))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	keys, err := reopened.SelectAll(ctx, storage.TableTokens)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, keys)
}
