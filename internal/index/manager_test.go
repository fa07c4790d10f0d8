package index_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuchat/docuchat/internal/gemini"
	"github.com/docuchat/docuchat/internal/index"
	"github.com/docuchat/docuchat/internal/log"
	"github.com/docuchat/docuchat/internal/testutil"
)

func TestEnsureCreatesStoreOnce(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService()
	m := index.NewManager(svc, "test-store", "", log.NewNop())

	h, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, h.Name)
	assert.Equal(t, "test-store", h.DisplayName)

	// Second call reuses the handle; no new store is created.
	h2, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.Name, h2.Name)
	assert.Equal(t, int32(1), svc.CreateStoreCalls.Load())
}

func TestEnsureConcurrentCallersShareOneCreation(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService()

	// Slow down creation so all goroutines arrive while it is in flight.
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	svc.CreateStoreFunc = func(_ context.Context, displayName string) (*gemini.Store, error) {
		once.Do(func() { close(started) })
		<-release
		return &gemini.Store{Name: "fileSearchStores/only", DisplayName: displayName}, nil
	}

	m := index.NewManager(svc, "test-store", "", log.NewNop())

	const callers = 16
	results := make(chan index.Handle, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Ensure(context.Background())
			if err != nil {
				errs <- err
				return
			}
			results <- h
		}()
	}

	<-started
	// All callers are either queued on the singleflight or about to be.
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("Ensure failed: %v", err)
	}
	for h := range results {
		assert.Equal(t, "fileSearchStores/only", h.Name)
	}
	assert.Equal(t, int32(1), svc.CreateStoreCalls.Load(),
		"concurrent callers must share one creation")
}

func TestEnsureRecreatesAfterStaleness(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService()
	m := index.NewManager(svc, "test-store", "", log.NewNop())

	h, err := m.Ensure(context.Background())
	require.NoError(t, err)

	// Simulate out-of-band deletion: the server forgets the store while
	// the client still holds its handle.
	svc.ForgetStore(h.Name)

	h2, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, h.Name, h2.Name, "stale name must not be reused")
	assert.Equal(t, int32(2), svc.CreateStoreCalls.Load())
}

func TestEnsureRetriesAfterCreationFailure(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService()
	fail := true
	svc.CreateStoreFunc = func(_ context.Context, displayName string) (*gemini.Store, error) {
		if fail {
			return nil, errors.New("500 internal error")
		}
		return &gemini.Store{Name: "fileSearchStores/recovered", DisplayName: displayName}, nil
	}

	m := index.NewManager(svc, "test-store", "", log.NewNop())

	_, err := m.Ensure(context.Background())
	require.Error(t, err)

	// The failed creation must not be memoized.
	fail = false
	h, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, h.Name)
}

func TestEnsureLivenessKeepsHandleOnTransportError(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService()
	m := index.NewManager(svc, "test-store", "", log.NewNop())

	h, err := m.Ensure(context.Background())
	require.NoError(t, err)

	// A flaky network during the liveness check is inconclusive; the
	// cached handle is kept rather than orphaning a live store.
	svc.GetStoreFunc = func(context.Context, string) (*gemini.Store, error) {
		return nil, errors.New("503 unavailable")
	}

	h2, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.Name, h2.Name)
	assert.Equal(t, int32(1), svc.CreateStoreCalls.Load())
}

func TestDiskCacheReusesStoreAcrossManagers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc := testutil.NewFakeService()

	m1 := index.NewManager(svc, "test-store", dir, log.NewNop())
	h1, err := m1.Ensure(context.Background())
	require.NoError(t, err)

	// A fresh manager (simulating a process restart) finds the cached
	// identifier and reuses the same store.
	m2 := index.NewManager(svc, "test-store", dir, log.NewNop())
	h2, err := m2.Ensure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, h1.Name, h2.Name)
	assert.Equal(t, int32(1), svc.CreateStoreCalls.Load())
}

func TestDiskCacheStaleEntryDiscarded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc := testutil.NewFakeService()

	m1 := index.NewManager(svc, "test-store", dir, log.NewNop())
	h1, err := m1.Ensure(context.Background())
	require.NoError(t, err)

	svc.ForgetStore(h1.Name)

	m2 := index.NewManager(svc, "test-store", dir, log.NewNop())
	h2, err := m2.Ensure(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, h1.Name, h2.Name)
}

func TestResetClearsDiskCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc := testutil.NewFakeService()

	m := index.NewManager(svc, "test-store", dir, log.NewNop())
	_, err := m.Ensure(context.Background())
	require.NoError(t, err)

	m.Reset()

	// After a reset a fresh manager must create a new store rather than
	// reuse a cached identifier belonging to the old credential.
	m2 := index.NewManager(svc, "test-store", dir, log.NewNop())
	_, err = m2.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.CreateStoreCalls.Load())
}

func TestDeleteRemovesStoreAndCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc := testutil.NewFakeService()

	m := index.NewManager(svc, "test-store", dir, log.NewNop())
	_, err := m.Ensure(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, svc.StoreCount())

	require.NoError(t, m.Delete(context.Background(), true))
	assert.Equal(t, 0, svc.StoreCount())

	// Deleting again is a no-op.
	require.NoError(t, m.Delete(context.Background(), true))
}
