package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licerrors "licensor/internal/errors"
	"licensor/internal/shared/testutil"
)

var errInvalid = errors.New("invalid blob")

func acceptAll([]byte) error { return nil }

func rejectValue(bad string) func([]byte) error {
	return func(b []byte) error {
		if string(b) == bad {
			return errInvalid
		}
		return nil
	}
}

func newTestStore(t *testing.T, backends ...Backend) *Store {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	s, err := New(backends, logger, WithReadRetry(2, time.Millisecond))
	require.NoError(t, err)
	return s
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestPersistAndLoad(t *testing.T) {
	a := NewMemoryBackend("a")
	b := NewMemoryBackend("b")
	s := newTestStore(t, a, b)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, []byte("blob-1")))

	loaded, err := s.Load(ctx, acceptAll)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-1"), loaded.Data)
	assert.Empty(t, loaded.Stale)
}

func TestLoadNotFound(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend("a"), NewMemoryBackend("b"))

	_, err := s.Load(context.Background(), acceptAll)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadFallsBackWhenLocationDeleted(t *testing.T) {
	a := NewMemoryBackend("a")
	b := NewMemoryBackend("b")
	s := newTestStore(t, a, b)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, []byte("blob")))
	require.NoError(t, a.Remove(ctx))

	loaded, err := s.Load(ctx, acceptAll)
	require.NoError(t, err)
	assert.Equal(t, "b", loaded.Source)
	assert.Equal(t, []string{"a"}, loaded.Stale)
}

func TestLoadPrefersNewestValidCandidate(t *testing.T) {
	a := NewMemoryBackend("a")
	b := NewMemoryBackend("b")
	c := NewMemoryBackend("c")
	now := time.Now()

	a.Set([]byte("old"), now.Add(-time.Hour))
	b.Set([]byte("new"), now)
	c.Set([]byte("newest-but-bad"), now.Add(time.Hour))

	s := newTestStore(t, a, b, c)
	loaded, err := s.Load(context.Background(), rejectValue("newest-but-bad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), loaded.Data)
	assert.Equal(t, "b", loaded.Source)
	assert.ElementsMatch(t, []string{"a", "c"}, loaded.Stale)
}

func TestLoadTieBreaksByPriority(t *testing.T) {
	a := NewMemoryBackend("a")
	b := NewMemoryBackend("b")
	ts := time.Now()
	a.Set([]byte("first"), ts)
	b.Set([]byte("second"), ts)

	s := newTestStore(t, a, b)
	loaded, err := s.Load(context.Background(), acceptAll)
	require.NoError(t, err)
	assert.Equal(t, "a", loaded.Source)
}

func TestLoadAllInvalid(t *testing.T) {
	a := NewMemoryBackend("a")
	a.Set([]byte("bad"), time.Now())

	s := newTestStore(t, a, NewMemoryBackend("b"))
	_, err := s.Load(context.Background(), rejectValue("bad"))

	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, invalid.Rejections, 1)
	assert.ErrorIs(t, err, errInvalid)
}

func TestLoadAllUnreadable(t *testing.T) {
	a := NewMemoryBackend("a")
	a.Fail = errors.New("disk on fire")

	s := newTestStore(t, a)
	_, err := s.Load(context.Background(), acceptAll)
	require.Error(t, err)
	assert.ErrorIs(t, err, licerrors.ErrStoreUnavailable)
}

type flakyBackend struct {
	*MemoryBackend
	failures atomic.Int32
}

func (f *flakyBackend) Read(ctx context.Context) ([]byte, time.Time, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, time.Time{}, errors.New("transient")
	}
	return f.MemoryBackend.Read(ctx)
}

func TestLoadRetriesTransientErrors(t *testing.T) {
	mem := NewMemoryBackend("flaky")
	mem.Set([]byte("blob"), time.Now())
	flaky := &flakyBackend{MemoryBackend: mem}
	flaky.failures.Store(1)

	s := newTestStore(t, flaky)
	loaded, err := s.Load(context.Background(), acceptAll)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), loaded.Data)
}

func TestPersistPartialFailure(t *testing.T) {
	a := NewMemoryBackend("a")
	a.Fail = errors.New("read-only")
	b := NewMemoryBackend("b")

	s := newTestStore(t, a, b)
	require.NoError(t, s.Persist(context.Background(), []byte("blob")))

	data, _, err := b.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)
}

func TestPersistAllFail(t *testing.T) {
	a := NewMemoryBackend("a")
	a.Fail = errors.New("read-only")

	s := newTestStore(t, a)
	err := s.Persist(context.Background(), []byte("blob"))
	assert.ErrorIs(t, err, licerrors.ErrStoreUnavailable)
}

func TestClearRemovesEverywhere(t *testing.T) {
	dir := t.TempDir()
	file := NewFileBackend("file", filepath.Join(dir, "license.dat"))
	db := NewSQLiteBackend(filepath.Join(dir, "app.db"))
	t.Cleanup(func() { _ = db.Close() })
	mem := NewMemoryBackend("mem")

	s := newTestStore(t, file, db, mem)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, []byte("blob")))
	require.NoError(t, s.Clear(ctx))

	_, err := s.Load(ctx, acceptAll)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHealthReportsLocations(t *testing.T) {
	a := NewMemoryBackend("a")
	a.Set([]byte("x"), time.Now())
	b := NewMemoryBackend("b")
	c := NewMemoryBackend("c")
	c.Fail = errors.New("denied")

	s := newTestStore(t, a, b, c)
	h := s.Health(context.Background())
	require.Len(t, h, 3)
	assert.True(t, h[0].Present)
	assert.False(t, h[1].Present)
	assert.Empty(t, h[1].Error)
	assert.Equal(t, "denied", h[2].Error)
}

func TestFilePaths(t *testing.T) {
	s := newTestStore(t,
		NewFileBackend("file", "/a/license.dat"),
		NewMemoryBackend("mem"),
		NewFileBackend("mirror", "/b/.license.mirror"))

	assert.Equal(t, []string{"/a/license.dat", "/b/.license.mirror"}, s.FilePaths())
}

func TestLoadAllReturnsEveryValidCandidate(t *testing.T) {
	a := NewMemoryBackend("a")
	a.Set([]byte("first"), time.Now())
	b := NewMemoryBackend("b")
	b.Set([]byte("bad"), time.Now().Add(time.Hour))
	c := NewMemoryBackend("c")
	c.Set([]byte("second"), time.Now().Add(-time.Hour))

	s := newTestStore(t, a, b, c)
	all, err := s.LoadAll(context.Background(), rejectValue("bad"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, all)
}

func TestLoadAllErrors(t *testing.T) {
	ctx := context.Background()

	_, err := newTestStore(t, NewMemoryBackend("empty")).LoadAll(ctx, acceptAll)
	assert.ErrorIs(t, err, ErrNotFound)

	bad := NewMemoryBackend("bad")
	bad.Set([]byte("bad"), time.Now())
	_, err = newTestStore(t, bad).LoadAll(ctx, rejectValue("bad"))
	var invalid *InvalidError
	assert.ErrorAs(t, err, &invalid)

	broken := NewMemoryBackend("broken")
	broken.Fail = errors.New("io error")
	_, err = newTestStore(t, broken).LoadAll(ctx, acceptAll)
	assert.ErrorIs(t, err, licerrors.ErrStoreUnavailable)
}
