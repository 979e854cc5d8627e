package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func implementations(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := OpenBadger("")
	require.NoError(t, err)
	disk, err := OpenBadger(t.TempDir())
	require.NoError(t, err)

	stores := map[string]Store{"memory": NewMemory(), "badger-inmem": mem, "badger-disk": disk}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func collect(t *testing.T, s Store, prefix string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	require.NoError(t, s.ForEach([]byte(prefix), func(k, v []byte) error {
		out[string(k)] = string(v)
		return nil
	}))
	return out
}

func TestStoreSemantics(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get([]byte("n/a"))
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, s.Add([]byte("n/a"), []byte("1")))
			require.NoError(t, s.Add([]byte("n/b"), []byte("2")))
			require.NoError(t, s.Add([]byte("c/x"), []byte("3")))

			// staged writes are visible before commit
			v, err := s.Get([]byte("n/a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), v)
			assert.Equal(t, map[string]string{"n/a": "1", "n/b": "2"}, collect(t, s, "n/"))

			require.NoError(t, s.SaveChanges())
			require.NoError(t, s.Delete([]byte("n/a")))
			_, err = s.Get([]byte("n/a"))
			assert.ErrorIs(t, err, ErrKeyNotFound)
			assert.Equal(t, map[string]string{"n/b": "2"}, collect(t, s, "n/"))

			require.NoError(t, s.SaveChanges())
			assert.Equal(t, map[string]string{"c/x": "3"}, collect(t, s, "c/"))
			assert.Len(t, collect(t, s, ""), 2)
		})
	}
}

func TestForEachStops(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Add([]byte("a"), []byte("1")))
	require.NoError(t, s.Add([]byte("b"), []byte("2")))

	stop := errors.New("stop")
	var seen []string
	err := s.ForEach(nil, func(k, _ []byte) error {
		seen = append(seen, string(k))
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"a"}, seen)
}

func TestBadgerReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, s.Add([]byte("blacklist/02aa"), []byte{}))
	require.NoError(t, s.Add([]byte("node/02aa"), []byte("ann")))
	require.NoError(t, s.SaveChanges())
	require.NoError(t, s.Add([]byte("node/unsaved"), []byte("lost")))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get([]byte("node/02aa"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ann"), v)
	_, err = s.Get([]byte("node/unsaved"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// an empty value is a present key
	v, err = s.Get([]byte("blacklist/02aa"))
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestClosedStore(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Close())
	_, err := s.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SaveChanges(), ErrClosed)
}
