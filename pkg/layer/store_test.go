package layer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Meta()
	require.ErrorIs(t, err, ErrNoMeta)

	meta := Meta{Name: "base", RunID: "r1", Created: time.Unix(1700000000, 0).UTC(), NextTypeID: 7, NextMethodID: 3, NextFieldID: 2}
	records := []Record{
		{Kind: KindType, Key: "A", ID: 5, Flags: []string{"reachable", "allocated"}},
		{Kind: KindType, Key: "B", ID: 6},
		{Kind: KindMethod, Key: "A.run()", ID: 2, Flags: []string{"implementation-invoked"}},
	}
	require.NoError(t, s.Persist(context.Background(), meta, records))

	got, err := s.Meta()
	require.NoError(t, err)
	require.True(t, meta.Created.Equal(got.Created))
	got.Created = meta.Created
	require.Equal(t, meta, got)

	rec, ok, err := s.Lookup(KindType, "A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, records[0], rec)
	require.True(t, rec.Has("allocated"))
	require.False(t, rec.Has("in-heap"))

	_, ok, err = s.Lookup(KindField, "A")
	require.NoError(t, err)
	require.False(t, ok, "kinds have separate key spaces")

	var keys []string
	require.NoError(t, s.ForEach(KindType, func(r Record) error {
		keys = append(keys, r.Key)
		return nil
	}))
	require.Equal(t, []string{"A", "B"}, keys)
}

func TestStore_PersistHonoursContext(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Persist(ctx, Meta{Name: "x"}, []Record{{Kind: KindType, Key: "A"}})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.Meta()
	require.ErrorIs(t, err, ErrNoMeta, "a cancelled persist writes nothing")
}

func TestStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Persist(context.Background(), Meta{Name: "disk"}, nil))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	meta, err := s.Meta()
	require.NoError(t, err)
	require.Equal(t, "disk", meta.Name)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.ErrorContains(t, err, "path is required")
}
