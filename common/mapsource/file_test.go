package mapsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProviderGet(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing", func(t *testing.T) {
		p, err := NewFileProvider(FileProviderOptions{Path: filepath.Join(dir, "missing.json")})
		require.NoError(t, err)

		_, err = p.Get(context.Background())
		assert.ErrorIs(t, err, ErrNoDocument)
	})

	t.Run("UnknownExtension", func(t *testing.T) {
		_, err := NewFileProvider(FileProviderOptions{Path: filepath.Join(dir, "map.txt")})
		assert.ErrorIs(t, err, crushmap.ErrUnknownFormat)
	})

	t.Run("ExplicitEncoding", func(t *testing.T) {
		path := filepath.Join(dir, "map.txt")
		require.NoError(t, os.WriteFile(path, testDocument(t, "explicit"), 0o644))

		p, err := NewFileProvider(FileProviderOptions{
			Path:     path,
			Encoding: &Encoding{Format: crushmap.FormatJSON},
		})
		require.NoError(t, err)

		snap, err := p.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "explicit", hostName(t, snap))
	})

	t.Run("Compressed", func(t *testing.T) {
		path := filepath.Join(dir, "map.json.sz")
		require.NoError(t, os.WriteFile(path, snappy.Encode(nil, testDocument(t, "squashed")), 0o644))

		p, err := NewFileProvider(FileProviderOptions{Path: path})
		require.NoError(t, err)

		snap, err := p.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "squashed", hostName(t, snap))
		assert.Equal(t, "file:"+path, snap.Source)
	})

	t.Run("GenerationIncreases", func(t *testing.T) {
		path := filepath.Join(dir, "gen.json")
		require.NoError(t, os.WriteFile(path, testDocument(t, "gen"), 0o644))

		p, err := NewFileProvider(FileProviderOptions{Path: path})
		require.NoError(t, err)

		first, err := p.Get(context.Background())
		require.NoError(t, err)
		second, err := p.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, CompareRevisions(second.Revision, first.Revision))
	})
}

func TestFileProviderWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crush.json")
	require.NoError(t, os.WriteFile(path, testDocument(t, "first"), 0o644))

	p, err := NewFileProvider(FileProviderOptions{Logger: testLogger(t), Path: path})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchCh, err := p.Watch(ctx)
	require.NoError(t, err)

	first := waitSnapshot(t, watchCh)
	assert.Equal(t, "first", hostName(t, first))

	// a broken document is skipped and does not close the watch
	require.NoError(t, os.WriteFile(path, []byte("{\"devices\": [ {"), 0o644))
	requireNoSnapshot(t, watchCh, 200*time.Millisecond)

	require.NoError(t, os.WriteFile(path, testDocument(t, "second"), 0o644))

	var latest *Snapshot
	require.Eventually(t, func() bool {
		select {
		case snap := <-watchCh:
			latest = snap
		default:
		}
		if latest == nil {
			return false
		}
		_, err := latest.Map.BucketByName("second")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, CompareRevisions(latest.Revision, first.Revision))

	cancel()
	waitClosed(t, watchCh)
}

func TestFileProviderWatchMissing(t *testing.T) {
	p, err := NewFileProvider(FileProviderOptions{Path: filepath.Join(t.TempDir(), "absent.yaml")})
	require.NoError(t, err)

	_, err = p.Watch(context.Background())
	assert.ErrorIs(t, err, ErrNoDocument)
}
