package mapsource

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeZkConn struct {
	lock    sync.Mutex
	data    []byte
	mzxid   int64
	exists  bool
	watches []chan zk.Event
}

func (c *fakeZkConn) Get(path string) ([]byte, *zk.Stat, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.exists {
		return nil, nil, zk.ErrNoNode
	}
	return c.data, &zk.Stat{Mzxid: c.mzxid}, nil
}

func (c *fakeZkConn) addWatch() <-chan zk.Event {
	ch := make(chan zk.Event, 1)
	c.watches = append(c.watches, ch)
	return ch
}

func (c *fakeZkConn) GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.exists {
		return nil, nil, nil, zk.ErrNoNode
	}
	return c.data, &zk.Stat{Mzxid: c.mzxid}, c.addWatch(), nil
}

func (c *fakeZkConn) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.exists {
		return false, nil, c.addWatch(), nil
	}
	return true, &zk.Stat{Mzxid: c.mzxid}, c.addWatch(), nil
}

func (c *fakeZkConn) fire(eventType zk.EventType) {
	for _, ch := range c.watches {
		ch <- zk.Event{Type: eventType}
	}
	c.watches = nil
}

func (c *fakeZkConn) set(data []byte, mzxid int64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	eventType := zk.EventNodeDataChanged
	if !c.exists {
		eventType = zk.EventNodeCreated
	}

	c.data = data
	c.mzxid = mzxid
	c.exists = true
	c.fire(eventType)
}

func (c *fakeZkConn) delete() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.exists = false
	c.fire(zk.EventNodeDeleted)
}

func (c *fakeZkConn) watchCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.watches)
}

func newTestZkProvider(t *testing.T, conn ZkConn) *ZkProvider {
	p, err := NewZkProvider(ZkProviderOptions{
		Logger:   testLogger(t),
		Conn:     conn,
		Path:     "/crush/map",
		Encoding: Encoding{Format: crushmap.FormatJSON},
	})
	require.NoError(t, err)

	p.newBackOff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}
	return p
}

func TestZkProviderGet(t *testing.T) {
	_, err := NewZkProvider(ZkProviderOptions{})
	assert.Error(t, err)

	conn := &fakeZkConn{}
	p := newTestZkProvider(t, conn)

	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrNoDocument)

	conn.set(testDocument(t, "zk-host"), 0x100000004)
	snap, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x100000004}, snap.Revision)
	assert.Equal(t, "zk:/crush/map", snap.Source)
	assert.Equal(t, "zk-host", hostName(t, snap))
}

func TestZkProviderWatch(t *testing.T) {
	conn := &fakeZkConn{}
	conn.set(testDocument(t, "first"), 10)
	p := newTestZkProvider(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchCh, err := p.Watch(ctx)
	require.NoError(t, err)

	snap := waitSnapshot(t, watchCh)
	assert.Equal(t, []uint64{10}, snap.Revision)

	// the watch loop re-reads the node once armed, which repeats revision 10
	snap = waitSnapshot(t, watchCh)
	assert.Equal(t, []uint64{10}, snap.Revision)

	require.Eventually(t, func() bool { return conn.watchCount() == 1 }, 5*time.Second, time.Millisecond)
	conn.set(testDocument(t, "second"), 11)
	snap = waitSnapshot(t, watchCh)
	assert.Equal(t, []uint64{11}, snap.Revision)
	assert.Equal(t, "second", hostName(t, snap))

	require.Eventually(t, func() bool { return conn.watchCount() == 1 }, 5*time.Second, time.Millisecond)
	conn.delete()
	requireNoSnapshot(t, watchCh, 100*time.Millisecond)

	require.Eventually(t, func() bool { return conn.watchCount() == 1 }, 5*time.Second, time.Millisecond)
	conn.set([]byte("{{{"), 12)

	require.Eventually(t, func() bool { return conn.watchCount() == 1 }, 5*time.Second, time.Millisecond)
	requireNoSnapshot(t, watchCh, 50*time.Millisecond)

	conn.set(testDocument(t, "third"), 13)
	snap = waitSnapshot(t, watchCh)
	assert.Equal(t, []uint64{13}, snap.Revision)
	assert.Equal(t, "third", hostName(t, snap))

	cancel()
	waitClosed(t, watchCh)
}

func TestZkProviderLive(t *testing.T) {
	servers := os.Getenv("CRUSH_TEST_ZK")
	if servers == "" {
		t.Skip("CRUSH_TEST_ZK is not set")
	}

	conn, _, err := zk.Connect(strings.Split(servers, ","), 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	path := "/crushmap-test-" + uuid.NewString()
	_, err = conn.Create(path, testDocument(t, "live-one"), 0, zk.WorldACL(zk.PermAll))
	require.NoError(t, err)
	defer func() {
		_ = conn.Delete(path, -1)
	}()

	p, err := NewZkProvider(ZkProviderOptions{
		Logger:   testLogger(t),
		Conn:     conn,
		Path:     path,
		Encoding: Encoding{Format: crushmap.FormatJSON},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	watchCh, err := p.Watch(ctx)
	require.NoError(t, err)

	first := waitSnapshot(t, watchCh)
	assert.Equal(t, "live-one", hostName(t, first))

	_, err = conn.Set(path, testDocument(t, "live-two"), -1)
	require.NoError(t, err)

	var latest *Snapshot
	require.Eventually(t, func() bool {
		select {
		case snap := <-watchCh:
			latest = snap
		default:
		}
		return latest != nil && CompareRevisions(latest.Revision, first.Revision) > 0
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, "live-two", hostName(t, latest))
}
