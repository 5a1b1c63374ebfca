package presence_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/clock"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/presence"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
)

const roomID int64 = 7

type fakeAPI struct {
	mu        sync.Mutex
	calls     []string
	online    []presence.Member
	onlineErr error
	// block, when set, holds Online until it is closed.
	block chan struct{}
}

func (a *fakeAPI) record(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, name)
}

func (a *fakeAPI) MarkOnline(context.Context, int64) error  { a.record("online"); return nil }
func (a *fakeAPI) MarkOffline(context.Context, int64) error { a.record("offline"); return nil }
func (a *fakeAPI) Heartbeat(context.Context, int64) error   { a.record("heartbeat"); return nil }

func (a *fakeAPI) Online(context.Context, int64) ([]presence.Member, error) {
	a.record("fetch")
	a.mu.Lock()
	block := a.block
	a.mu.Unlock()
	if block != nil {
		<-block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]presence.Member(nil), a.online...), a.onlineErr
}

func (a *fakeAPI) count(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (a *fakeAPI) reset() {
	a.mu.Lock()
	a.calls = nil
	a.mu.Unlock()
}

type fakeChannel struct {
	mu       sync.Mutex
	state    realtime.State
	next     realtime.ListenerID
	handlers map[realtime.ListenerID]realtime.Handler
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[realtime.ListenerID]realtime.Handler)}
}

func (c *fakeChannel) On(_, event string, fn realtime.Handler) realtime.ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if event != realtime.EventPresenceUpdated {
		return 0
	}
	c.next++
	c.handlers[c.next] = fn
	return c.next
}

func (c *fakeChannel) Off(id realtime.ListenerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[id]
	delete(c.handlers, id)
	return ok
}

func (c *fakeChannel) State() realtime.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) setState(s realtime.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *fakeChannel) push(t *testing.T, members []presence.Member) {
	t.Helper()
	data, err := json.Marshal(presence.Snapshot{RoomID: roomID, Members: members})
	require.NoError(t, err)
	c.mu.Lock()
	var fns []realtime.Handler
	for _, fn := range c.handlers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (c *fakeChannel) listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

type channels struct {
	mu sync.Mutex
	ch *fakeChannel
}

func (cs *channels) lookup(name string) (presence.Channel, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.ch == nil || name != realtime.RoomChannel(roomID) {
		return nil, false
	}
	return cs.ch, true
}

func (cs *channels) open(ch *fakeChannel) {
	cs.mu.Lock()
	cs.ch = ch
	cs.mu.Unlock()
}

func names(members []presence.Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Name
	}
	return out
}

func newTracker(t *testing.T, cs *channels) (*presence.Tracker, *fakeAPI, *clock.Mock) {
	t.Helper()
	api := &fakeAPI{}
	clk := clock.NewMock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	tr := presence.NewTracker(api, roomID, cs.lookup, presence.Options{Clock: clk})
	t.Cleanup(tr.Stop)
	return tr, api, clk
}

func TestStartVisibleEntersActive(t *testing.T) {
	tr, api, clk := newTracker(t, &channels{})
	tr.Start(true)

	assert.Equal(t, presence.StateActive, tr.State())
	assert.Equal(t, []string{"online", "heartbeat", "fetch"}, api.calls)

	api.reset()
	clk.Add(2 * time.Minute)
	assert.Equal(t, 1, api.count("heartbeat"))
	clk.Add(2 * time.Minute)
	assert.Equal(t, 2, api.count("heartbeat"))
}

func TestGraceWindowReturnBeforeExpiry(t *testing.T) {
	tr, api, clk := newTracker(t, &channels{})
	tr.Start(true)

	tr.SetVisible(false)
	assert.Equal(t, presence.StateHidden, tr.State())
	clk.Add(2 * time.Minute)
	assert.Equal(t, 1, api.count("heartbeat"), "no heartbeat while hidden")

	tr.SetVisible(true)
	assert.Equal(t, presence.StateActive, tr.State())
	clk.Add(10 * time.Minute)

	assert.Zero(t, api.count("offline"))
	assert.Equal(t, 2, api.count("online"), "entry actions run again")
}

func TestGraceWindowExpiry(t *testing.T) {
	tr, api, clk := newTracker(t, &channels{})
	tr.Start(true)

	tr.SetVisible(false)
	clk.Add(3*time.Minute - time.Second)
	assert.Zero(t, api.count("offline"))

	clk.Add(time.Second)
	assert.Equal(t, 1, api.count("offline"))
	assert.Equal(t, presence.StateStopped, tr.State())

	clk.Add(10 * time.Minute)
	tr.Stop()
	assert.Equal(t, 1, api.count("offline"), "unmount after grace expiry does not mark offline again")
}

func TestVisibilityFlickerKeepsOneHeartbeatInterval(t *testing.T) {
	tr, api, clk := newTracker(t, &channels{})
	tr.Start(true)

	clk.Add(30 * time.Second)
	tr.SetVisible(false)
	clk.Add(time.Second)
	tr.SetVisible(true)
	tr.SetVisible(true)

	api.reset()
	clk.Add(2 * time.Minute)
	assert.Equal(t, 1, api.count("heartbeat"))
	clk.Add(2 * time.Minute)
	assert.Equal(t, 2, api.count("heartbeat"))
}

func TestVisibleAfterStoppedRestarts(t *testing.T) {
	tr, api, clk := newTracker(t, &channels{})
	tr.Start(true)
	tr.SetVisible(false)
	clk.Add(3 * time.Minute)
	require.Equal(t, presence.StateStopped, tr.State())

	tr.SetVisible(true)

	assert.Equal(t, presence.StateActive, tr.State())
	assert.Equal(t, 2, api.count("online"))
}

func TestStopCancelsEverything(t *testing.T) {
	cs := &channels{}
	ch := newFakeChannel()
	cs.open(ch)
	tr, api, clk := newTracker(t, cs)
	tr.Start(true)
	require.Equal(t, 1, ch.listeners())

	tr.Stop()
	assert.Equal(t, 1, api.count("offline"))
	assert.Zero(t, clk.Pending())
	assert.Zero(t, ch.listeners())

	api.reset()
	clk.Add(time.Hour)
	tr.SetVisible(false)
	tr.SetVisible(true)
	tr.Stop()
	assert.Empty(t, api.calls, "no side effect after unmount")
}

func TestStartHiddenDoesNotMarkOnline(t *testing.T) {
	tr, api, _ := newTracker(t, &channels{})
	tr.Start(false)

	assert.Equal(t, presence.StateHidden, tr.State())
	assert.Zero(t, api.count("online"))
	assert.Zero(t, api.count("heartbeat"))
}

func TestPollingCadence(t *testing.T) {
	cs := &channels{}
	tr, api, clk := newTracker(t, cs)
	tr.Start(true)
	api.reset()

	clk.Add(30 * time.Second)
	assert.Equal(t, 1, api.count("fetch"), "fast poll while not live")
	assert.False(t, tr.Live())

	ch := newFakeChannel()
	ch.setState(realtime.StateSubscribed)
	cs.open(ch)
	clk.Add(5 * time.Second)
	assert.True(t, tr.Live())

	api.reset()
	clk.Add(25 * time.Second)
	assert.Equal(t, 1, api.count("fetch"), "pending fast poll still fires")
	clk.Add(30 * time.Second)
	assert.Equal(t, 1, api.count("fetch"), "slow poll once live")
	clk.Add(30 * time.Second)
	assert.Equal(t, 2, api.count("fetch"))
}

func TestPollSkippedAfterRecentPush(t *testing.T) {
	cs := &channels{}
	ch := newFakeChannel()
	ch.setState(realtime.StateSubscribed)
	cs.open(ch)
	tr, api, clk := newTracker(t, cs)
	tr.Start(true)
	api.reset()

	clk.Add(50 * time.Second)
	ch.push(t, []presence.Member{{UserID: 3, Name: "sara"}})
	clk.Add(10 * time.Second)

	assert.Zero(t, api.count("fetch"))
	assert.Equal(t, []string{"sara"}, names(tr.Online()))
}

func TestSnapshotReplacesWholesale(t *testing.T) {
	cs := &channels{}
	ch := newFakeChannel()
	cs.open(ch)
	tr, api, _ := newTracker(t, cs)
	api.online = []presence.Member{{UserID: 1, Name: "a"}, {UserID: 2, Name: "b"}}
	tr.Start(true)
	require.Len(t, tr.Online(), 2)

	ch.push(t, []presence.Member{{UserID: 9, Name: "z"}})
	assert.Equal(t, []string{"z"}, names(tr.Online()))

	ch.push(t, []presence.Member{})
	assert.Empty(t, tr.Online())
}

func TestFetchOvertakenByPushIsDropped(t *testing.T) {
	cs := &channels{}
	ch := newFakeChannel()
	cs.open(ch)
	tr, api, _ := newTracker(t, cs)
	api.online = []presence.Member{{UserID: 1, Name: "stale"}}
	tr.Start(true)
	require.Equal(t, []string{"stale"}, names(tr.Online()))

	release := make(chan struct{})
	api.mu.Lock()
	api.block = release
	api.mu.Unlock()
	done := make(chan error, 1)
	go func() { done <- tr.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return api.count("fetch") == 2 }, 2*time.Second, 5*time.Millisecond)

	ch.push(t, []presence.Member{{UserID: 2, Name: "fresh"}})
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"fresh"}, names(tr.Online()))

	require.NoError(t, tr.Refresh(context.Background()))
	assert.Equal(t, []string{"stale"}, names(tr.Online()), "a fetch started after the push applies")
}

func TestMalformedSnapshotIsDropped(t *testing.T) {
	cs := &channels{}
	ch := newFakeChannel()
	cs.open(ch)
	tr, api, _ := newTracker(t, cs)
	api.online = []presence.Member{{UserID: 1, Name: "a"}}
	tr.Start(true)

	ch.mu.Lock()
	var fns []realtime.Handler
	for _, fn := range ch.handlers {
		fns = append(fns, fn)
	}
	ch.mu.Unlock()
	for _, fn := range fns {
		assert.NotPanics(t, func() { fn(json.RawMessage(`{"room_id":7}`)) })
		assert.NotPanics(t, func() { fn(json.RawMessage(`not json`)) })
	}

	assert.Len(t, tr.Online(), 1)
}

func TestChannelAcquisitionRetries(t *testing.T) {
	cs := &channels{}
	tr, _, clk := newTracker(t, cs)
	tr.Start(true)

	clk.Add(5 * time.Second)
	clk.Add(5 * time.Second)

	ch := newFakeChannel()
	cs.open(ch)
	clk.Add(5 * time.Second)
	assert.Equal(t, 1, ch.listeners())

	clk.Add(time.Minute)
	assert.Equal(t, 1, ch.listeners(), "retry stops once attached")
}

func TestFetchFailureKeepsMembers(t *testing.T) {
	tr, api, clk := newTracker(t, &channels{})
	api.online = []presence.Member{{UserID: 1, Name: "a"}}
	tr.Start(true)

	api.mu.Lock()
	api.onlineErr = errors.New("offline")
	api.online = nil
	api.mu.Unlock()
	clk.Add(30 * time.Second)

	assert.Len(t, tr.Online(), 1)
}

func TestDecodeSnapshot(t *testing.T) {
	snap, err := presence.DecodeSnapshot(json.RawMessage(`{"room_id":7,"members":[{"user_id":1,"name":"a"}]}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.RoomID)
	assert.Len(t, snap.Members, 1)

	_, err = presence.DecodeSnapshot(json.RawMessage(`{"room_id":7}`))
	assert.Error(t, err)
}
