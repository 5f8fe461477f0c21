package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/go-drawboard/internal/stats"
	"github.com/npezzotti/go-drawboard/internal/testutil"
	"github.com/npezzotti/go-drawboard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newTestDrawServer creates a new DrawServer instance for testing purposes
func newTestDrawServer(t *testing.T, su *stats.MockStatsUpdater) *DrawServer {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)
	su.On("Incr", mock.Anything).Return(nil).Maybe()
	su.On("Decr", mock.Anything).Return(nil).Maybe()

	logger := testutil.TestLogger(t)
	ds, err := NewDrawServer(logger, su)
	if err != nil {
		t.Fatalf("failed to create test DrawServer: %v", err)
	}
	return ds
}

func newTestClient(t *testing.T, ds *DrawServer, id string) *Client {
	return &Client{
		id:         id,
		drawServer: ds,
		log:        testutil.TestLogger(t),
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

// recvEvent pops the next queued message for a client, failing the
// test if none arrives in time.
func recvEvent(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout: no message queued for client")
		return nil
	}
}

func TestNewDrawServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	ds, err := NewDrawServer(logger, su)
	assert.NoError(t, err, "expected no error creating DrawServer")
	assert.NotNil(t, ds, "expected DrawServer to be non-nil")
	assert.Equal(t, logger, ds.log, "expected logger to be set")
	assert.NotNil(t, ds.joinChan, "expected joinChan to be initialized")
	assert.NotNil(t, ds.RegisterChan, "expected RegisterChan to be initialized")
	assert.NotNil(t, ds.deRegisterChan, "expected deRegisterChan to be initialized")
	assert.NotNil(t, ds.unloadRoomChan, "expected unloadRoomChan to be initialized")
	assert.NotNil(t, ds.statsChan, "expected statsChan to be initialized")
	assert.NotNil(t, ds.stop, "expected stop channel to be initialized")
	assert.NotNil(t, ds.clients, "expected clients map to be initialized")
	assert.NotNil(t, ds.rooms, "expected rooms map to be initialized")
}

func Test_ensureRoom(t *testing.T) {
	ds := newTestDrawServer(t, &stats.MockStatsUpdater{})

	room := ds.ensureRoom("lobby")
	assert.NotNil(t, room, "expected room to be created")
	assert.Equal(t, "lobby", room.id, "expected room id to match")
	assert.NotNil(t, room.state, "expected room to own a drawing state")
	assert.Contains(t, ds.rooms, "lobby", "expected room registered")

	again := ds.ensureRoom("lobby")
	assert.Same(t, room, again, "expected existing room to be returned")

	close(room.exit)
	select {
	case <-room.done:
	case <-time.After(time.Second):
		t.Fatal("timeout: room did not exit")
	}
}

func Test_unloadRoom(t *testing.T) {
	t.Run("removes matching room", func(t *testing.T) {
		ds := newTestDrawServer(t, &stats.MockStatsUpdater{})
		room := ds.ensureRoom("lobby")

		ds.unloadRoom(unloadReq{roomId: "lobby", room: room})
		assert.NotContains(t, ds.rooms, "lobby", "expected room removed from registry")

		select {
		case <-room.done:
		case <-time.After(time.Second):
			t.Fatal("timeout: room did not exit")
		}
	})

	t.Run("ignores stale unload request", func(t *testing.T) {
		ds := newTestDrawServer(t, &stats.MockStatsUpdater{})
		room := ds.ensureRoom("lobby")

		stale := &Room{id: "lobby"}
		ds.unloadRoom(unloadReq{roomId: "lobby", room: stale})
		assert.Contains(t, ds.rooms, "lobby", "expected fresh room to survive a stale unload")

		close(room.exit)
		<-room.done
	})
}

func TestAddRemoveClient(t *testing.T) {
	ds := newTestDrawServer(t, &stats.MockStatsUpdater{})
	c := newTestClient(t, ds, "conn-1")

	ds.addClient(c)
	assert.Contains(t, ds.clients, c, "expected client registered")

	ds.removeClient(c)
	assert.NotContains(t, ds.clients, c, "expected client removed")
}

func TestDrawServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		ds := newTestDrawServer(t, &stats.MockStatsUpdater{})
		go ds.Run()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := ds.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		ds := newTestDrawServer(t, &stats.MockStatsUpdater{})
		// Run loop not started, so the stop request is never serviced

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := ds.Shutdown(ctx)
		assert.Error(t, err, "expected shutdown to fail when server loop is not running")
	})
}

func TestJoinLeaveLifecycle(t *testing.T) {
	ds := newTestDrawServer(t, &stats.MockStatsUpdater{})
	go ds.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ds.Shutdown(ctx)
	}()

	c := newTestClient(t, ds, "conn-1")
	ds.joinChan <- &joinReq{
		client:   c,
		identity: types.Identity{Id: "alice", Name: "Alice"},
		roomId:   "lobby",
	}

	msg := recvEvent(t, c)
	assert.Equal(t, EventRoomInit, msg.Event, "expected room:init on join")

	init, ok := msg.Data.(*RoomInit)
	assert.True(t, ok, "expected RoomInit payload")
	assert.Equal(t, "lobby", init.RoomId, "expected room id to match")
	assert.Len(t, init.Users, 1, "expected joiner in roster")
	assert.Empty(t, init.History, "expected empty history in fresh room")
	assert.Equal(t, 1, init.NextOpId, "expected op counter to start at 1")

	msg = recvEvent(t, c)
	assert.Equal(t, EventUpdateUsers, msg.Event, "expected roster broadcast after join")

	room := c.getRoom()
	assert.NotNil(t, room, "expected client bound to room")

	// draw one stroke so we can prove a rejoined room starts fresh
	startData, _ := json.Marshal(map[string]any{"tool": "brush", "color": "#000", "width": 2, "start": map[string]float64{"x": 0, "y": 0}})
	room.eventChan <- &ClientMessage{Event: EventStrokeStart, Data: startData, client: c}
	room.eventChan <- &ClientMessage{Event: EventStrokeEnd, client: c}
	assert.Equal(t, EventStrokeStart, recvEvent(t, c).Event, "expected stroke start echo")
	assert.Equal(t, EventStrokeEnd, recvEvent(t, c).Event, "expected stroke end echo")

	// last member leaving discards the room
	room.leaveChan <- c
	assert.Eventually(t, func() bool {
		return c.getRoom() == nil
	}, time.Second, 10*time.Millisecond, "expected client detached from room")

	assert.Eventually(t, func() bool {
		return len(ds.RoomStats()) == 0
	}, time.Second, 10*time.Millisecond, "expected empty room discarded")

	// rejoining the same id starts with empty history and a reset op counter
	ds.joinChan <- &joinReq{
		client:   c,
		identity: types.Identity{Id: "alice", Name: "Alice"},
		roomId:   "lobby",
	}

	msg = recvEvent(t, c)
	assert.Equal(t, EventRoomInit, msg.Event, "expected room:init on rejoin")
	init, ok = msg.Data.(*RoomInit)
	assert.True(t, ok, "expected RoomInit payload")
	assert.Empty(t, init.History, "expected fresh history after room was discarded")
	assert.Equal(t, 1, init.NextOpId, "expected op counter reset in fresh room")
}

func TestRoomStats(t *testing.T) {
	ds := newTestDrawServer(t, &stats.MockStatsUpdater{})
	go ds.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ds.Shutdown(ctx)
	}()

	c := newTestClient(t, ds, "conn-1")
	ds.joinChan <- &joinReq{
		client:   c,
		identity: types.Identity{Id: "alice", Name: "Alice"},
		roomId:   "lobby",
	}
	recvEvent(t, c) // room:init
	recvEvent(t, c) // room:updateUsers

	roomStats := ds.RoomStats()
	assert.Len(t, roomStats, 1, "expected one active room")
	assert.Equal(t, "lobby", roomStats[0].RoomId, "expected room id to match")
	assert.Equal(t, 1, roomStats[0].UserCount, "expected one member")
	assert.Equal(t, []string{"Alice"}, roomStats[0].Users, "expected member names")
}
