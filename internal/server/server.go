package server

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-drawboard/internal/canvas"
	"github.com/npezzotti/go-drawboard/internal/stats"
	"github.com/npezzotti/go-drawboard/internal/types"
)

const (
	statActiveConnections = "ActiveConnections"
	statTotalConnections  = "TotalConnections"
	statActiveRooms       = "ActiveRooms"
	statTotalStrokes      = "TotalStrokes"
)

const statsTimeout = time.Second

// DrawServer owns the room registry. Rooms are created lazily on
// first join and discarded as soon as their last member leaves; a
// later join under the same id starts from a fresh drawing state.
type DrawServer struct {
	log            *log.Logger
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *joinReq
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan unloadReq
	statsChan      chan chan []RoomStats
	rooms          map[string]*Room
	stop           chan stopReq
}

type unloadReq struct {
	roomId string
	room   *Room
}

type stopReq struct {
	done chan struct{}
}

func NewDrawServer(logger *log.Logger, sp stats.StatsProvider) (*DrawServer, error) {
	ds := &DrawServer{
		log:            logger,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *joinReq, 256),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan unloadReq, 64),
		statsChan:      make(chan chan []RoomStats),
		rooms:          make(map[string]*Room),
		stop:           make(chan stopReq),
	}

	for _, name := range []string{
		statActiveConnections,
		statTotalConnections,
		statActiveRooms,
		statTotalStrokes,
	} {
		sp.RegisterMetric(name)
	}

	return ds, nil
}

func (ds *DrawServer) Run() {
	for {
		select {
		case join := <-ds.joinChan:
			room := ds.ensureRoom(join.roomId)
			select {
			case room.joinChan <- join:
			default:
				ds.log.Printf("join channel full on room %q", room.id)
				join.client.queueMessage(ErrServiceUnavailable())
			}
		case client := <-ds.RegisterChan:
			ds.log.Printf("adding connection %s", client.id)
			ds.addClient(client)
			ds.stats.Incr(statActiveConnections)
			ds.stats.Incr(statTotalConnections)
		case client := <-ds.deRegisterChan:
			ds.log.Printf("removing connection %s", client.id)
			ds.removeClient(client)
			ds.stats.Decr(statActiveConnections)
		case req := <-ds.unloadRoomChan:
			ds.unloadRoom(req)
		case reply := <-ds.statsChan:
			reply <- ds.collectRoomStats()
		case req := <-ds.stop:
			ds.log.Println("shutting down rooms")
			for _, r := range ds.rooms {
				ds.log.Printf("shutting down room %q", r.id)
				close(r.exit)
				<-r.done
			}

			close(req.done)
			return
		}
	}
}

func (ds *DrawServer) ensureRoom(id string) *Room {
	if room, ok := ds.rooms[id]; ok {
		return room
	}

	room := &Room{
		id:        id,
		srv:       ds,
		state:     canvas.NewDrawingState(),
		joinChan:  make(chan *joinReq, 256),
		leaveChan: make(chan *Client, 256),
		eventChan: make(chan *ClientMessage, 256),
		statsChan: make(chan chan RoomStats, 8),
		users:     make(map[*Client]*types.User),
		log:       ds.log,
		exit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	ds.rooms[id] = room
	ds.stats.Incr(statActiveRooms)
	ds.log.Printf("created room %q", id)

	go room.start()

	return room
}

// unloadRoom discards an empty room. The room pointer is compared so
// a stale unload request cannot kill a fresh room reusing the id.
func (ds *DrawServer) unloadRoom(req unloadReq) {
	room, ok := ds.rooms[req.roomId]
	if !ok || room != req.room {
		return
	}

	delete(ds.rooms, req.roomId)
	ds.stats.Decr(statActiveRooms)
	ds.log.Printf("removed empty room %q", req.roomId)

	close(room.exit)
}

// RoomStats reports a snapshot of every active room. Safe to call
// from any goroutine; the registry and each room answer from their
// own loops.
func (ds *DrawServer) RoomStats() []RoomStats {
	reply := make(chan []RoomStats, 1)

	select {
	case ds.statsChan <- reply:
	case <-time.After(statsTimeout):
		return nil
	}

	select {
	case res := <-reply:
		return res
	case <-time.After(statsTimeout):
		return nil
	}
}

func (ds *DrawServer) collectRoomStats() []RoomStats {
	out := make([]RoomStats, 0, len(ds.rooms))
	for _, r := range ds.rooms {
		reply := make(chan RoomStats, 1)
		select {
		case r.statsChan <- reply:
		default:
			continue
		}

		select {
		case rs := <-reply:
			out = append(out, rs)
		case <-time.After(statsTimeout):
		}
	}

	slices.SortFunc(out, func(a, b RoomStats) int {
		return strings.Compare(a.RoomId, b.RoomId)
	})

	return out
}

func (ds *DrawServer) addClient(c *Client) {
	ds.clientsLock.Lock()
	defer ds.clientsLock.Unlock()
	ds.clients[c] = struct{}{}
}

func (ds *DrawServer) removeClient(c *Client) {
	ds.clientsLock.Lock()
	defer ds.clientsLock.Unlock()
	delete(ds.clients, c)
}

func (ds *DrawServer) Shutdown(ctx context.Context) error {
	ds.log.Println("received shutdown signal")

	ds.clientsLock.Lock()
	for c := range ds.clients {
		c.stopClient()
	}
	ds.clientsLock.Unlock()

	req := stopReq{done: make(chan struct{})}
	select {
	case ds.stop <- req:
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
