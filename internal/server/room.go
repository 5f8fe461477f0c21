package server

import (
	"encoding/json"
	"log"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/npezzotti/go-drawboard/internal/canvas"
	"github.com/npezzotti/go-drawboard/internal/types"
)

const DefaultRoomId = "lobby"

// Room is one drawing session. A single goroutine (start) consumes
// all of its channels, so membership and the drawing state are only
// ever touched from that goroutine and events are fanned out in the
// exact order they were applied.
type Room struct {
	id        string
	srv       *DrawServer
	state     *canvas.DrawingState
	joinChan  chan *joinReq
	leaveChan chan *Client
	eventChan chan *ClientMessage
	statsChan chan chan RoomStats
	users     map[*Client]*types.User
	log       *log.Logger
	exit      chan struct{}
	done      chan struct{}
}

type joinReq struct {
	client   *Client
	identity types.Identity
	roomId   string
}

type RoomStats struct {
	RoomId         string   `json:"roomId"`
	UserCount      int      `json:"userCount"`
	StrokeCount    int      `json:"strokeCount"`
	TotalPoints    int      `json:"totalPoints"`
	ActivePainters int      `json:"activePainters"`
	Users          []string `json:"users"`
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	defer close(r.done)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case c := <-r.leaveChan:
			r.handleLeave(c)
		case msg := <-r.eventChan:
			r.handleEvent(msg)
		case reply := <-r.statsChan:
			reply <- r.stats()
		case <-r.exit:
			r.handleExit()
			return
		}
	}
}

// handleExit runs after the server dropped the room from its
// registry. Joins routed before the drop are rerouted so they land in
// a fresh room instead of vanishing.
func (r *Room) handleExit() {
	r.log.Printf("room %q exiting", r.id)

	for c := range r.users {
		c.clearRoom(r)
	}

	for {
		select {
		case join := <-r.joinChan:
			select {
			case r.srv.joinChan <- join:
			default:
				join.client.queueMessage(ErrServiceUnavailable())
			}
		default:
			return
		}
	}
}

func (r *Room) handleJoin(join *joinReq) {
	c := join.client
	user := r.newUser(c, join.identity)

	r.users[c] = user
	c.setRoom(r)

	snap := r.state.Snapshot()
	c.queueMessage(newServerMessage(EventRoomInit, &RoomInit{
		RoomId:   r.id,
		Users:    r.usersPublic(),
		History:  snap.History,
		NextOpId: snap.NextOpId,
	}))

	// the joiner learns of its own presence via the snapshot roster,
	// not the notice
	r.broadcast(&ServerMessage{
		Event:      EventUserJoined,
		Data:       user.View(),
		SkipClient: c,
	})
	r.broadcast(newServerMessage(EventUpdateUsers, r.usersPublic()))

	r.log.Printf("user %q joined room %q", user.Name, r.id)
}

func (r *Room) handleLeave(c *Client) {
	user, ok := r.users[c]
	if !ok {
		return
	}

	delete(r.users, c)
	c.clearRoom(r)

	r.broadcast(newServerMessage(EventUserLeft, &UserLeft{
		UserId:   user.Id,
		UserName: user.Name,
	}))
	r.broadcast(newServerMessage(EventUpdateUsers, r.usersPublic()))

	r.log.Printf("user %q left room %q", user.Name, r.id)

	if len(r.users) == 0 {
		// non-blocking like every other cross-loop send; unloadRoom's
		// pointer compare tolerates a dropped request
		select {
		case r.srv.unloadRoomChan <- unloadReq{roomId: r.id, room: r}:
		default:
			r.log.Printf("unload channel full, room %q stays loaded", r.id)
		}
	}
}

func (r *Room) handleEvent(msg *ClientMessage) {
	user, ok := r.users[msg.client]
	if !ok {
		// stale event from a connection that already left
		return
	}

	switch msg.Event {
	case EventStrokeStart:
		var params canvas.StrokeParams
		if err := json.Unmarshal(msg.Data, &params); err != nil {
			r.log.Println("error parsing stroke start:", err)
			return
		}

		op := r.state.BeginStroke(user, params)
		r.broadcast(newServerMessage(EventStrokeStart, op))
	case EventStrokePoint:
		var p types.Point
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			r.log.Println("error parsing stroke point:", err)
			return
		}

		delta := r.state.AppendPoint(user, p)
		if delta == nil {
			return
		}
		r.broadcast(newServerMessage(EventStrokePoint, delta))
	case EventStrokeEnd:
		res := r.state.EndStroke(user)
		if res == nil {
			return
		}

		r.srv.stats.Incr(statTotalStrokes)
		r.broadcast(newServerMessage(EventStrokeEnd, res))
	case EventCursorMove:
		var mv CursorMove
		if err := json.Unmarshal(msg.Data, &mv); err != nil {
			r.log.Println("error parsing cursor move:", err)
			return
		}

		// ephemeral, never stored; the sender already knows its own
		// cursor
		r.broadcast(&ServerMessage{
			Event: EventCursorMove,
			Data: &CursorUpdate{
				UserId: user.Id,
				Color:  user.Color,
				X:      mv.X,
				Y:      mv.Y,
			},
			SkipClient: msg.client,
		})
	case EventUndo:
		if snap := r.state.Undo(); snap != nil {
			r.broadcast(newServerMessage(EventHistory, snap))
		}
	case EventRedo:
		if snap := r.state.Redo(); snap != nil {
			r.broadcast(newServerMessage(EventHistory, snap))
		}
	case EventClear:
		snap := r.state.Clear()
		r.broadcast(newServerMessage(EventCleared, nil))
		r.broadcast(newServerMessage(EventHistory, snap))
	}
}

func (r *Room) newUser(c *Client, ident types.Identity) *types.User {
	id := ident.Id
	if id == "" {
		id = c.id
	}

	name := ident.Name
	if name == "" {
		name = "Guest"
	}

	avatar := ident.Avatar
	if avatar == "" {
		avatar = "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
	}

	return &types.User{
		Id:       id,
		Name:     name,
		Color:    canvas.ColorFor(id),
		Avatar:   avatar,
		RoomId:   r.id,
		JoinedAt: time.Now().UTC(),
	}
}

func (r *Room) usersPublic() []types.UserView {
	members := make([]*types.User, 0, len(r.users))
	for _, u := range r.users {
		members = append(members, u)
	}
	slices.SortFunc(members, func(a, b *types.User) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Id, b.Id)
	})

	views := make([]types.UserView, len(members))
	for i, u := range members {
		views[i] = u.View()
	}

	return views
}

func (r *Room) stats() RoomStats {
	cs := r.state.Stats()

	names := make([]string, 0, len(r.users))
	for _, u := range r.users {
		names = append(names, u.Name)
	}
	slices.Sort(names)

	return RoomStats{
		RoomId:         r.id,
		UserCount:      len(r.users),
		StrokeCount:    cs.TotalStrokes,
		TotalPoints:    cs.TotalPoints,
		ActivePainters: cs.ActiveUsers,
		Users:          names,
	}
}

// broadcast marshals the envelope once, on the room goroutine, then
// queues the frozen frame to every member. Write goroutines must never
// marshal a broadcast payload themselves: an in-progress stroke keeps
// growing under this goroutine while they drain their queues.
func (r *Room) broadcast(msg *ServerMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Println("failed to serialize broadcast:", err)
		return
	}
	msg.raw = raw

	for c := range r.users {
		if c == msg.SkipClient {
			continue
		}

		c.queueMessage(msg)
	}
}
