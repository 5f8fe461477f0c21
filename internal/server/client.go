package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-drawboard/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Client is one websocket connection. It starts unjoined; a
// successful join binds it to exactly one room at a time.
type Client struct {
	id         string
	conn       *websocket.Conn
	drawServer *DrawServer
	log        *log.Logger
	// identity established by a verified token at upgrade time, nil
	// for anonymous connections
	identity *types.Identity
	send     chan *ServerMessage
	room     *Room
	roomLock sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(id string, identity *types.Identity, conn *websocket.Conn, ds *DrawServer, l *log.Logger) *Client {
	return &Client{
		id:         id,
		conn:       conn,
		drawServer: ds,
		log:        l,
		identity:   identity,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(time.Duration(pingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		msg.client = c
		c.route(&msg)
	}
}

// route dispatches one inbound event. Drawing and history events from
// an unjoined connection are dropped, not errored; stray events
// around membership changes are expected.
func (c *Client) route(msg *ClientMessage) {
	switch msg.Event {
	case EventPing:
		c.queueMessage(newServerMessage(EventPong, nil))
	case EventJoin:
		c.joinRoom(msg)
	case EventStrokeStart, EventStrokePoint, EventStrokeEnd,
		EventCursorMove, EventUndo, EventRedo, EventClear:
		r := c.getRoom()
		if r == nil {
			c.log.Printf("dropping %q from unjoined connection %s", msg.Event, c.id)
			return
		}

		select {
		case r.eventChan <- msg:
		default:
			c.log.Printf("event channel full on room %q, dropping %q", r.id, msg.Event)
		}
	default:
		c.log.Printf("unknown event %q from connection %s", msg.Event, c.id)
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	var req JoinRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.log.Println("error parsing join request:", err)
			c.queueMessage(ErrInvalidMessage())
			return
		}
	}

	ident := req.User
	if ident == nil {
		ident = c.identity
	}
	if ident == nil || (ident.Id == "" && ident.Name == "") {
		c.queueMessage(ErrIdentityRequired())
		return
	}

	roomId := req.RoomId
	if roomId == "" {
		roomId = DefaultRoomId
	}

	// a connection belongs to at most one room; joining another
	// leaves the current one first
	if r := c.getRoom(); r != nil && r.id != roomId {
		select {
		case r.leaveChan <- c:
		default:
			c.log.Printf("leave channel full on room %q", r.id)
			c.queueMessage(ErrServiceUnavailable())
			return
		}
	}

	select {
	case c.drawServer.joinChan <- &joinReq{client: c, identity: *ident, roomId: roomId}:
	default:
		c.log.Println("join channel full")
		c.queueMessage(ErrServiceUnavailable())
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	if msg.raw != nil {
		return msg.raw, nil
	}
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	if r := c.getRoom(); r != nil {
		select {
		case r.leaveChan <- c:
		default:
			c.log.Printf("leave channel full on room %q", r.id)
		}
	}

	c.drawServer.deRegisterChan <- c
	c.stopClient()
}

func (c *Client) setRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	c.room = r
}

// clearRoom detaches the client from r only if it is still the
// client's current room; a leave from an old room must not clobber a
// newer membership.
func (c *Client) clearRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	if c.room == r {
		c.room = nil
	}
}

func (c *Client) getRoom() *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()

	return c.room
}
