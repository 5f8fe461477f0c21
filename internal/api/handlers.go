package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-drawboard/internal/server"
)

func (s *DrawboardApp) writeJson(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Println("error encoding response:", err)
	}
}

func (s *DrawboardApp) health(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *DrawboardApp) getRooms(w http.ResponseWriter, r *http.Request) {
	roomStats := s.ds.RoomStats()
	if roomStats == nil {
		roomStats = []server.RoomStats{}
	}

	s.writeJson(w, http.StatusOK, roomStats)
}

func (s *DrawboardApp) serveWs(w http.ResponseWriter, r *http.Request) {
	// an identity token is optional; anonymous connections may still
	// present an identity inline on join
	identity, err := s.identityFromRequest(r)
	if err != nil {
		s.log.Println("rejecting connection:", err)
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(uuid.NewString(), identity, conn, s.ds, s.log)
	s.ds.RegisterChan <- client

	go client.Write()
	go client.Read()
}
