package ws

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Server upgrades HTTP requests to stream connections.
type Server struct {
	hub      Dispatcher
	upgrader websocket.Upgrader
	log      *log.Entry
}

// NewServer creates a stream server. allowedOrigin "*" accepts any origin.
func NewServer(hub Dispatcher, allowedOrigin string, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		log: logger.WithField("component", "ws"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	c := newClient(uuid.NewString(), conn, s.hub, s.log)
	s.hub.Connect(c)
	go c.writePump()
	go c.readPump()
}
