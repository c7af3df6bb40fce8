// Package statusapi exposes a diagnostic HTTP endpoint: a JSON
// snapshot of the node state, and a websocket stream of live frame
// stats. It is not part of the bus surface.
package statusapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/perceptcam/perceptd/server/perfstats"
	"github.com/perceptcam/perceptd/server/processor"
)

type Status struct {
	State processor.StateSummary `json:"state"`
	Stats perfstats.Snapshot     `json:"stats"`
}

type Server struct {
	Log logs.Log

	proc       *processor.Processor
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

func NewServer(logger logs.Log, addr string, proc *processor.Processor) *Server {
	s := &Server{
		Log:  logger,
		proc: proc,
	}
	router := httprouter.New()
	router.GET("/api/status", s.getStatus)
	router.GET("/api/live", s.getLive)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// Start listens in the background. Failure to listen is logged, not
// fatal; the node keeps processing frames without the API.
func (s *Server) Start() {
	s.Log.Infof("Status API listening on %v", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Log.Errorf("Status API: %v", err)
		}
	}()
}

func (s *Server) Close() {
	s.httpServer.Close()
}

func (s *Server) status() Status {
	return Status{
		State: s.proc.Status(),
		Stats: s.proc.Stats.Snapshot(),
	}
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status())
}

// getLive upgrades to a websocket and pushes the status twice a second
// until the client goes away.
func (s *Server) getLive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteJSON(s.status()); err != nil {
			return
		}
	}
}
