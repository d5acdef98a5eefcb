// Package ws exposes the engine's state stream over WebSocket plus a small
// pull-style HTTP API. It is the host-side mirror of the engine's two
// acquisition models: /ws subscribers get pushed updates, /api/state does a
// one-shot pull.
package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/argus-ar/engine/engine"
	"github.com/gorilla/websocket"
)

type Server struct {
	eng            *engine.Engine
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(eng *engine.Engine, broadcaster *Broadcaster, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		eng:            eng,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/observers", s.handleObservers)
	mux.HandleFunc("/api/observers/", s.handleObserverRoutes)
	mux.HandleFunc("/api/status", s.handleStatus)
}

// Snapshot builds the full payload sent to joining clients: the latest
// pulled state plus the observer list.
func Snapshot(eng *engine.Engine) (*SnapshotPayload, error) {
	state, err := eng.AcquireLatestState()
	if err != nil {
		return nil, err
	}
	defer state.Release()

	sp, err := StateToPayload(state)
	if err != nil {
		return nil, err
	}

	observers := eng.Observers()
	out := &SnapshotPayload{
		State:     sp,
		Observers: make([]ObserverPayload, 0, len(observers)),
	}
	for _, o := range observers {
		out.Observers = append(out.Observers, ObserverToPayload(o))
	}
	return out, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	c := s.broadcaster.AddClient(conn)
	if c == nil {
		return
	}
	log.Printf("[ws] client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("[ws] client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()
}

// handleState is the pull path: acquire the latest state, flatten it,
// release the handle before writing the response.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	state, err := s.eng.AcquireLatestState()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	payload, perr := StateToPayload(state)
	state.Release()
	if perr != nil {
		s.writeEngineError(w, perr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleObservers(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	observers := s.eng.Observers()
	payload := make([]ObserverPayload, 0, len(observers))
	for _, o := range observers {
		payload = append(payload, ObserverToPayload(o))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	status := map[string]interface{}{
		"running": s.eng.Running(),
		"runId":   s.eng.RunID().String(),
		"version": engine.Version().VersionString,
		"clients": s.broadcaster.ClientCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleObserverRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse: /api/observers/{id}/activate or /api/observers/{id}/deactivate
	path := strings.TrimPrefix(r.URL.Path, "/api/observers/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		http.Error(w, "invalid observer id", http.StatusBadRequest)
		return
	}

	switch parts[1] {
	case "activate":
		s.handleActivation(w, r, int32(id), true)
	case "deactivate":
		s.handleActivation(w, r, int32(id), false)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleActivation(w http.ResponseWriter, r *http.Request, id int32, activate bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	o, err := s.eng.Observer(id)
	if err != nil {
		http.Error(w, "observer not found", http.StatusNotFound)
		return
	}

	if activate {
		err = o.Activate()
	} else {
		err = o.Deactivate()
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	observers := s.eng.Observers()
	payload := make([]ObserverPayload, 0, len(observers))
	for _, obs := range observers {
		payload = append(payload, ObserverToPayload(obs))
	}
	s.broadcaster.BroadcastObservers(payload)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch engine.CodeOf(err) {
	case engine.ErrorCodeNotRunning, engine.ErrorCodeDestroyed:
		status = http.StatusConflict
	case engine.ErrorCodeTargetBusy:
		status = http.StatusConflict
	case engine.ErrorCodeObserverDestroyed, engine.ErrorCodeObserverNotFound:
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Argus-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("[ws] server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
