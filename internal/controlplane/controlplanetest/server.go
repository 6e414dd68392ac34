// Package controlplanetest provides an in-memory control plane served over
// httptest for exercising clients and reconcilers.
package controlplanetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
)

// Server records peers, mirrors and settings the way the control plane does.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	peers    map[string]map[string]any
	mirrors  map[string]string
	configs  map[string]map[string]any
	settings map[string]string
	requests []string
	failures map[string]int
}

func NewServer() *Server {
	s := &Server{
		peers:    make(map[string]map[string]any),
		mirrors:  make(map[string]string),
		configs:  make(map[string]map[string]any),
		settings: make(map[string]string),
		failures: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/dynamic_settings", s.handleSetting)
	mux.HandleFunc("/v1/peers/list", s.handleListPeers)
	mux.HandleFunc("/v1/peers/create", s.handleCreatePeer)
	mux.HandleFunc("/v1/peers/drop", s.handleDropPeer)
	mux.HandleFunc("/v1/mirrors/status", s.handleStatus)
	mux.HandleFunc("/v1/flows/cdc/create", s.handleCreateMirror)
	mux.HandleFunc("/v1/mirrors/state_change", s.handleStateChange)
	s.Server = httptest.NewServer(s.record(mux))
	return s
}

// FailNext makes the next request to path answer with status.
func (s *Server) FailNext(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// SetMirrorState seeds a mirror in the given state.
func (s *Server) SetMirrorState(name, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrors[name] = state
}

// AddPeer seeds a peer.
func (s *Server) AddPeer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[name] = map[string]any{"name": name}
}

func (s *Server) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.peers)
}

// Peer returns the payload a peer was created with.
func (s *Server) Peer(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[name]
}

// Mirrors returns mirror name to flow state.
func (s *Server) Mirrors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.mirrors))
	for name, state := range s.mirrors {
		out[name] = state
	}
	return out
}

// MirrorConfig returns the connection config a mirror was created with.
func (s *Server) MirrorConfig(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs[name]
}

func (s *Server) Settings() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.settings))
	for name, value := range s.settings {
		out[name] = value
	}
	return out
}

// Requests lists "METHOD path" for every request received, in order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.requests...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		status, fail := s.failures[r.URL.Path]
		delete(s.failures, r.URL.Path)
		s.mu.Unlock()
		if fail {
			writeJSON(w, status, map[string]any{"code": 2, "message": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	s.settings[req.Name] = req.Value
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleListPeers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	items := make([]map[string]any, 0, len(s.peers))
	for _, name := range sortedKeys(s.peers) {
		items = append(items, map[string]any{"name": name, "type": s.peers[name]["type"]})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCreatePeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Peer map[string]any `json:"peer"`
	}
	if !decode(w, r, &req) {
		return
	}
	name, _ := req.Peer["name"].(string)
	s.mu.Lock()
	s.peers[name] = req.Peer
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "CREATED"})
}

func (s *Server) handleDropPeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerName string `json:"peerName"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	delete(s.peers, req.PeerName)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FlowJobName string `json:"flowJobName"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	state, ok := s.mirrors[req.FlowJobName]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"code":    2,
			"message": fmt.Sprintf("unable to get the workflow ID of mirror %s", req.FlowJobName),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flowJobName": req.FlowJobName, "currentFlowState": state})
}

func (s *Server) handleCreateMirror(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionConfigs map[string]any `json:"connection_configs"`
	}
	if !decode(w, r, &req) {
		return
	}
	name, _ := req.ConnectionConfigs["flow_job_name"].(string)
	s.mu.Lock()
	s.mirrors[name] = "STATUS_RUNNING"
	s.configs[name] = req.ConnectionConfigs
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"workflowId": "cdc-" + name})
}

func (s *Server) handleStateChange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FlowJobName        string `json:"flowJobName"`
		RequestedFlowState string `json:"requestedFlowState"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mirrors[req.FlowJobName]; !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": 2, "message": "unable to get the workflow ID of mirror"})
		return
	}
	if req.RequestedFlowState == "STATUS_TERMINATED" {
		delete(s.mirrors, req.FlowJobName)
		delete(s.configs, req.FlowJobName)
	} else {
		s.mirrors[req.FlowJobName] = req.RequestedFlowState
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "method not allowed"})
		return false
	}
	if r.Header.Get("Content-Type") != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"message": "json required"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
