package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"i4.energy/across/dashcloud/cloud"
	"i4.energy/across/dashcloud/modem"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server handles incoming HTTP requests for interacting with the
// cloud session of the configured modem. The session is not safe for
// concurrent use, so every request and poll holds mu while it talks to
// the modem.
type Server struct {
	Logger *slog.Logger
	Client *cloud.Client
	Modem  *modem.Modem
	Hub    *eventHub

	mu sync.Mutex
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /device", s.handleDevice)
	mux.HandleFunc("GET /signal", s.handleSignal)
	mux.HandleFunc("POST /connect", s.handleConnect)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("POST /modem", s.handleModem)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.ServeHTTP(w, r)
}

// Poll delivers modem events every interval until ctx is done.
func (s *Server) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Server) poll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Client.PollEvents()
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// fail reports a session error with the status code that matches it.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, cloud.ErrUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, modem.ErrTimeout):
		code = http.StatusGatewayTimeout
	case errors.Is(err, cloud.ErrMessageFull),
		errors.Is(err, cloud.ErrTooManyTopics),
		errors.Is(err, cloud.ErrTopicTooLong),
		errors.Is(err, cloud.ErrInvalidTopic):
		code = http.StatusBadRequest
	}
	s.Logger.Error("Modem request failed", "op", op, "error", err, "status", code)
	s.sendError(w, err.Error(), code)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type StatusResponse struct {
		State      string `json:"state"`
		Connection string `json:"connection"`
		Protocol   int    `json:"protocol"`
	}

	status, err := s.Client.GetConnectionStatus()
	if err != nil && !errors.Is(err, cloud.ErrUnavailable) {
		s.fail(w, "status", err)
		return
	}
	s.sendJSON(w, StatusResponse{
		State:      s.Client.State().String(),
		Connection: status.String(),
		Protocol:   s.Client.ProtocolVersion(),
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type DeviceResponse struct {
		Version  string `json:"version"`
		Protocol int    `json:"protocol"`
		ICCID    string `json:"iccid"`
		IMEI     string `json:"imei"`
		Operator string `json:"operator"`
	}

	resp := DeviceResponse{Version: s.Client.SystemVersion()}
	var err error
	if resp.ICCID, err = s.Client.GetICCID(); err != nil {
		s.fail(w, "iccid", err)
		return
	}
	if resp.IMEI, err = s.Client.GetIMEI(); err != nil {
		s.fail(w, "imei", err)
		return
	}
	if resp.Operator, err = s.Client.GetNetworkOperator(); err != nil {
		s.fail(w, "operator", err)
		return
	}
	resp.Protocol = s.Client.ProtocolVersion()
	s.sendJSON(w, resp)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type SignalResponse struct {
		RSSI int `json:"rssi"`
	}

	rssi, err := s.Client.GetSignalStrength()
	if err != nil {
		s.fail(w, "signal", err)
		return
	}
	s.sendJSON(w, SignalResponse{RSSI: rssi})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	type ConnectRequest struct {
		AutoReconnect bool `json:"auto_reconnect"`
	}

	var req ConnectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Client.Connect(req.AutoReconnect); err != nil {
		s.fail(w, "connect", err)
		return
	}
	s.Logger.Info("Cloud connected", "auto_reconnect", req.AutoReconnect)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Client.Disconnect(); err != nil {
		s.fail(w, "disconnect", err)
		return
	}
	s.Logger.Info("Cloud disconnected")
	w.WriteHeader(http.StatusOK)
}

// handleMessage sends a message with optional topics to the cloud
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	type MessageRequest struct {
		Content string   `json:"content"`
		Topics  []string `json:"topics"`
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Content == "" {
		s.sendError(w, "'content' field is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Client.SendMessage([]byte(req.Content), req.Topics...); err != nil {
		s.fail(w, "message", err)
		return
	}

	s.Logger.Info("Message sent successfully", "topics", req.Topics, "message_length", len(req.Content))
	w.WriteHeader(http.StatusOK)
}

// handleModem runs a raw command, query or set on the modem
func (s *Server) handleModem(w http.ResponseWriter, r *http.Request) {
	type ModemRequest struct {
		Command string `json:"command"`
		Type    string `json:"type"`
		Value   string `json:"value"`
		Expect  string `json:"expect"`
		Timeout string `json:"timeout"`
	}
	type ModemResponse struct {
		Result   string `json:"result"`
		Response string `json:"response"`
	}

	var req ModemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		timeout = d
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res modem.Result
	switch req.Type {
	case "", "command":
		res = s.Modem.CommandExpect(req.Command, req.Expect, timeout, 0)
	case "query":
		res = s.Modem.QueryExpect(req.Command, req.Expect, timeout, 0)
	case "set":
		res = s.Modem.SetExpect(req.Command, req.Value, req.Expect, timeout, 0)
	default:
		s.sendError(w, "'type' must be one of command, query, set", http.StatusBadRequest)
		return
	}

	s.Logger.Info("Modem request", "command", req.Command, "type", req.Type, "result", res)
	s.sendJSON(w, ModemResponse{Result: res.String(), Response: s.Modem.LastResponse()})
}

// handleEvents streams modem events to a websocket client
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, events := s.Hub.subscribe()
	defer s.Hub.unsubscribe(id)

	// The client never sends anything; reading detects when it goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case e := <-events:
			if err := conn.WriteJSON(e); err != nil {
				s.Logger.Warn("Websocket write failed", "error", err)
				return
			}
		}
	}
}
