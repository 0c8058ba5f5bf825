package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/internal/core/services"
	"callmesh/internal/infrastructure/media"
	"callmesh/pkg/config"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketServer is the signaling endpoint. Each authenticated participant
// holds one connection; negotiation messages drive the media session and
// lifecycle messages become registry events.
type WebSocketServer struct {
	auth       services.AuthService
	sessions   *media.SessionManager
	dispatcher ports.EventDispatcher

	connections map[domain.ParticipantID]*websocket.Conn
	mu          sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	messagesPerSecond rate.Limit
	messageBurst      int
	maxMessageSize    int64

	logger *zap.SugaredLogger
}

type SignalMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type OfferPayload struct {
	SDP string `json:"sdp"`
}

type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type MediaRejectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func NewWebSocketServer(
	cfg *config.Config,
	auth services.AuthService,
	sessions *media.SessionManager,
	dispatcher ports.EventDispatcher,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	s := &WebSocketServer{
		auth:         auth,
		sessions:     sessions,
		dispatcher:   dispatcher,
		connections:  make(map[domain.ParticipantID]*websocket.Conn),
		pingInterval: cfg.Signal.PingInterval,
		pongTimeout:  cfg.Signal.PongTimeout,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}

	if cfg.RateLimiting.Enabled {
		s.messagesPerSecond = rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond)
		s.messageBurst = cfg.RateLimiting.WebSocket.Burst
		s.maxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}

	return s
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	participantID, err := s.authenticate(r)
	if err != nil {
		s.logger.Warnw("websocket auth failed", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}

	// Reconnect: take over the map entry first, then drop the stale
	// connection. Its handler sees it no longer owns the entry and leaves
	// the fresh session alone.
	s.mu.Lock()
	existingConn, isReconnect := s.connections[participantID]
	s.connections[participantID] = conn
	s.mu.Unlock()
	if isReconnect && existingConn != nil {
		existingConn.Close()
		s.logger.Infow("closing old connection for reconnecting participant", "participant_id", participantID)
	}

	s.logger.Infow("participant connected", "participant_id", participantID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	var limiter *rate.Limiter
	if s.messagesPerSecond > 0 {
		limiter = rate.NewLimiter(s.messagesPerSecond, s.messageBurst)
	}

	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.logger.Warnw("message rate limit exceeded", "participant_id", participantID)
				s.sendError(conn, "rate limit exceeded")
				continue
			}
			if err := s.handleMessage(context.Background(), participantID, msg); err != nil {
				s.logger.Infow("error handling message", "participant_id", participantID, "type", msg.Type, "error", err)
				s.sendError(conn, err.Error())
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "participant_id", participantID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "participant_id", participantID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	// Only the handler still owning the map entry may tear down call state;
	// after a reconnect the entry belongs to the new connection.
	s.mu.Lock()
	current := s.connections[participantID] == conn
	if current {
		delete(s.connections, participantID)
	}
	s.mu.Unlock()

	if !current {
		s.logger.Infow("stale connection closed", "participant_id", participantID)
		return
	}

	s.sessions.Close(participantID)
	s.dispatch(domain.Event{
		Kind:          domain.EventParticipantRemoved,
		ParticipantID: participantID,
	})

	s.logger.Infow("participant disconnected", "participant_id", participantID)
}

// authenticate resolves the participant identity from the JWT carried in
// either the token query parameter or the Authorization header.
func (s *WebSocketServer) authenticate(r *http.Request) (domain.ParticipantID, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		return "", fmt.Errorf("missing token")
	}

	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return claims.ParticipantID, nil
}

func (s *WebSocketServer) handleMessage(ctx context.Context, participantID domain.ParticipantID, msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	switch msg.Type {
	case "join":
		return s.handleJoin(ctx, participantID)
	case "offer":
		return s.handleOffer(ctx, participantID, msg)
	case "ice_candidate":
		return s.handleICECandidate(ctx, participantID, msg)
	case "media_rejected":
		return s.handleMediaRejected(ctx, participantID, msg)
	case "leave":
		return s.handleLeave(ctx, participantID)
	case "end_call":
		return s.handleEndCall(ctx, participantID)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) handleJoin(ctx context.Context, participantID domain.ParticipantID) error {
	session, err := s.sessions.Create(participantID)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	session.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		init := candidate.ToJSON()
		payload := ICECandidatePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}
		if err := s.sendToParticipant(participantID, map[string]interface{}{
			"type":    "ice_candidate",
			"payload": payload,
		}); err != nil {
			s.logger.Debugw("failed to send ICE candidate", "participant_id", participantID, "error", err)
		}
	})

	return s.sendToParticipant(participantID, map[string]interface{}{
		"type": "joined",
	})
}

func (s *WebSocketServer) handleOffer(ctx context.Context, participantID domain.ParticipantID, msg SignalMessage) error {
	var payload OfferPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}

	if err := s.validateSDP(payload.SDP); err != nil {
		return fmt.Errorf("invalid SDP in offer: %w", err)
	}

	session, ok := s.sessions.Get(participantID)
	if !ok {
		return fmt.Errorf("no session for participant %s, send join first", participantID)
	}

	answer, err := session.HandleOffer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  payload.SDP,
	})
	if err != nil {
		return fmt.Errorf("failed to handle offer: %w", err)
	}

	s.logger.Infow("negotiated answer",
		"participant_id", participantID,
		"sdp_length", len(answer.SDP),
	)

	return s.sendToParticipant(participantID, map[string]interface{}{
		"type": "answer",
		"payload": map[string]interface{}{
			"sdp": answer.SDP,
		},
	})
}

func (s *WebSocketServer) handleICECandidate(ctx context.Context, participantID domain.ParticipantID, msg SignalMessage) error {
	var payload ICECandidatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid ICE candidate payload: %w", err)
	}

	if payload.Candidate == "" {
		return fmt.Errorf("ICE candidate is required")
	}

	session, ok := s.sessions.Get(participantID)
	if !ok {
		return fmt.Errorf("no session for participant %s", participantID)
	}

	return session.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     payload.Candidate,
		SDPMid:        payload.SDPMid,
		SDPMLineIndex: payload.SDPMLineIndex,
	})
}

func (s *WebSocketServer) handleMediaRejected(ctx context.Context, participantID domain.ParticipantID, msg SignalMessage) error {
	var payload MediaRejectedPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid media_rejected payload: %w", err)
		}
	}

	s.logger.Infow("participant media rejected",
		"participant_id", participantID,
		"reason", payload.Reason,
	)

	s.dispatch(domain.Event{
		Kind:          domain.EventMediaRejected,
		ParticipantID: participantID,
	})
	return nil
}

func (s *WebSocketServer) handleLeave(ctx context.Context, participantID domain.ParticipantID) error {
	s.sessions.Close(participantID)
	s.dispatch(domain.Event{
		Kind:          domain.EventParticipantRemoved,
		ParticipantID: participantID,
	})
	return nil
}

func (s *WebSocketServer) handleEndCall(ctx context.Context, participantID domain.ParticipantID) error {
	s.logger.Infow("call ended", "by_participant", participantID)

	s.dispatch(domain.Event{Kind: domain.EventCallEnded})
	s.sessions.CloseAll()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, conn := range s.connections {
		if id == participantID {
			continue
		}
		if err := conn.WriteJSON(map[string]interface{}{"type": "call_ended"}); err != nil {
			s.logger.Debugw("failed to notify participant of call end", "participant_id", id, "error", err)
		}
	}
	return nil
}

// validateSDP performs a shallow structural check before negotiation.
func (s *WebSocketServer) validateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}

	requiredFields := []string{"v=", "o=", "s=", "t="}
	for _, field := range requiredFields {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}

func (s *WebSocketServer) sendToParticipant(participantID domain.ParticipantID, data interface{}) error {
	s.mu.RLock()
	conn, exists := s.connections[participantID]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("participant %s not connected", participantID)
	}
	return conn.WriteJSON(data)
}

func (s *WebSocketServer) sendError(conn *websocket.Conn, message string) {
	conn.WriteJSON(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

func (s *WebSocketServer) dispatch(ev domain.Event) {
	if err := s.dispatcher.Dispatch(context.Background(), ev); err != nil {
		s.logger.Warnw("failed to dispatch event", "kind", ev.Kind, "error", err)
	}
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connectionCount := len(s.connections)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
	})
}

func (s *WebSocketServer) ConnectedParticipants() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := make([]domain.ParticipantID, 0, len(s.connections))
	for id := range s.connections {
		participants = append(participants, id)
	}
	return participants
}

func (s *WebSocketServer) IsConnected(participantID domain.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.connections[participantID]
	return exists
}
