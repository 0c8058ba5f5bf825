package media

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/config"
	"callmesh/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// SessionManager owns the pion API object and one Session per connected
// participant. Incoming tracks and connection failures are turned into
// registry events and handed to the dispatcher.
type SessionManager struct {
	api            *webrtc.API
	webrtcConfig   webrtc.Configuration
	dispatcher     ports.EventDispatcher
	silenceTimeout time.Duration
	logger         *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[domain.ParticipantID]*Session
}

func NewSessionManager(
	cfg *config.Config,
	dispatcher ports.EventDispatcher,
	logger *zap.SugaredLogger,
) (*SessionManager, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.WebRTC.PortRange.Min > 0 && cfg.WebRTC.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.WebRTC.PortRange.Min, cfg.WebRTC.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set UDP port range: %w", err)
		}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, server := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return &SessionManager{
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(settingEngine),
			webrtc.WithMediaEngine(mediaEngine),
		),
		webrtcConfig:   webrtc.Configuration{ICEServers: iceServers},
		dispatcher:     dispatcher,
		silenceTimeout: cfg.Media.MuteSilenceTimeout,
		logger:         logger,
		sessions:       make(map[domain.ParticipantID]*Session),
	}, nil
}

// Create opens a fresh session for a participant. A prior session for the
// same participant (a reconnect) is closed first.
func (m *SessionManager) Create(participantID domain.ParticipantID) (*Session, error) {
	m.mu.Lock()
	existing := m.sessions[participantID]
	delete(m.sessions, participantID)
	m.mu.Unlock()
	if existing != nil {
		existing.close()
	}

	pc, err := m.api.NewPeerConnection(m.webrtcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := &Session{
		participantID: participantID,
		pc:            pc,
		manager:       m,
		streams:       make(map[string]*Stream),
		logger:        m.logger.With("participant_id", participantID),
	}

	pc.OnTrack(session.handleTrack)
	pc.OnConnectionStateChange(session.handleConnectionStateChange)

	m.mu.Lock()
	m.sessions[participantID] = session
	m.mu.Unlock()

	m.logger.Infow("session created", "participant_id", participantID)
	return session, nil
}

// Get returns the live session for a participant, if any.
func (m *SessionManager) Get(participantID domain.ParticipantID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[participantID]
	return session, ok
}

// Close tears down the session for one participant.
func (m *SessionManager) Close(participantID domain.ParticipantID) {
	m.mu.Lock()
	session, ok := m.sessions[participantID]
	delete(m.sessions, participantID)
	m.mu.Unlock()

	if ok {
		session.close()
	}
}

// CloseAll tears down every live session. Used on shutdown and call end.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[domain.ParticipantID]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.close()
	}
}

func (m *SessionManager) drop(participantID domain.ParticipantID, session *Session) {
	m.mu.Lock()
	if m.sessions[participantID] == session {
		delete(m.sessions, participantID)
	}
	m.mu.Unlock()
}

// Session is one participant's peer connection plus the streams it has
// published so far, keyed by msid.
type Session struct {
	participantID domain.ParticipantID
	pc            *webrtc.PeerConnection
	manager       *SessionManager
	logger        *zap.SugaredLogger

	mu           sync.Mutex
	streams      map[string]*Stream
	trackOrdinal int

	closeOnce sync.Once
}

func (s *Session) ParticipantID() domain.ParticipantID { return s.participantID }

// OnICECandidate registers the trickle callback. Must be set before
// HandleOffer so candidates gathered during negotiation are not lost.
func (s *Session) OnICECandidate(fn func(candidate *webrtc.ICECandidate)) {
	s.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		fn(candidate)
	})
}

// HandleOffer applies a remote SDP offer and returns the local answer.
func (s *Session) HandleOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	return s.pc.LocalDescription(), nil
}

// AddICECandidate feeds a remote trickle candidate into the connection.
func (s *Session) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := s.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (s *Session) handleTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	msid := remote.StreamID()
	s.logger.Infow("track received",
		"track_id", remote.ID(),
		"stream_id", msid,
		"kind", remote.Kind().String(),
	)

	s.mu.Lock()
	stream, known := s.streams[msid]
	if !known {
		stream = NewStream(msid)
		s.streams[msid] = stream
	}
	s.trackOrdinal++
	relayStreamID := utils.GenerateRelayStreamID(string(s.participantID), s.trackOrdinal)
	s.mu.Unlock()

	track, err := newRemoteTrack(s.pc, remote, receiver, relayStreamID, s.manager.silenceTimeout, func(ended *RemoteTrack) {
		s.dispatch(domain.Event{
			Kind:          domain.EventStreamTrackRemove,
			ParticipantID: s.participantID,
			Stream:        stream,
			Track:         ended,
		})
	}, s.logger)
	if err != nil {
		s.logger.Errorw("failed to wrap remote track",
			"track_id", remote.ID(),
			"error", err,
		)
		return
	}

	if !known {
		s.dispatch(domain.Event{
			Kind:          domain.EventStreamAdd,
			ParticipantID: s.participantID,
			Stream:        stream,
			StreamKind:    classifyStream(remote.Kind(), msid),
		})
	}

	s.dispatch(domain.Event{
		Kind:          domain.EventStreamTrackAdd,
		ParticipantID: s.participantID,
		Stream:        stream,
		Track:         track,
	})
}

func (s *Session) handleConnectionStateChange(state webrtc.PeerConnectionState) {
	s.logger.Infow("connection state changed", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		s.manager.drop(s.participantID, s)
		s.dispatch(domain.Event{
			Kind:          domain.EventParticipantRemoved,
			ParticipantID: s.participantID,
		})
	}
}

func (s *Session) dispatch(ev domain.Event) {
	if err := s.manager.dispatcher.Dispatch(context.Background(), ev); err != nil {
		s.logger.Warnw("failed to dispatch event",
			"kind", ev.Kind,
			"error", err,
		)
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		if err := s.pc.Close(); err != nil {
			s.logger.Warnw("error closing peer connection", "error", err)
		}
	})
}

// classifyStream maps an inbound track onto the registry's stream taxonomy.
// Audio-only msids stay audio; browsers label screen captures in the msid.
func classifyStream(kind webrtc.RTPCodecType, msid string) domain.StreamKind {
	if kind == webrtc.RTPCodecTypeAudio {
		return domain.StreamKindAudio
	}
	lower := strings.ToLower(msid)
	switch {
	case strings.Contains(lower, "screen"):
		return domain.StreamKindScreen
	case strings.Contains(lower, "window"):
		return domain.StreamKindWindow
	case strings.Contains(lower, "desktop"):
		return domain.StreamKindDesktop
	default:
		return domain.StreamKindCamera
	}
}
