package media

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"callmesh/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RemoteTrack wraps one inbound pion track as a domain.MediaTrack. A pump
// goroutine forwards RTP packets onto a local fan-out track that subscribers
// and previews read from. Read timeouts drive the mute observer: no packets
// within the silence timeout means muted, the next packet unmutes.
type RemoteTrack struct {
	remote         *webrtc.TrackRemote
	receiver       *webrtc.RTPReceiver
	pc             *webrtc.PeerConnection
	local          *webrtc.TrackLocalStaticRTP
	silenceTimeout time.Duration
	onEnded        func(*RemoteTrack)
	logger         *zap.SugaredLogger

	mu       sync.Mutex
	observer domain.MuteObserver
	muted    bool

	stopOnce sync.Once
	stopped  chan struct{}
}

// newRemoteTrack wraps an inbound track. relayStreamID names the fan-out
// track's outbound msid; it carries the owning participant in packed form so
// downstream consumers can attribute the stream without trusting signaling.
func newRemoteTrack(
	pc *webrtc.PeerConnection,
	remote *webrtc.TrackRemote,
	receiver *webrtc.RTPReceiver,
	relayStreamID string,
	silenceTimeout time.Duration,
	onEnded func(*RemoteTrack),
	logger *zap.SugaredLogger,
) (*RemoteTrack, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		remote.Codec().RTPCodecCapability,
		remote.ID(),
		relayStreamID,
	)
	if err != nil {
		return nil, err
	}

	t := &RemoteTrack{
		remote:         remote,
		receiver:       receiver,
		pc:             pc,
		local:          local,
		silenceTimeout: silenceTimeout,
		onEnded:        onEnded,
		logger:         logger,
		stopped:        make(chan struct{}),
	}

	go t.pump()
	go t.readRTCP()

	return t, nil
}

func (t *RemoteTrack) ID() string { return t.remote.ID() }
func (t *RemoteTrack) Kind() string { return t.remote.Kind().String() }

// Local returns the fan-out track fed by the pump.
func (t *RemoteTrack) Local() *webrtc.TrackLocalStaticRTP { return t.local }

// Stop halts the pump. Safe to call repeatedly.
func (t *RemoteTrack) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopped)
	})
}

func (t *RemoteTrack) SetMuteObserver(observer domain.MuteObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = observer
}

// RequestKeyframe asks the publisher for a fresh keyframe via PLI, so a
// newly attached preview or subscriber does not wait for the next natural
// one.
func (t *RemoteTrack) RequestKeyframe() error {
	return t.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(t.remote.SSRC())},
	})
}

func (t *RemoteTrack) pump() {
	buf := make([]byte, 1500) // MTU size
	packet := &rtp.Packet{}

	for {
		select {
		case <-t.stopped:
			return
		default:
		}

		_ = t.remote.SetReadDeadline(time.Now().Add(t.silenceTimeout))
		n, _, err := t.remote.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.setMuted(true)
				continue
			}
			if !errors.Is(err, io.EOF) {
				t.logger.Warnw("error reading track",
					"track_id", t.remote.ID(),
					"error", err,
				)
			}
			t.Stop()
			if t.onEnded != nil {
				t.onEnded(t)
			}
			return
		}

		t.setMuted(false)

		if err := packet.Unmarshal(buf[:n]); err != nil {
			t.logger.Warnw("error unmarshaling RTP packet",
				"track_id", t.remote.ID(),
				"error", err,
			)
			continue
		}

		if err := t.local.WriteRTP(packet); err != nil {
			// Keep forwarding even if one write fails.
			t.logger.Debugw("error writing RTP packet to local track",
				"track_id", t.remote.ID(),
				"error", err,
			)
		}
	}
}

func (t *RemoteTrack) setMuted(muted bool) {
	t.mu.Lock()
	changed := t.muted != muted
	t.muted = muted
	observer := t.observer
	t.mu.Unlock()

	if !changed || observer == nil {
		return
	}
	if muted {
		observer.OnMute(t)
	} else {
		observer.OnUnmute(t)
	}
}

// readRTCP drains receiver reports so interceptors keep functioning and
// surfaces loss indications in the logs.
func (t *RemoteTrack) readRTCP() {
	for {
		select {
		case <-t.stopped:
			return
		default:
		}

		packets, _, err := t.receiver.ReadRTCP()
		if err != nil {
			return
		}

		for _, packet := range packets {
			switch p := packet.(type) {
			case *rtcp.TransportLayerNack:
				t.logger.Debugw("received NACK",
					"track_id", t.remote.ID(),
					"nacks", len(p.Nacks),
				)
			case *rtcp.PictureLossIndication:
				t.logger.Debugw("received PLI", "track_id", t.remote.ID())
			}
		}
	}
}
