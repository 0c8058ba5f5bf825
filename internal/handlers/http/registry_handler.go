package http

import (
	"context"
	"net/http"
	"time"

	"callmesh/internal/core/domain"

	"github.com/gin-gonic/gin"
)

// RegistrySource is what the handler needs from the dispatch loop: the
// current immutable snapshot plus a way to enqueue lifecycle events.
type RegistrySource interface {
	Current() *domain.Registry
	Dispatch(ctx context.Context, ev domain.Event) error
}

// PreviewResolver resolves preview tokens back to the streams behind them.
type PreviewResolver interface {
	Lookup(token string) (domain.MediaStream, bool)
}

// keyframeRequester is implemented by video tracks that can ask the
// publisher for a fresh keyframe.
type keyframeRequester interface {
	RequestKeyframe() error
}

type RegistryHandler struct {
	source  RegistrySource
	preview PreviewResolver
}

func NewRegistryHandler(source RegistrySource, preview PreviewResolver) *RegistryHandler {
	return &RegistryHandler{
		source:  source,
		preview: preview,
	}
}

// SetupRoutes registers the registry API behind the given auth middleware.
// Preview stays public: its token is the capability, minted unguessable by
// the display provider.
func (h *RegistryHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.GET("/preview/:token", h.Preview)

	api := router.Group("/api/v1")
	api.Use(auth)
	{
		api.GET("/registry", h.GetRegistry)
		api.GET("/registry/participants/:id", h.GetParticipant)
		api.DELETE("/registry/participants/:id", h.RemoveParticipant)
		api.POST("/call/end", h.EndCall)
	}
}

type TrackView struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type StreamView struct {
	ID     string            `json:"id"`
	Kind   domain.StreamKind `json:"kind,omitempty"`
	URL    string            `json:"url,omitempty"`
	Tracks []TrackView       `json:"tracks"`
}

type ParticipantView struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Streams       []StreamView         `json:"streams"`
}

func participantView(ps domain.ParticipantStreams) ParticipantView {
	view := ParticipantView{
		ParticipantID: ps.ParticipantID,
		Streams:       make([]StreamView, 0, len(ps.Streams)),
	}
	for _, entry := range ps.Streams {
		sv := StreamView{
			ID:   entry.Stream.ID(),
			Kind: entry.Kind,
			URL:  entry.URL,
		}
		for _, track := range entry.Stream.Tracks() {
			sv.Tracks = append(sv.Tracks, TrackView{ID: track.ID(), Kind: track.Kind()})
		}
		view.Streams = append(view.Streams, sv)
	}
	return view
}

func (h *RegistryHandler) GetRegistry(c *gin.Context) {
	state := h.source.Current()

	participants := make([]ParticipantView, 0, state.Len())
	for _, ps := range state.Participants() {
		participants = append(participants, participantView(ps))
	}

	c.JSON(http.StatusOK, gin.H{
		"participants": participants,
		"stream_count": state.StreamCount(),
	})
}

func (h *RegistryHandler) GetParticipant(c *gin.Context) {
	participantID := domain.ParticipantID(c.Param("id"))

	ps, ok := h.source.Current().Get(participantID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrParticipantNotFound.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"participant": participantView(ps)})
}

func (h *RegistryHandler) RemoveParticipant(c *gin.Context) {
	participantID := domain.ParticipantID(c.Param("id"))

	if err := h.source.Dispatch(c.Request.Context(), domain.Event{
		Kind:          domain.EventParticipantRemoved,
		ParticipantID: participantID,
	}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"participant_id": participantID})
}

func (h *RegistryHandler) EndCall(c *gin.Context) {
	if err := h.source.Dispatch(c.Request.Context(), domain.Event{
		Kind: domain.EventCallEnded,
	}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "ending"})
}

// Preview resolves a preview token to the stream behind it. Video tracks get
// a keyframe request so the preview does not start on a stale frame.
func (h *RegistryHandler) Preview(c *gin.Context) {
	token := c.Param("token")

	stream, ok := h.preview.Lookup(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrStreamNotFound.Error()})
		return
	}

	sv := StreamView{ID: stream.ID()}
	for _, track := range stream.Tracks() {
		sv.Tracks = append(sv.Tracks, TrackView{ID: track.ID(), Kind: track.Kind()})
		if requester, ok := track.(keyframeRequester); ok {
			if err := requester.RequestKeyframe(); err != nil {
				// Preview still renders once the next natural keyframe arrives.
				continue
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"stream": sv})
}

func (h *RegistryHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
