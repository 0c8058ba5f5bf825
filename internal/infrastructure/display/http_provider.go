package display

import (
	"fmt"
	"strings"
	"sync"

	"callmesh/internal/core/domain"
	"callmesh/pkg/utils"

	"go.uber.org/zap"
)

// HTTPDisplayProvider hands out revocable preview URLs for streams. Acquire
// registers an unguessable token routed by the HTTP preview handler; Release
// revokes it. Tokens for released or unknown URLs resolve to nothing, so a
// stale preview link degrades to a 404 rather than leaking a stream.
type HTTPDisplayProvider struct {
	baseURL    string
	maxHandles int // 0 = unlimited
	logger     *zap.SugaredLogger

	mu      sync.RWMutex
	handles map[string]domain.MediaStream
	closed  bool
}

func NewHTTPDisplayProvider(baseURL string, maxHandles int, logger *zap.SugaredLogger) *HTTPDisplayProvider {
	return &HTTPDisplayProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxHandles: maxHandles,
		logger:     logger,
		handles:    make(map[string]domain.MediaStream),
	}
}

// Acquire registers a preview handle for the stream and returns its URL.
func (p *HTTPDisplayProvider) Acquire(stream domain.MediaStream) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", fmt.Errorf("%w: provider closed", domain.ErrDisplayUnavailable)
	}
	if p.maxHandles > 0 && len(p.handles) >= p.maxHandles {
		return "", fmt.Errorf("%w: handle limit %d reached", domain.ErrDisplayUnavailable, p.maxHandles)
	}

	token := utils.GeneratePreviewToken()
	p.handles[token] = stream

	url := fmt.Sprintf("%s/preview/%s", p.baseURL, token)
	p.logger.Debugw("preview handle acquired", "stream_id", stream.ID(), "url", url)
	return url, nil
}

// Release revokes the handle behind the URL. Unknown and already-released
// URLs are ignored.
func (p *HTTPDisplayProvider) Release(url string) {
	token := url[strings.LastIndex(url, "/")+1:]

	p.mu.Lock()
	_, existed := p.handles[token]
	delete(p.handles, token)
	p.mu.Unlock()

	if existed {
		p.logger.Debugw("preview handle released", "url", url)
	}
}

// Lookup resolves a preview token to its stream.
func (p *HTTPDisplayProvider) Lookup(token string) (domain.MediaStream, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stream, ok := p.handles[token]
	return stream, ok
}

// ActiveHandles returns the number of live preview handles.
func (p *HTTPDisplayProvider) ActiveHandles() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handles)
}

// Close revokes all handles and makes further Acquire calls fail.
func (p *HTTPDisplayProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.handles = make(map[string]domain.MediaStream)
}
