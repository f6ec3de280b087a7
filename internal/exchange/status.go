package exchange

import (
	"errors"
	"sync"
	"time"

	"github.com/suwandre/arbwatch/internal/failover"
	"github.com/suwandre/arbwatch/internal/models"
)

// statusTracker is the per-adapter connection record. Concurrent batch
// groups update it, so every mutation goes through the mutex.
type statusTracker struct {
	mu     sync.Mutex
	status models.ConnectionStatus
}

func newStatusTracker(exchange, endpoint string) *statusTracker {
	return &statusTracker{
		status: models.ConnectionStatus{
			Exchange:        exchange,
			CurrentEndpoint: endpoint,
		},
	}
}

func (s *statusTracker) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.IsConnected = true
	s.status.LastUpdateAt = time.Now()
}

func (s *statusTracker) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.ErrorCount++
	s.status.LastError = err.Error()
	if errors.Is(err, failover.ErrAllEndpointsBlocked) || isNetworkError(err) {
		s.status.IsConnected = false
	}
}

func (s *statusTracker) setDisconnected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.IsConnected = false
	if err != nil {
		s.status.ErrorCount++
		s.status.LastError = err.Error()
	}
}

func (s *statusTracker) setEndpoint(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.CurrentEndpoint = endpoint
}

func (s *statusTracker) snapshot() models.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
