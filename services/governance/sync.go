package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentPeers = 4

// Syncer pulls peer snapshots on an interval and merges them into the Service
type Syncer struct {
	svc        *Service
	peers      []string
	interval   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSyncer creates a new Syncer
func NewSyncer(svc *Service, peers []string, interval time.Duration, logger *zap.Logger) *Syncer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Syncer{
		svc:        svc,
		peers:      peers,
		interval:   interval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Run syncs until ctx is cancelled
func (s *Syncer) Run(ctx context.Context) {
	if len(s.peers) == 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("governance sync started",
		zap.Strings("peers", s.peers),
		zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil {
				s.logger.Warn("governance sync round failed", zap.Error(err))
			}
		}
	}
}

// SyncOnce fetches every peer concurrently and merges what was fetched.
// A failing peer does not stop the others; the first error is returned.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	snapshots := make([]*Snapshot, len(s.peers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPeers)
	errs := make([]error, len(s.peers))
	for i, peer := range s.peers {
		g.Go(func() error {
			snap, err := s.fetch(gctx, peer)
			if err != nil {
				errs[i] = err
				s.logger.Warn("failed to fetch peer snapshot", zap.String("peer", peer), zap.Error(err))
				return nil
			}
			snapshots[i] = snap
			return nil
		})
	}
	_ = g.Wait()

	changed := 0
	for _, snap := range snapshots {
		if snap == nil {
			continue
		}
		_, n, err := s.svc.Merge(ctx, *snap)
		if err != nil {
			return changed, err
		}
		changed += n
	}

	for _, err := range errs {
		if err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func (s *Syncer) fetch(ctx context.Context, peer string) (*Snapshot, error) {
	url := strings.TrimRight(peer, "/") + "/governance/sync/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s returned status %d", peer, resp.StatusCode)
	}

	var body struct {
		Data Snapshot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot from %s: %w", peer, err)
	}
	return &body.Data, nil
}
