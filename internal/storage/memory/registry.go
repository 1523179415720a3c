package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// Reward is one reward ledger entry.
type Reward struct {
	SourceID string
	Region   string
	Found    int
	Points   int
}

// Registry holds sources and targets and applies run bookkeeping. It
// implements crawler.TargetStore and crawler.StatsStore.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]crawler.Source
	targets  []crawler.Target
	rewards  []Reward
	statuses map[string][]crawler.SourceStatus
	runs     []crawler.RunStats
}

// NewRegistry seeds a Registry.
func NewRegistry(sources []crawler.Source, targets []crawler.Target) *Registry {
	r := &Registry{
		sources:  make(map[string]crawler.Source, len(sources)),
		targets:  append([]crawler.Target(nil), targets...),
		statuses: make(map[string][]crawler.SourceStatus),
	}
	for _, s := range sources {
		if s.Status == "" {
			s.Status = crawler.SourceStatusActive
		}
		r.sources[s.ID] = s
	}
	return r
}

// ActiveSources lists sources not currently running, optionally limited to region.
func (r *Registry) ActiveSources(_ context.Context, region string) ([]crawler.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []crawler.Source
	for _, s := range r.sources {
		if s.Status == crawler.SourceStatusRunning {
			continue
		}
		if region != "" && s.Region != region {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetSource returns the source with id.
func (r *Registry) GetSource(_ context.Context, sourceID string) (crawler.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[sourceID]
	if !ok {
		return crawler.Source{}, fmt.Errorf("source %s: %w", sourceID, crawler.ErrNotFound)
	}
	return s, nil
}

// ActiveTargets lists active targets in region, highest priority first.
func (r *Registry) ActiveTargets(_ context.Context, region string) ([]crawler.Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []crawler.Target
	for _, t := range r.targets {
		if t.Active && t.Region == region {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// ClaimSource marks the source running unless it is running already.
func (r *Registry) ClaimSource(_ context.Context, sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[sourceID]
	if !ok {
		return fmt.Errorf("source %s: %w", sourceID, crawler.ErrNotFound)
	}
	if s.Status == crawler.SourceStatusRunning {
		return fmt.Errorf("source %s: %w", sourceID, crawler.ErrSourceBusy)
	}
	s.Status = crawler.SourceStatusRunning
	r.sources[sourceID] = s
	r.statuses[sourceID] = append(r.statuses[sourceID], crawler.SourceStatusRunning)
	return nil
}

// RecordRun applies stats atomically under the registry lock.
func (r *Registry) RecordRun(_ context.Context, stats crawler.RunStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[stats.SourceID]
	if !ok {
		return fmt.Errorf("source %s: %w", stats.SourceID, crawler.ErrNotFound)
	}
	finished := stats.FinishedAt
	s.LastRun = &finished
	s.OpportunitiesFound += stats.Found
	if !stats.Success {
		s.ErrorCount++
	}
	s.RewardPoints += stats.RewardPoints
	s.Status = stats.Status
	r.sources[stats.SourceID] = s
	r.statuses[stats.SourceID] = append(r.statuses[stats.SourceID], stats.Status)
	if stats.RewardPoints > 0 {
		r.rewards = append(r.rewards, Reward{
			SourceID: stats.SourceID,
			Region:   stats.Region,
			Found:    stats.Found,
			Points:   stats.RewardPoints,
		})
	}
	r.runs = append(r.runs, stats)
	return nil
}

// Rewards returns the ledger.
func (r *Registry) Rewards() []Reward {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Reward(nil), r.rewards...)
}

// StatusHistory returns every status written for sourceID, in order.
func (r *Registry) StatusHistory(sourceID string) []crawler.SourceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]crawler.SourceStatus(nil), r.statuses[sourceID]...)
}

// Runs returns recorded run stats.
func (r *Registry) Runs() []crawler.RunStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]crawler.RunStats(nil), r.runs...)
}
