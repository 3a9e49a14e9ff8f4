package service

import (
	"context"
	"log"
	"time"

	"github.com/quotagate/quotagate/internal/models"
)

// UsageStore is the sampled-usage persistence behind the stats read path.
type UsageStore interface {
	CreateBatch(ctx context.Context, samples []models.UsageSample) error
	TierCounts(ctx context.Context, since time.Time) (map[string]int64, error)
	ResourceTotals(ctx context.Context, since time.Time) ([]models.ResourceUsage, error)
	MostDenied(ctx context.Context, since time.Time, n int) ([]models.LimitedUser, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type decisionEvent struct {
	userID   string
	resource string
	tier     string
	allowed  bool
	cost     int64
}

type sampleKey struct {
	userID   string
	resource string
	tier     string
}

// StatsService aggregates admission decisions off the hot path. Decisions
// are queued on a buffered channel, folded in memory by a background worker
// and flushed to the sample table on a cadence; aggregate reports only ever
// read the samples. When the queue is full, events are dropped rather than
// blocking consumeRateLimit.
type StatsService struct {
	repo UsageStore

	events        chan decisionEvent
	flushInterval time.Duration
	retention     time.Duration
	stopChan      chan struct{}
	doneChan      chan struct{}
}

func NewStatsService(repo UsageStore, bufferSize int, flushInterval, retention time.Duration) *StatsService {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if flushInterval <= 0 {
		flushInterval = 15 * time.Second
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	return &StatsService{
		repo:          repo,
		events:        make(chan decisionEvent, bufferSize),
		flushInterval: flushInterval,
		retention:     retention,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
}

// Record queues one decision for sampling. Never blocks.
func (s *StatsService) Record(userID string, decision models.AdmissionDecision) {
	event := decisionEvent{
		userID:   userID,
		resource: decision.Resource,
		tier:     decision.Tier.String(),
		allowed:  decision.Allowed,
		cost:     decision.Cost,
	}

	select {
	case s.events <- event:
	default:
		// Queue full; stats are best-effort
	}
}

// Start launches the background sampler.
func (s *StatsService) Start() {
	go s.run()
}

// Stop flushes pending aggregates and stops the sampler.
func (s *StatsService) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

func (s *StatsService) run() {
	defer close(s.doneChan)

	batch := make(map[sampleKey]*models.UsageSample)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	lastCleanup := time.Now()

	for {
		select {
		case event := <-s.events:
			s.fold(batch, event)
		case <-ticker.C:
			s.flush(batch)
			batch = make(map[sampleKey]*models.UsageSample)

			if time.Since(lastCleanup) > time.Hour {
				s.cleanup()
				lastCleanup = time.Now()
			}
		case <-s.stopChan:
			// Drain whatever is queued before the final flush
			for {
				select {
				case event := <-s.events:
					s.fold(batch, event)
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

func (s *StatsService) fold(batch map[sampleKey]*models.UsageSample, event decisionEvent) {
	key := sampleKey{userID: event.userID, resource: event.resource, tier: event.tier}

	sample, ok := batch[key]
	if !ok {
		sample = &models.UsageSample{
			UserID:   event.userID,
			Resource: event.resource,
			Tier:     event.tier,
		}
		batch[key] = sample
	}

	if event.allowed {
		sample.Allowed++
		sample.CostUsed += event.cost
	} else {
		sample.Denied++
	}
}

func (s *StatsService) flush(batch map[sampleKey]*models.UsageSample) {
	if len(batch) == 0 {
		return
	}

	now := time.Now().UTC()
	samples := make([]models.UsageSample, 0, len(batch))
	for _, sample := range batch {
		sample.SampledAt = now
		samples = append(samples, *sample)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.repo.CreateBatch(ctx, samples); err != nil {
		log.Printf("Warning: failed to flush %d usage samples: %v", len(samples), err)
	}
}

func (s *StatsService) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := s.repo.DeleteBefore(ctx, time.Now().Add(-s.retention))
	if err != nil {
		log.Printf("Warning: failed to clean up old usage samples: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Deleted %d usage samples past retention", deleted)
	}
}

// TierDistribution reports active users per tier over the last day.
func (s *StatsService) TierDistribution(ctx context.Context) (models.TierDistribution, error) {
	counts, err := s.repo.TierCounts(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	dist := make(models.TierDistribution, len(counts))
	for tier, users := range counts {
		dist[tier] = users
	}
	return dist, nil
}

// ResourceUsagePatterns reports allow/deny/cost totals per resource over the
// last day.
func (s *StatsService) ResourceUsagePatterns(ctx context.Context) ([]models.ResourceUsage, error) {
	return s.repo.ResourceTotals(ctx, time.Now().Add(-24*time.Hour))
}

// MostLimitedUsers ranks users by denial count over the last day. A user
// with no recent activity simply does not appear.
func (s *StatsService) MostLimitedUsers(ctx context.Context, n int) ([]models.LimitedUser, error) {
	return s.repo.MostDenied(ctx, time.Now().Add(-24*time.Hour), n)
}
