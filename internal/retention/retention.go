package retention

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Minute,
		MaxAge:   7 * 24 * time.Hour,
	}
}

// Store is the part of the session ledger retention needs
type Store interface {
	DeleteEndedBefore(cutoff time.Time) (int64, error)
}

// Service prunes finished sessions from the ledger on a ticker
type Service struct {
	store  Store
	config Config
	logger *zap.Logger
	now    func() time.Time
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func New(store Store, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("🧹 Session retention started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("max_age", s.config.MaxAge))
}

func (s *Service) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.logger.Info("🧹 Session retention stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.PruneNow()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.PruneNow()
		}
	}
}

// PruneNow deletes sessions that ended more than MaxAge ago
func (s *Service) PruneNow() (int64, error) {
	cutoff := s.now().Add(-s.config.MaxAge)

	n, err := s.store.DeleteEndedBefore(cutoff)
	if err != nil {
		s.logger.Warn("Retention: prune failed", zap.Error(err))
		return 0, err
	}

	if n > 0 {
		s.logger.Info("🧹 Pruned sessions", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
