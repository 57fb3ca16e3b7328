// Package snapshot provides Redis-backed persistence for the engine's
// between-tick state: positions and trailing price bundles, keyed by
// symbol and side.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"gridtrader/internal/engine"
)

// RedisConfig mirrors the teacher's redis config shape, trimmed to what the
// snapshot store needs.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

const (
	keyPosition = "gridtrader:%s:%s:position" // symbol, side
	keyTrailing = "gridtrader:%s:%s:trailing"
)

// DefaultTTL bounds how long a symbol's state survives without being
// refreshed by a tick; a crashed driver shouldn't leave stale state forever.
const DefaultTTL = 7 * 24 * time.Hour

// Store is a circuit-breaker-guarded Redis client: when Redis is down,
// operations fail fast instead of blocking the tick loop, and callers fall
// back to treating the symbol as flat/unobserved.
type Store struct {
	client *redis.Client

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures     int
	checkInterval   time.Duration
	recoveryBackoff time.Duration
}

// New connects to Redis and returns a Store, in degraded mode if the initial
// ping fails.
func New(cfg RedisConfig) (*Store, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Store{
		client:          client,
		maxFailures:     3,
		checkInterval:   30 * time.Second,
		recoveryBackoff: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[SNAPSHOT] Initial Redis connection failed: %v", err)
		return s, nil
	}

	s.healthy = true
	s.lastCheck = time.Now()
	log.Printf("[SNAPSHOT] Redis connected successfully at %s", cfg.Address)
	return s, nil
}

// IsHealthy reports whether Redis is currently reachable.
func (s *Store) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Store) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= s.maxFailures {
		if s.healthy {
			log.Printf("[SNAPSHOT] Circuit breaker OPEN: Redis marked unhealthy after %d failures", s.failureCount)
		}
		s.healthy = false
	}
}

func (s *Store) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		log.Printf("[SNAPSHOT] Circuit breaker CLOSED: Redis recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

func (s *Store) checkHealth(ctx context.Context) {
	s.mu.RLock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	s.mu.RUnlock()
	if !shouldCheck {
		return
	}
	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Ping(pingCtx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

func (s *Store) get(ctx context.Context, key string, dst interface{}) (bool, error) {
	s.checkHealth(ctx)
	if !s.IsHealthy() {
		return false, fmt.Errorf("redis unavailable (circuit breaker open)")
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		s.recordFailure()
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	s.recordSuccess()
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) set(ctx context.Context, key string, value interface{}) error {
	s.checkHealth(ctx)
	if !s.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, DefaultTTL).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// LoadPosition reads the persisted position for symbol/side, returning
// found=false (and a zero Position) when no state has been saved yet.
func (s *Store) LoadPosition(ctx context.Context, symbol, side string) (engine.Position, bool, error) {
	var pos engine.Position
	found, err := s.get(ctx, fmt.Sprintf(keyPosition, symbol, side), &pos)
	return pos, found, err
}

// SavePosition persists the position for symbol/side.
func (s *Store) SavePosition(ctx context.Context, symbol, side string, pos engine.Position) error {
	return s.set(ctx, fmt.Sprintf(keyPosition, symbol, side), pos)
}

// LoadTrailing reads the persisted trailing price bundle for symbol/side,
// returning the zero-state bundle when none has been saved yet.
func (s *Store) LoadTrailing(ctx context.Context, symbol, side string) (engine.TrailingPriceBundle, error) {
	tb := engine.NewTrailingPriceBundle()
	_, err := s.get(ctx, fmt.Sprintf(keyTrailing, symbol, side), &tb)
	if err != nil {
		return engine.NewTrailingPriceBundle(), err
	}
	return tb, nil
}

// SaveTrailing persists the trailing price bundle for symbol/side.
func (s *Store) SaveTrailing(ctx context.Context, symbol, side string, tb engine.TrailingPriceBundle) error {
	return s.set(ctx, fmt.Sprintf(keyTrailing, symbol, side), tb)
}
