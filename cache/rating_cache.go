// Package cache содержит внутрипроцессный TTL-кэш рейтингов.
// Кэш создаётся один раз при старте и передаётся по ссылке —
// никакого модульного синглтона.
package cache

import (
	"sync"
	"time"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultTTL = 30 * time.Second

type entry struct {
	rating    models.PlayerRating
	expiresAt time.Time
}

// RatingCache — потокобезопасный кэш строк PlayerRating с TTL и
// счётчиками попаданий/промахов.
type RatingCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[int]entry

	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

// NewRatingCache создаёт кэш. Если reg == nil, метрики не регистрируются
// (удобно в тестах).
func NewRatingCache(ttl time.Duration, reg prometheus.Registerer) *RatingCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	factory := promauto.With(reg)
	return &RatingCache{
		ttl:     ttl,
		entries: make(map[int]entry),
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "rating_cache_hits_total",
			Help: "Number of rating cache hits.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "rating_cache_misses_total",
			Help: "Number of rating cache misses.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "rating_cache_evictions_total",
			Help: "Number of expired rating cache entries evicted.",
		}),
	}
}

// Get возвращает копию закэшированной строки, если она ещё не протухла.
func (c *RatingCache) Get(playerID int) (*models.PlayerRating, bool) {
	c.mu.RLock()
	e, ok := c.entries[playerID]
	c.mu.RUnlock()

	if !ok {
		c.misses.Inc()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Перепроверяем под write-блокировкой: запись могли уже обновить.
		if current, still := c.entries[playerID]; still && time.Now().After(current.expiresAt) {
			delete(c.entries, playerID)
			c.evictions.Inc()
		}
		c.mu.Unlock()
		c.misses.Inc()
		return nil, false
	}

	c.hits.Inc()
	rating := e.rating
	return &rating, true
}

// Set кладёт копию строки в кэш со свежим TTL.
func (c *RatingCache) Set(rating *models.PlayerRating) {
	if rating == nil {
		return
	}
	c.mu.Lock()
	c.entries[rating.PlayerID] = entry{rating: *rating, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate убирает игрока из кэша (вызывается после записи рейтинга).
func (c *RatingCache) Invalidate(playerID int) {
	c.mu.Lock()
	delete(c.entries, playerID)
	c.mu.Unlock()
}

// Len — текущее количество записей, включая протухшие.
func (c *RatingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
