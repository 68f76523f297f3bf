package identity

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша разрешения.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rm_identity_cache_hits_total",
		Help: "Общее количество попаданий в кэш разрешения principal.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rm_identity_cache_misses_total",
		Help: "Общее количество промахов кэша разрешения principal.",
	})
)

// refCache — LRU-кэш «ссылка → principalId» с автоматическим TTL.
// Каждый экземпляр сервиса имеет собственный in-memory кэш.
type refCache struct {
	cache *expirable.LRU[string, string]
}

// newRefCache создаёт кэш с указанным максимальным размером и TTL.
func newRefCache(maxSize int, ttl time.Duration) *refCache {
	return &refCache{cache: expirable.NewLRU[string, string](maxSize, nil, ttl)}
}

// Get возвращает principalId по ссылке. Обновляет метрики hit/miss.
func (c *refCache) Get(ref string) (string, bool) {
	id, ok := c.cache.Get(ref)
	if ok {
		cacheHitsTotal.Inc()
		return id, true
	}
	cacheMissesTotal.Inc()
	return "", false
}

// Set добавляет или обновляет ссылку.
func (c *refCache) Set(ref, principalID string) {
	c.cache.Add(ref, principalID)
}

// Delete удаляет ссылку.
func (c *refCache) Delete(ref string) {
	c.cache.Remove(ref)
}

// Len возвращает количество ссылок в кэше.
func (c *refCache) Len() int {
	return c.cache.Len()
}
