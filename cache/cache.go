package cache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/domino14/yatzy/config"
	"github.com/domino14/yatzy/distribution"
	"github.com/domino14/yatzy/policy"
)

// The cache keeps learned tables that are expensive to read, so that
// consecutive shell commands do not reload the same files. Keys are
// "<kind>:<data path>". Anything that rewrites a table must Invalidate it.

type cache struct {
	sync.Mutex
	objects map[string]any
}

type loadFunc func(cfg *config.Config, key string) (any, error)

var GlobalObjectCache *cache

func (c *cache) get(cfg *config.Config, key string, loadFunc loadFunc) (any, error) {
	c.Lock()
	defer c.Unlock()
	if obj, ok := c.objects[key]; ok {
		log.Debug().Str("key", key).Msg("getting obj from cache")
		return obj, nil
	}
	log.Debug().Str("key", key).Msg("loading into cache")
	obj, err := loadFunc(cfg, key)
	if err != nil {
		return nil, err
	}
	c.objects[key] = obj
	return obj, nil
}

func (c *cache) invalidate(prefix string) int {
	c.Lock()
	defer c.Unlock()
	n := 0
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) {
			delete(c.objects, k)
			n++
		}
	}
	return n
}

func CreateGlobalObjectCache() {
	GlobalObjectCache = &cache{objects: make(map[string]any)}
}

func Load(cfg *config.Config, name string, loadFunc loadFunc) (any, error) {
	if GlobalObjectCache == nil {
		CreateGlobalObjectCache()
	}
	return GlobalObjectCache.get(cfg, name, loadFunc)
}

// Invalidate drops every cached object whose key starts with prefix and
// reports how many were dropped.
func Invalidate(prefix string) int {
	if GlobalObjectCache == nil {
		return 0
	}
	return GlobalObjectCache.invalidate(prefix)
}

const (
	KindHoldTables    = "holds"
	KindDistributions = "distr"
)

func key(kind string, cfg *config.Config) string {
	return kind + ":" + cfg.DataPath()
}

// HoldTables returns all fifteen hold tables of the configured data path.
func HoldTables(cfg *config.Config) ([]*policy.HoldTable, error) {
	obj, err := Load(cfg, key(KindHoldTables, cfg), func(cfg *config.Config, _ string) (any, error) {
		return policy.LoadAll(cfg.DataPath())
	})
	if err != nil {
		return nil, err
	}
	tables, ok := obj.([]*policy.HoldTable)
	if !ok {
		return nil, fmt.Errorf("cached %s is a %T", KindHoldTables, obj)
	}
	return tables, nil
}

// Distributions returns the learned score distributions, with nil for
// categories not learned yet.
func Distributions(cfg *config.Config) ([]*distribution.Histogram, error) {
	obj, err := Load(cfg, key(KindDistributions, cfg), func(cfg *config.Config, _ string) (any, error) {
		return distribution.LoadAll(cfg.DataPath(), false)
	})
	if err != nil {
		return nil, err
	}
	hs, ok := obj.([]*distribution.Histogram)
	if !ok {
		return nil, fmt.Errorf("cached %s is a %T", KindDistributions, obj)
	}
	return hs, nil
}
