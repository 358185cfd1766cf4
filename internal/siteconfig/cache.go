// Package siteconfig caches the site flags the engagement core consults
// while handling operator requests, so the decision never waits on the
// network.
package siteconfig

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"engagekit/internal/domain"
	"engagekit/internal/logging"
	"engagekit/internal/ports"
)

const DefaultSize = 32

// Cache is an LRU of fetched site configurations keyed by site ID.
type Cache struct {
	fetcher ports.SiteConfigurationFetcher
	entries *lru.Cache[string, domain.SiteConfiguration]
	log     logging.Logger
}

func New(fetcher ports.SiteConfigurationFetcher, size int, log logging.Logger) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if log == nil {
		log = logging.NoOpLogger{}
	}
	entries, err := lru.New[string, domain.SiteConfiguration](size)
	if err != nil {
		return nil, fmt.Errorf("create site configuration cache: %w", err)
	}
	return &Cache{
		fetcher: fetcher,
		entries: entries,
		log:     logging.With(log, "component", "siteconfig"),
	}, nil
}

// Get returns the cached configuration for siteID, fetching it on a miss.
func (c *Cache) Get(ctx context.Context, siteID string) (domain.SiteConfiguration, error) {
	if cfg, ok := c.entries.Get(siteID); ok {
		return cfg, nil
	}
	cfg, err := c.fetcher.FetchSiteConfiguration(ctx, siteID)
	if err != nil {
		return domain.SiteConfiguration{}, fmt.Errorf("fetch site configuration %q: %w", siteID, err)
	}
	if cfg.SiteID == "" {
		cfg.SiteID = siteID
	}
	c.entries.Add(siteID, cfg)
	c.log.Debug("site configuration cached", "site_id", siteID,
		"observation_confirmation", cfg.ObservationConfirmationRequired,
		"observation_indicator", cfg.ObservationIndicatorEnabled)
	return cfg, nil
}

// Lookup returns the cached configuration without fetching. A miss yields
// the zero configuration: no confirmation, no indicator.
func (c *Cache) Lookup(siteID string) (domain.SiteConfiguration, bool) {
	cfg, ok := c.entries.Get(siteID)
	if !ok {
		return domain.SiteConfiguration{SiteID: siteID}, false
	}
	return cfg, true
}

func (c *Cache) Invalidate(siteID string) {
	c.entries.Remove(siteID)
}

func (c *Cache) Purge() {
	c.entries.Purge()
}

func (c *Cache) Len() int {
	return c.entries.Len()
}
