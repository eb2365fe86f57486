// Package catalog provides the authoritative service list used for
// partitioning, fetched once per run with a static fallback.
package catalog

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Redis key for the cached service catalog.
const cacheKeyServices = "posture:catalog:services"

// fallbackServices is the built-in catalog used when the services
// endpoint is unavailable. Skewed toward AWS because that is where check
// volume concentrates, but the catch-all partition bucket picks up
// anything missing here.
var fallbackServices = []string{
	"acm", "apigateway", "autoscaling", "cloudformation", "cloudfront",
	"cloudtrail", "cloudwatch", "config", "dynamodb", "ebs", "ec2", "ecr",
	"ecs", "efs", "eks", "elasticache", "elb", "guardduty", "iam", "kms",
	"lambda", "organizations", "rds", "redshift", "route53", "s3",
	"secretsmanager", "securityhub", "ses", "sns", "sqs", "vpc", "waf",
	"ActiveDirectory", "AppService", "KeyVault", "Monitor", "Network",
	"SQLServers", "SecurityCenter", "StorageAccounts", "VirtualMachines",
	"CloudSQL", "ComputeEngine", "GKE", "CloudStorage", "CloudIAM",
}

// Lister fetches the service catalog from the API.
type Lister interface {
	ListServices(ctx context.Context) ([]string, error)
}

// Catalog memoizes the service list for a run. The optional cache keeps
// the list warm across closely spaced runs; any fetch failure falls back
// to the built-in list rather than failing the run.
type Catalog struct {
	lister Lister
	cache  *Cache
	logger zerolog.Logger

	mu       sync.Mutex
	services []string
}

// New creates a catalog. cache may be nil.
func New(lister Lister, cache *Cache) *Catalog {
	return &Catalog{
		lister: lister,
		cache:  cache,
		logger: log.With().Str("component", "catalog").Logger(),
	}
}

// Services returns the service identifiers to partition by. Never fails
// and never returns an empty list.
func (c *Catalog) Services(ctx context.Context) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.services != nil {
		return c.services
	}

	var cached []string
	if err := c.cache.Get(ctx, cacheKeyServices, &cached); err == nil && len(cached) > 0 {
		c.logger.Debug().Int("services", len(cached)).Msg("Service catalog cache hit")
		c.services = cached
		return c.services
	}

	services, err := c.lister.ListServices(ctx)
	if err != nil || len(services) == 0 {
		c.logger.Warn().Err(err).
			Int("fallback_services", len(fallbackServices)).
			Msg("Service catalog unavailable, using built-in list")
		c.services = fallbackServices
		return c.services
	}

	if err := c.cache.Set(ctx, cacheKeyServices, services); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cache service catalog")
	}
	c.services = services
	return c.services
}

// Fallback returns the built-in service list.
func Fallback() []string {
	return fallbackServices
}
