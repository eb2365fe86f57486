// Package partition decomposes oversized queries into disjoint sub-queries
// so every result set stays under the API's fixed ceiling, and merges the
// refined results back into one deduplicated set.
package partition

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/cloudposture/checks-export/pkg/api"
	"github.com/cloudposture/checks-export/pkg/fetch"
	"github.com/cloudposture/checks-export/pkg/pool"
	"github.com/cloudposture/checks-export/pkg/posture"
)

// Fetcher resolves one sub-query across all its pages.
type Fetcher interface {
	Fetch(ctx context.Context, q posture.Query, opts fetch.Options) fetch.Result
}

// Dimension is one refinement axis: a field and the disjoint values to
// split a query along. CatchAll adds one extra bucket excluding every
// listed value, so records outside the known value set still surface.
type Dimension struct {
	Name     string
	Field    string
	Values   []string
	CatchAll bool
}

// ServiceDimension partitions by service using the run's catalog.
func ServiceDimension(services []string) Dimension {
	return Dimension{Name: "service", Field: "service", Values: services, CatchAll: true}
}

// RiskDimension partitions by the risk levels the query targets.
func RiskDimension(levels []posture.RiskLevel) Dimension {
	if len(levels) == 0 {
		levels = posture.AllRiskLevels
	}
	values := lo.Map(levels, func(l posture.RiskLevel, _ int) string { return string(l) })
	// Risk levels are a closed enum; a catch-all bucket would always be
	// empty under the query's own risk filter.
	return Dimension{Name: "riskLevel", Field: "riskLevel", Values: values}
}

// RegionDimension partitions by the provider's region seed list.
func RegionDimension(p posture.Provider) Dimension {
	return Dimension{Name: "region", Field: "region", Values: RegionsFor(p), CatchAll: true}
}

// DefaultDimensions is the refinement priority order: service catalog
// first, then risk level, then region.
func DefaultDimensions(p posture.Provider, services []string, levels []posture.RiskLevel) []Dimension {
	return []Dimension{
		ServiceDimension(services),
		RiskDimension(levels),
		RegionDimension(p),
	}
}

// Warning reasons.
const (
	ReasonCeiling   = "result ceiling reached with no refinement dimension left"
	ReasonTruncated = "catch-all exclusion list truncated to fit the filter length limit"
)

// Warning flags possible incompleteness for one partition. Not an error:
// the data fetched is real, but the true result set may be larger.
type Warning struct {
	AccountID string
	Status    posture.Status
	Path      []string
	Reason    string
}

func (w Warning) String() string {
	return fmt.Sprintf("account=%s status=%s partition=%s: %s",
		w.AccountID, w.Status, strings.Join(w.Path, "/"), w.Reason)
}

// SubError is a degraded sub-query: its siblings completed normally.
type SubError struct {
	AccountID string
	Status    posture.Status
	Path      []string
	Err       error
}

func (e SubError) Error() string {
	return fmt.Sprintf("account=%s status=%s partition=%s: %v",
		e.AccountID, e.Status, strings.Join(e.Path, "/"), e.Err)
}

// Outcome is the merged, deduplicated result of resolving one base query.
type Outcome struct {
	Items    []posture.Check
	Warnings []Warning
	Errors   []SubError
}

// Partitioner runs the refinement tree for one base query at a time.
type Partitioner struct {
	fetcher Fetcher
	coord   *pool.Coordinator
	budget  api.FilterBudget
	opts    fetch.Options
	logger  zerolog.Logger
}

// New creates a partitioner. The coordinator bounds how many sibling
// sub-queries run in flight.
func New(fetcher Fetcher, coord *pool.Coordinator, budget api.FilterBudget, opts fetch.Options) *Partitioner {
	return &Partitioner{
		fetcher: fetcher,
		coord:   coord,
		budget:  budget,
		opts:    opts,
		logger:  log.With().Str("component", "partitioner").Logger(),
	}
}

// ResolveComplete resolves the base query by always partitioning along the
// first dimension and recursively refining any sub-query that hits the
// ceiling along the remaining dimensions. A sub-query that hits the
// ceiling with no dimension left is surfaced as a Warning, never hidden.
// The merged output is deduplicated; the union of all partitions equals
// the unbounded result set except where a Warning says otherwise.
func (p *Partitioner) ResolveComplete(ctx context.Context, base posture.Query, dims []Dimension) Outcome {
	out := p.resolve(ctx, base, dims, nil)
	out.Items = Dedupe(out.Items)
	return out
}

// subQuery is one node of the refinement tree.
type subQuery struct {
	query posture.Query
	label string
}

func (p *Partitioner) resolve(ctx context.Context, base posture.Query, dims []Dimension, path []string) Outcome {
	if len(dims) == 0 {
		// Terminal: fetch directly; ceiling here is unrecoverable.
		res := p.fetcher.Fetch(ctx, base, p.opts)
		return p.outcomeOf(ctx, base, res, dims, path)
	}

	dim := dims[0]
	subs, truncWarning := p.split(base, dim, path)

	tasks := lo.Map(subs, func(s subQuery, _ int) func(context.Context) (fetch.Result, error) {
		return func(ctx context.Context) (fetch.Result, error) {
			return p.fetcher.Fetch(ctx, s.query, p.opts), nil
		}
	})
	results := pool.Run(ctx, p.coord, tasks)

	var out Outcome
	if truncWarning != nil {
		out.Warnings = append(out.Warnings, *truncWarning)
	}

	for i, r := range results {
		sub := subs[i]
		subPath := append(append([]string{}, path...), sub.label)

		if r.Err != nil {
			// Pool-level failure (context cancelled before start).
			out.Errors = append(out.Errors, SubError{
				AccountID: base.AccountID, Status: base.Status, Path: subPath, Err: r.Err,
			})
			continue
		}

		child := p.outcomeOf(ctx, sub.query, r.Value, dims[1:], subPath)
		out.Items = append(out.Items, child.Items...)
		out.Warnings = append(out.Warnings, child.Warnings...)
		out.Errors = append(out.Errors, child.Errors...)
	}
	return out
}

// outcomeOf folds one fetch result into an outcome, refining along the
// remaining dimensions when the result hit the ceiling.
func (p *Partitioner) outcomeOf(ctx context.Context, q posture.Query, res fetch.Result, rest []Dimension, path []string) Outcome {
	var out Outcome

	if res.Err != nil {
		// Degraded, not fatal: keep what was fetched and report the error.
		out.Items = res.Items
		out.Errors = append(out.Errors, SubError{
			AccountID: q.AccountID, Status: q.Status, Path: path, Err: res.Err,
		})
		return out
	}

	if !res.HitCeiling {
		out.Items = res.Items
		return out
	}

	if len(rest) == 0 {
		out.Items = res.Items
		out.Warnings = append(out.Warnings, Warning{
			AccountID: q.AccountID, Status: q.Status, Path: path, Reason: ReasonCeiling,
		})
		p.logger.Warn().
			Str("account_id", q.AccountID).
			Str("status", string(q.Status)).
			Strs("partition", path).
			Msg("Partition hit result ceiling with no refinement left")
		return out
	}

	p.logger.Info().
		Str("account_id", q.AccountID).
		Strs("partition", path).
		Str("next_dimension", rest[0].Name).
		Msg("Partition hit result ceiling, refining")

	// The truncated items are a subset of the refined union; drop them and
	// take the complete refinement instead.
	return p.resolve(ctx, q, rest, path)
}

// split produces the disjoint sub-queries for one dimension: one per
// value plus, when configured, a catch-all bucket excluding every value
// that the filter length budget can hold.
func (p *Partitioner) split(base posture.Query, dim Dimension, path []string) ([]subQuery, *Warning) {
	subs := make([]subQuery, 0, len(dim.Values)+1)
	for _, v := range dim.Values {
		subs = append(subs, subQuery{
			query: base.WithConstraint(api.Group(api.Eq(dim.Field, v))),
			label: dim.Field + "=" + v,
		})
	}

	if !dim.CatchAll {
		return subs, nil
	}

	baseLen := len(api.ComposeQuery(base))
	included := p.budget.FitExclusions(baseLen, dim.Field, dim.Values)

	catch := base
	for _, v := range dim.Values[:included] {
		catch = catch.WithConstraint(api.Group(api.Ne(dim.Field, v)))
	}
	subs = append(subs, subQuery{query: catch, label: dim.Field + "=<other>"})

	if included < len(dim.Values) {
		p.logger.Warn().
			Str("account_id", base.AccountID).
			Str("dimension", dim.Name).
			Int("excluded", included).
			Int("values", len(dim.Values)).
			Msg("Catch-all exclusion list truncated to fit filter budget")
		return subs, &Warning{
			AccountID: base.AccountID,
			Status:    base.Status,
			Path:      append(append([]string{}, path...), dim.Field+"=<other>"),
			Reason:    ReasonTruncated,
		}
	}
	return subs, nil
}
