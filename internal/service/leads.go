package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/boddenberg/crm-leads-go/internal/infra/observability"
	"github.com/boddenberg/crm-leads-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var leadsTracer = otel.Tracer("service/leads")

// Reload outcomes, as recorded in metrics.
const (
	reloadOK      = "ok"
	reloadError   = "error"
	reloadSkipped = "skipped"
	reloadStale   = "stale"
)

// LeadCache is the in-memory lead list. Mutations are write-through: the
// CRM API call must succeed before local state changes.
type LeadCache struct {
	api         port.LeadsAPI
	tokens      port.TokenReader
	detail      port.Cache[domain.LeadID, domain.Lead]
	group       singleflight.Group
	urgentAfter time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger

	mu      sync.RWMutex
	leads   []domain.Lead
	loading bool
	seq     uint64
	lastErr error
	// epoch advances on Clear; detail fetches started in an older epoch
	// are not cached.
	epoch uint64
}

// NewLeadCache creates an empty cache. detail holds single-record fetches
// made by Lookup for leads not present in the list.
func NewLeadCache(
	api port.LeadsAPI,
	tokens port.TokenReader,
	detail port.Cache[domain.LeadID, domain.Lead],
	urgentAfter time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *LeadCache {
	if urgentAfter <= 0 {
		urgentAfter = domain.DefaultUrgentAfter
	}
	return &LeadCache{
		api:         api,
		tokens:      tokens,
		detail:      detail,
		urgentAfter: urgentAfter,
		metrics:     metrics,
		logger:      logger,
		leads:       []domain.Lead{},
	}
}

// ============================================================
// Reload
// ============================================================

// Reload replaces the list with a fresh fetch. Without a token the list is
// emptied and the server is not called. On failure the list is emptied and
// the error returned. A reload superseded by a later Reload or Clear leaves
// state alone.
func (c *LeadCache) Reload(ctx context.Context) error {
	ctx, span := leadsTracer.Start(ctx, "LeadCache.Reload")
	defer span.End()

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.loading = true
	c.mu.Unlock()

	if _, ok := c.tokens.Get(ctx); !ok {
		if c.finish(seq, []domain.Lead{}, nil) {
			c.metrics.IncrReload(reloadSkipped)
		}
		c.logger.Debug("leads: reload skipped, no token")
		return nil
	}

	leads, err := c.api.ListLeads(ctx)
	if err != nil {
		span.RecordError(err)
		if c.finish(seq, []domain.Lead{}, err) {
			c.metrics.IncrReload(reloadError)
			c.logger.Warn("leads: reload failed", zap.Error(err))
		}
		return err
	}

	if !c.finish(seq, leads, nil) {
		return nil
	}
	c.metrics.IncrReload(reloadOK)
	span.SetAttributes(attribute.Int("leads.count", len(leads)))
	c.logger.Info("leads: reloaded", zap.Int("count", len(leads)))
	return nil
}

// finish applies a reload result if seq is still current. It reports
// whether the result was applied.
func (c *LeadCache) finish(seq uint64, leads []domain.Lead, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		c.metrics.IncrReload(reloadStale)
		c.logger.Debug("leads: discarding superseded reload", zap.Uint64("seq", seq), zap.Uint64("current", c.seq))
		return false
	}
	c.leads = leads
	c.loading = false
	c.lastErr = err
	c.metrics.SetCachedLeads(len(leads))
	return true
}

// ============================================================
// Write-through mutations
// ============================================================

// UpdateStatus sets a lead's status on the server, then locally. On
// failure local state is untouched and the server error is returned.
func (c *LeadCache) UpdateStatus(ctx context.Context, id domain.LeadID, status domain.Status) error {
	ctx, span := leadsTracer.Start(ctx, "LeadCache.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", id.String()), attribute.String("lead.status", string(status)))

	if !status.Valid() {
		return &domain.ErrValidation{Field: "status", Message: "unknown status " + string(status)}
	}

	if _, err := c.api.UpdateLeadStatus(ctx, id, status); err != nil {
		span.RecordError(err)
		return err
	}

	c.mu.Lock()
	for i := range c.leads {
		if c.leads[i].ID == id {
			c.leads[i].Status = status
		}
	}
	c.mu.Unlock()

	c.detail.Update(id, func(l domain.Lead) domain.Lead {
		l.Status = status
		return l
	})

	c.logger.Info("leads: status updated", zap.String("lead_id", id.String()), zap.String("status", string(status)))
	return nil
}

// Delete removes a lead on the server, then the first matching record
// locally. Deleting an id that is not cached leaves the list unchanged.
func (c *LeadCache) Delete(ctx context.Context, id domain.LeadID) error {
	ctx, span := leadsTracer.Start(ctx, "LeadCache.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", id.String()))

	if err := c.api.DeleteLead(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}

	c.mu.Lock()
	for i := range c.leads {
		if c.leads[i].ID == id {
			c.leads = append(c.leads[:i:i], c.leads[i+1:]...)
			break
		}
	}
	n := len(c.leads)
	c.mu.Unlock()

	c.detail.Delete(id)
	c.metrics.SetCachedLeads(n)
	c.logger.Info("leads: deleted", zap.String("lead_id", id.String()))
	return nil
}

// ============================================================
// Reads
// ============================================================

// GetByID looks id up in the cached list only.
func (c *LeadCache) GetByID(id domain.LeadID) (domain.Lead, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, l := range c.leads {
		if l.ID == id {
			return l, true
		}
	}
	return domain.Lead{}, false
}

// Lookup returns a lead from the list, else from the detail cache, else by
// fetching it. Concurrent fetches of one id share a single request.
func (c *LeadCache) Lookup(ctx context.Context, id domain.LeadID) (domain.Lead, error) {
	if l, ok := c.GetByID(id); ok {
		c.metrics.IncrLookup(true)
		return l, nil
	}
	if l, ok := c.detail.Get(id); ok {
		c.metrics.IncrLookup(true)
		return l, nil
	}
	c.metrics.IncrLookup(false)

	ctx, span := leadsTracer.Start(ctx, "LeadCache.Lookup")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", id.String()))

	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()

	key := strconv.FormatUint(epoch, 10) + "/" + id.String()
	v, err, shared := c.group.Do(key, func() (any, error) {
		l, err := c.api.GetLead(ctx, id)
		if err != nil {
			return domain.Lead{}, err
		}
		c.storeDetail(epoch, id, l)
		return l, nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.Lead{}, err
	}
	span.SetAttributes(attribute.Bool("singleflight.shared", shared))
	return v.(domain.Lead), nil
}

// storeDetail caches a fetched lead unless Clear ran since the fetch began.
func (c *LeadCache) storeDetail(epoch uint64, id domain.LeadID, l domain.Lead) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		c.logger.Debug("leads: dropping detail fetched before clear", zap.String("lead_id", id.String()))
		return
	}
	c.detail.Set(id, l)
}

// Leads returns a copy of the cached list.
func (c *LeadCache) Leads() []domain.Lead {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Lead, len(c.leads))
	copy(out, c.leads)
	return out
}

// Filter returns the cached leads with the given status.
func (c *LeadCache) Filter(status domain.Status) []domain.Lead {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.FilterByStatus(c.leads, status)
}

// Tasks derives the urgent / in-progress view at now.
func (c *LeadCache) Tasks(now time.Time) domain.Tasks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.BuildTasks(c.leads, now, c.urgentAfter)
}

// IsLoading reports whether a reload is in flight.
func (c *LeadCache) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// LastError is the error of the most recent applied reload, if any.
func (c *LeadCache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Clear empties the cache and invalidates any in-flight reload or detail
// fetch.
func (c *LeadCache) Clear() {
	c.mu.Lock()
	c.seq++
	c.epoch++
	c.leads = []domain.Lead{}
	c.loading = false
	c.lastErr = nil
	c.detail.Purge()
	c.mu.Unlock()

	c.metrics.SetCachedLeads(0)
}

// HandleAuthChange is the Session listener: reload on sign-in, clear on
// sign-out. Reload failures are logged and kept in LastError.
func (c *LeadCache) HandleAuthChange(ctx context.Context, authenticated bool) {
	if !authenticated {
		c.Clear()
		c.logger.Debug("leads: cleared on sign-out")
		return
	}
	if err := c.Reload(ctx); err != nil {
		c.logger.Warn("leads: reload after sign-in failed", zap.Error(err))
	}
}
