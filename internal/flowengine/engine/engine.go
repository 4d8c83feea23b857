// Package engine implements the Flow Engine Service (spec §6): the
// orchestrator surface (start/get/list/pause/resume/cancel/retry/resolve/
// batch/statistics) that wires the catalog, durable store, event bus,
// scheduler, persistence coordinator, restore service, retry service, and
// live update channel together, generalized from the teacher's
// CRUD-with-validation `Service` + observability-hook convention
// (internal/app/services/automation/service/service.go).
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/catalog"
	"github.com/R3E-Network/flowengine/internal/flowengine/datacontext"
	"github.com/R3E-Network/flowengine/internal/flowengine/eventbus"
	"github.com/R3E-Network/flowengine/internal/flowengine/persistence"
	"github.com/R3E-Network/flowengine/internal/flowengine/restore"
	"github.com/R3E-Network/flowengine/internal/flowengine/retry"
	"github.com/R3E-Network/flowengine/internal/flowengine/scheduler"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/config"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
	"github.com/R3E-Network/flowengine/pkg/logger"
	"github.com/R3E-Network/flowengine/pkg/metrics"
	"github.com/R3E-Network/flowengine/pkg/tracing"
)

// Engine is the process-wide flow engine: it owns the catalog, store, bus,
// persistence coordinator, and every active flow's in-memory scheduler.
type Engine struct {
	mu         sync.Mutex
	cfg        *config.Config
	log        *logger.Logger
	catalog    *catalog.Catalog
	store      store.DurableStore
	bus        *eventbus.Bus
	coord      *persistence.Coordinator
	schedulers map[string]*scheduler.Scheduler
	retrySvc   *retry.Service
	tracer     tracing.Tracer
}

// SetTracer installs a tracer for flow-start and commit spans. Defaults to
// tracing.NoopTracer until configured, so tracing is opt-in.
func (e *Engine) SetTracer(t tracing.Tracer) {
	if t == nil {
		t = tracing.NoopTracer
	}
	e.tracer = t
}

var _ scheduler.Host = (*Engine)(nil)
var _ retry.Resumer = (*Engine)(nil)

// New builds an Engine over a backing store and configuration. It does not
// start the retry sweep or restore prior flows; call Start for that.
func New(cfg *config.Config, st store.DurableStore, log *logger.Logger) *Engine {
	bus := eventbus.New()
	e := &Engine{
		cfg:        cfg,
		log:        log,
		catalog:    catalog.New(),
		store:      st,
		bus:        bus,
		coord:      persistence.New(st, bus, log),
		schedulers: make(map[string]*scheduler.Scheduler),
		tracer:     tracing.NoopTracer,
	}
	e.retrySvc = retry.New(st, e, log, cfg.RetrySweepInterval, cfg.RetryMaxConcurrent)
	bus.SubscribeAdmin(e.onBusEvent)
	return e
}

// Bus exposes the event bus for the live update channel to subscribe on.
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// AttachRelay wires a cross-process Postgres NOTIFY relay into the
// persistence coordinator, so every commit this process makes is also
// broadcast for peer processes sharing the same store. No-op to call when
// running against an in-memory store.
func (e *Engine) AttachRelay(r *eventbus.Relay) { e.coord.SetRelay(r) }

// RegisterFlowType adds a flow type's step catalog (spec §4.1 register()).
func (e *Engine) RegisterFlowType(flowType string, defs []flow.StepDefinition) error {
	return e.catalog.Register(flowType, defs)
}

// Start marks the catalog frozen against redefinition, rehydrates
// non-terminal flows from the store (spec §4.8), and starts the retry
// sweep (spec §4.9). Call once after all flow types are registered.
func (e *Engine) Start(ctx context.Context) error {
	e.catalog.MarkStarted()

	rs := restore.New(e.catalog, e.store, e.log)
	rehydrated, drifted, err := rs.Scan(ctx)
	if err != nil {
		return err
	}
	for _, d := range drifted {
		e.log.WithFlow(d.FlowID, d.FlowType).
			WithField("missing_step", d.MissingStep).Error("engine: catalog drift on restore, failing flow")
		if d.Snapshot == nil {
			continue
		}
		failed := d.Snapshot.Clone()
		now := time.Now().UTC()
		failed.Version++
		failed.Status = flow.StatusFailed
		failed.LastError = "catalog drift: " + d.MissingStep
		failed.CompletedAt = &now
		failed.AppendEvent("FlowFailed", failed.LastError, now)
		if err := e.coord.Commit(ctx, failed); err != nil {
			logger.WithStep(e.log.WithFlow(d.FlowID, d.FlowType), "", failed.Version).
				WithField("error", err).Warn("engine: failed to persist catalog-drift failure")
		}
	}
	for _, r := range rehydrated {
		sch := scheduler.New(e, e.log, r.Snapshot, r.Data, r.Defs)
		e.mu.Lock()
		e.schedulers[r.Snapshot.FlowID] = sch
		e.mu.Unlock()
		if r.Snapshot.Status == flow.StatusRunning {
			go func(s *scheduler.Scheduler) { _ = s.Tick(ctx) }(sch)
		}
	}

	e.retrySvc.Start(ctx)
	return nil
}

// Stop halts the retry sweep.
func (e *Engine) Stop() { e.retrySvc.Stop() }

// StartFlow begins a brand-new flow instance of flowType (spec §4.1
// start()). Named to avoid colliding with Engine.Start, which boots the
// process-wide engine itself.
func (e *Engine) StartFlow(ctx context.Context, flowType, correlationID, userID string, initialData map[string]flow.Value) (*flow.Snapshot, error) {
	return e.startInternal(ctx, flowType, correlationID, userID, initialData, nil)
}

func (e *Engine) startInternal(ctx context.Context, flowType, correlationID, userID string, initialData map[string]flow.Value, triggeredBy *flow.TriggerRef) (*flow.Snapshot, error) {
	ctx, finish := e.tracer.StartSpan(ctx, "flowengine.start", map[string]string{
		"flow_type":      flowType,
		"correlation_id": correlationID,
	})
	snap, err := e.startInternalTraced(ctx, flowType, correlationID, userID, initialData, triggeredBy)
	finish(err)
	return snap, err
}

func (e *Engine) startInternalTraced(ctx context.Context, flowType, correlationID, userID string, initialData map[string]flow.Value, triggeredBy *flow.TriggerRef) (*flow.Snapshot, error) {
	defs, err := e.catalog.Resolve(flowType)
	if err != nil {
		return nil, err
	}

	defsMap := make(map[string]flow.StepDefinition, len(defs))
	steps := make([]flow.StepInstance, len(defs))
	for i, d := range defs {
		defsMap[d.Name] = d
		steps[i] = flow.FromDefinition(d, i)
	}

	snap := &flow.Snapshot{
		FlowID:        uuid.NewString(),
		FlowType:      flowType,
		CorrelationID: correlationID,
		UserID:        userID,
		Status:        flow.StatusInitializing,
		TotalSteps:    len(defs),
		CreatedAt:     time.Now().UTC(),
		DataContext:   initialData,
		Steps:         steps,
		TriggeredBy:   triggeredBy,
		MaxEventsTail: e.cfg.MaxEventsTail,
	}

	data := datacontext.New(initialData)
	sch := scheduler.New(e, e.log, snap, data, defsMap)

	e.mu.Lock()
	e.schedulers[snap.FlowID] = sch
	e.mu.Unlock()

	if err := sch.Start(ctx); err != nil {
		e.mu.Lock()
		delete(e.schedulers, snap.FlowID)
		e.mu.Unlock()
		return nil, err
	}

	return sch.Snapshot(), nil
}

// StartChildFlow implements scheduler.Host for sub-flow triggering
// (spec §4.3). Child flows inherit the parent's correlationId.
func (e *Engine) StartChildFlow(ctx context.Context, flowType, correlationID, userID string, triggeredBy flow.TriggerRef) (string, error) {
	snap, err := e.startInternal(ctx, flowType, correlationID, userID, nil, &triggeredBy)
	if err != nil {
		return "", err
	}
	return snap.FlowID, nil
}

// Commit implements scheduler.Host by delegating to the persistence
// coordinator.
func (e *Engine) Commit(ctx context.Context, snap *flow.Snapshot) error {
	ctx, finish := e.tracer.StartSpan(ctx, "flowengine.commit", map[string]string{
		"flow_id":   snap.FlowID,
		"flow_type": snap.FlowType,
		"status":    string(snap.Status),
	})
	err := e.coord.Commit(ctx, snap)
	finish(err)
	return err
}

// MaxBranchDepth implements scheduler.Host from configuration (spec §9).
func (e *Engine) MaxBranchDepth() int { return e.cfg.MaxBranchDepth }

// Get returns a flow's current snapshot, preferring the in-memory scheduler
// (authoritative for an active flow) and falling back to the store.
func (e *Engine) Get(ctx context.Context, flowID string) (*flow.Snapshot, error) {
	if sch := e.activeScheduler(flowID); sch != nil {
		return sch.Snapshot(), nil
	}
	snap, err := e.store.Load(ctx, flowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, engineerr.NotFound("flow", flowID)
		}
		return nil, err
	}
	return snap, nil
}

// List proxies to the store's filtered, paginated query (spec §6 list()).
func (e *Engine) List(ctx context.Context, filter store.Filter, page store.Page) ([]*flow.Snapshot, error) {
	return e.store.List(ctx, filter, page)
}

// Pause suspends a running flow (spec §4.1 pause()).
func (e *Engine) Pause(ctx context.Context, flowID, message string) error {
	sch := e.activeScheduler(flowID)
	if sch == nil {
		return engineerr.NotFound("flow", flowID)
	}
	return sch.Pause(ctx, message)
}

// Resume implements both the public resume() operation and retry.Resumer.
func (e *Engine) Resume(ctx context.Context, flowID string) error {
	sch := e.activeScheduler(flowID)
	if sch == nil {
		return engineerr.NotFound("flow", flowID)
	}
	return sch.Resume(ctx)
}

// Cancel transitions a flow to Cancelled (spec §4.1 cancel()).
func (e *Engine) Cancel(ctx context.Context, flowID, reason string) error {
	sch := e.activeScheduler(flowID)
	if sch == nil {
		return engineerr.NotFound("flow", flowID)
	}
	return sch.Cancel(ctx, reason)
}

// Retry re-enters a Failed flow (spec §4.1 retry()).
func (e *Engine) Retry(ctx context.Context, flowID string) error {
	sch := e.activeScheduler(flowID)
	if sch == nil {
		return engineerr.NotFound("flow", flowID)
	}
	return sch.Retry(ctx)
}

// Resolve force-completes a Failed flow (spec §4.1 resolve(), §9 decision).
// Spec §7 requires a reason for the audit trail; reject before touching the
// scheduler so a caller gets the same validation error whether or not the
// flow is currently active in this process.
func (e *Engine) Resolve(ctx context.Context, flowID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return engineerr.New(engineerr.CodeEngineError, "resolve requires a non-empty reason")
	}
	sch := e.activeScheduler(flowID)
	if sch == nil {
		return engineerr.NotFound("flow", flowID)
	}
	return sch.Resolve(ctx, reason)
}

// BatchAction names the operation Batch applies to each flow id.
type BatchAction string

const (
	BatchPause  BatchAction = "pause"
	BatchResume BatchAction = "resume"
	BatchCancel BatchAction = "cancel"
	BatchRetry  BatchAction = "retry"
)

// BatchItemResult is one flow's outcome within a Batch call.
type BatchItemResult struct {
	FlowID string `json:"flowId"`
	Error  string `json:"error,omitempty"`
}

// BatchResult aggregates the outcome of a Batch call across many flows and
// is what gets published as the BatchResult bus event (spec §4.6).
type BatchResult struct {
	Action  BatchAction       `json:"action"`
	Results []BatchItemResult `json:"results"`
}

// Batch applies the same action to many flows and publishes the aggregate
// outcome as a single BatchResult event (spec §4.1 batch(), §4.6).
func (e *Engine) Batch(ctx context.Context, action BatchAction, flowIDs []string) BatchResult {
	result := BatchResult{Action: action, Results: make([]BatchItemResult, 0, len(flowIDs))}
	for _, id := range flowIDs {
		var err error
		switch action {
		case BatchPause:
			err = e.Pause(ctx, id, "batch operation")
		case BatchResume:
			err = e.Resume(ctx, id)
		case BatchCancel:
			err = e.Cancel(ctx, id, "batch operation")
		case BatchRetry:
			err = e.Retry(ctx, id)
		default:
			err = engineerr.New(engineerr.CodeEngineError, "unknown batch action")
		}
		item := BatchItemResult{FlowID: id}
		if err != nil {
			item.Error = err.Error()
		}
		result.Results = append(result.Results, item)
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.EventBatchResult, Payload: result})
	return result
}

// Statistics summarizes flow counts by status for the given flow type (or
// every flow type if empty), per spec §4.1 statistics().
type Statistics struct {
	FlowType string           `json:"flowType,omitempty"`
	ByStatus map[string]int   `json:"byStatus"`
	Total    int              `json:"total"`
}

// Statistics computes a point-in-time count of flows by status (spec §4.1
// statistics()). It pages through the store rather than relying solely on
// the in-process gauges, since those only reflect this process's view.
func (e *Engine) Statistics(ctx context.Context, flowType string) (Statistics, error) {
	stats := Statistics{FlowType: flowType, ByStatus: make(map[string]int)}
	page := store.Page{Offset: 0, Limit: 500}
	for {
		snaps, err := e.store.List(ctx, store.Filter{FlowType: flowType}, page)
		if err != nil {
			return stats, err
		}
		if len(snaps) == 0 {
			break
		}
		for _, s := range snaps {
			stats.ByStatus[string(s.Status)]++
			stats.Total++
			metrics.FlowsByStatus.WithLabelValues(s.FlowType, string(s.Status)).Set(float64(stats.ByStatus[string(s.Status)]))
		}
		if len(snaps) < page.Limit {
			break
		}
		page.Offset += page.Limit
	}
	return stats, nil
}

func (e *Engine) activeScheduler(flowID string) *scheduler.Scheduler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schedulers[flowID]
}

// onBusEvent watches every published event for terminal child flows and
// notifies the parent's scheduler so awaitTriggered steps can complete
// (spec §4.3, §9 "event-driven control flow"), and evicts Completed and
// Cancelled flows' schedulers from memory. A Failed flow's scheduler stays
// registered so Retry and Resolve can still reach it.
func (e *Engine) onBusEvent(ev eventbus.Event) {
	snap, ok := ev.Payload.(*flow.Snapshot)
	if !ok || snap == nil || !snap.Status.Terminal() {
		return
	}
	if snap.TriggeredBy != nil {
		if parent := e.activeScheduler(snap.TriggeredBy.FlowID); parent != nil {
			parent.NotifyChildTerminal(context.Background(), snap.FlowID, snap.Status)
		}
	}
	if snap.Status == flow.StatusFailed {
		return
	}
	e.mu.Lock()
	delete(e.schedulers, snap.FlowID)
	e.mu.Unlock()
}
