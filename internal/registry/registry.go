package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"meshgate/internal/core"
	"meshgate/internal/metrics"
	"meshgate/pkg/errors"
)

// MonitorFunc runs the liveness loop for one instance, reporting every probe
// to reporter, until ctx is cancelled.
type MonitorFunc func(ctx context.Context, instance core.ServiceInstance, reporter core.HealthReporter)

// Options configures a Registry
type Options struct {
	// UnhealthyThreshold is the number of consecutive failed probes after
	// which a live instance is evicted.
	UnhealthyThreshold int
	// Monitor is started once per registered instance. Nil disables
	// monitoring; health then only changes through UpdateHealth.
	Monitor MonitorFunc
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// RegisterOption customises a registration
type RegisterOption func(*core.ServiceInstance)

// WithMetadata attaches opaque metadata to the registered instance
func WithMetadata(md map[string]string) RegisterOption {
	return func(inst *core.ServiceInstance) {
		if len(md) == 0 {
			return
		}
		inst.Metadata = make(map[string]string, len(md))
		for k, v := range md {
			inst.Metadata[k] = v
		}
	}
}

// Registry tracks the instances of every logical service together with
// their probe-derived health. It is the single owner of instance state.
type Registry struct {
	threshold int
	monitor   MonitorFunc
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.RWMutex
	services map[string]*service
	order    []string
	byID     map[string]*service
	monitors map[string]*monitorTask
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events *broadcaster
}

// service holds the instances of one logical service. Writers hold mu;
// readers load the live snapshot without locking.
type service struct {
	name    string
	mu      sync.Mutex
	entries []*entry
	live    atomic.Pointer[[]core.ServiceInstance]
}

type entry struct {
	instance    core.ServiceInstance
	lastSeq     uint64
	lastStarted time.Time
}

type monitorTask struct {
	cancel context.CancelFunc
}

// New creates an empty registry
func New(opts Options) *Registry {
	if opts.UnhealthyThreshold <= 0 {
		opts.UnhealthyThreshold = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		threshold: opts.UnhealthyThreshold,
		monitor:   opts.Monitor,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "registry"),
		services:  make(map[string]*service),
		byID:      make(map[string]*service),
		monitors:  make(map[string]*monitorTask),
		ctx:       ctx,
		cancel:    cancel,
		events:    newBroadcaster(opts.Metrics),
	}
}

// Register adds an instance of the named service in the Unknown state and
// starts its health monitor. Registering an address that is already present
// and healthy fails with a duplicate_instance error; a present but
// non-healthy registration is replaced.
func (r *Registry) Register(ctx context.Context, name, address, healthCheckAddress string, opts ...RegisterOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateRegistration(name, address, healthCheckAddress); err != nil {
		return "", err
	}

	inst := core.ServiceInstance{
		ID:                 uuid.NewString(),
		Name:               name,
		Address:            address,
		HealthCheckAddress: healthCheckAddress,
		State:              core.HealthUnknown,
		RegisteredAt:       time.Now(),
	}
	for _, opt := range opts {
		opt(&inst)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", errors.NewError(errors.ErrorTypeServiceUnavailable, "registry is closed")
	}

	svc, ok := r.services[name]
	if !ok {
		svc = &service{name: name}
		svc.live.Store(&[]core.ServiceInstance{})
		r.services[name] = svc
		r.order = append(r.order, name)
	}

	svc.mu.Lock()
	var replaced *core.ServiceInstance
	for i, e := range svc.entries {
		if e.instance.Address != address {
			continue
		}
		if e.instance.State == core.HealthHealthy {
			svc.mu.Unlock()
			r.mu.Unlock()
			return "", errors.NewError(errors.ErrorTypeDuplicateInstance, "instance already registered").
				WithDetail("service", name).
				WithDetail("address", address).
				WithDetail("instanceId", e.instance.ID)
		}
		old := e.instance
		replaced = &old
		svc.entries = slices.Delete(svc.entries, i, i+1)
		break
	}
	svc.entries = append(svc.entries, &entry{instance: inst})
	svc.publishLocked()
	svc.mu.Unlock()

	var oldTask *monitorTask
	if replaced != nil {
		delete(r.byID, replaced.ID)
		oldTask = r.monitors[replaced.ID]
		delete(r.monitors, replaced.ID)
	}
	r.byID[inst.ID] = svc
	if r.monitor != nil {
		r.startMonitorLocked(inst)
	}
	r.mu.Unlock()

	if oldTask != nil {
		oldTask.cancel()
	}
	if replaced != nil {
		r.logger.Info("Replaced non-healthy instance",
			"service", name,
			"address", address,
			"oldInstance", replaced.ID,
			"instance", inst.ID,
		)
		r.events.publish(core.HealthEvent{Type: core.EventDeregistered, Instance: *replaced, At: time.Now()})
	}

	r.logger.Info("Instance registered",
		"service", name,
		"instance", inst.ID,
		"address", address,
	)
	r.recordInstances(svc)
	r.events.publish(core.HealthEvent{Type: core.EventRegistered, Instance: inst, At: inst.RegisteredAt})

	return inst.ID, nil
}

// startMonitorLocked launches the monitor task for inst. r.mu must be held.
func (r *Registry) startMonitorLocked(inst core.ServiceInstance) {
	ctx, cancel := context.WithCancel(r.ctx)
	r.monitors[inst.ID] = &monitorTask{cancel: cancel}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.monitor(ctx, inst, r)
	}()
}

// Deregister removes an instance and cancels its monitor. Unknown IDs are
// ignored.
func (r *Registry) Deregister(instanceID string) error {
	r.mu.Lock()
	svc, ok := r.byID[instanceID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.byID, instanceID)
	task := r.monitors[instanceID]
	delete(r.monitors, instanceID)

	svc.mu.Lock()
	var removed core.ServiceInstance
	for i, e := range svc.entries {
		if e.instance.ID == instanceID {
			removed = e.instance
			svc.entries = slices.Delete(svc.entries, i, i+1)
			break
		}
	}
	svc.publishLocked()
	empty := len(svc.entries) == 0
	svc.mu.Unlock()

	if empty {
		delete(r.services, svc.name)
		r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == svc.name })
	}
	r.mu.Unlock()

	if task != nil {
		task.cancel()
	}

	r.logger.Info("Instance deregistered",
		"service", removed.Name,
		"instance", instanceID,
	)
	if empty {
		r.forgetInstances(svc.name)
	} else {
		r.recordInstances(svc)
	}
	r.events.publish(core.HealthEvent{Type: core.EventDeregistered, Instance: removed, At: time.Now()})
	return nil
}

// HealthyInstances returns the live set of the named service in
// registration order. The returned slice is never modified by the
// registry.
func (r *Registry) HealthyInstances(name string) []core.ServiceInstance {
	r.mu.RLock()
	svc, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return []core.ServiceInstance{}
	}
	return *svc.live.Load()
}

// UpdateHealth applies a probe result to an instance. Results for unknown
// instances and results older than the last applied probe are discarded.
func (r *Registry) UpdateHealth(instanceID string, result core.ProbeResult) bool {
	r.mu.RLock()
	svc, ok := r.byID[instanceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	svc.mu.Lock()
	var e *entry
	for _, candidate := range svc.entries {
		if candidate.instance.ID == instanceID {
			e = candidate
			break
		}
	}
	if e == nil {
		svc.mu.Unlock()
		return false
	}
	if stale(e, result) {
		svc.mu.Unlock()
		if r.metrics != nil {
			r.metrics.StaleProbes.Inc()
		}
		r.logger.Debug("Discarded stale probe result",
			"service", svc.name,
			"instance", instanceID,
			"seq", result.Seq,
			"lastSeq", e.lastSeq,
		)
		return false
	}

	e.lastSeq = max(e.lastSeq, result.Seq)
	if result.StartedAt.After(e.lastStarted) {
		e.lastStarted = result.StartedAt
	}
	event := r.apply(&e.instance, result)
	snapshot := e.instance
	svc.publishLocked()
	svc.mu.Unlock()

	r.recordInstances(svc)
	if event != "" {
		r.logTransition(event, snapshot)
		r.events.publish(core.HealthEvent{Type: event, Instance: snapshot, At: time.Now()})
	}
	return true
}

// stale reports whether result predates the last one applied to e. Results
// carrying a sequence number are ordered by it; others by start time.
func stale(e *entry, result core.ProbeResult) bool {
	if result.Seq != 0 {
		return result.Seq <= e.lastSeq
	}
	return !result.StartedAt.IsZero() && result.StartedAt.Before(e.lastStarted)
}

// apply updates inst for result and returns the resulting transition, if
// any.
func (r *Registry) apply(inst *core.ServiceInstance, result core.ProbeResult) core.HealthEventType {
	previous := inst.State
	inst.LastProbe = result.CompletedAt
	if inst.LastProbe.IsZero() {
		inst.LastProbe = time.Now()
	}

	if result.Healthy {
		inst.ConsecutiveFailures = 0
		inst.LastError = ""
		inst.State = core.HealthHealthy
		inst.Live = true
		if inst.Evicted {
			inst.Evicted = false
			if r.metrics != nil {
				r.metrics.Restorations.WithLabelValues(inst.Name).Inc()
			}
			return core.EventRestored
		}
		if previous != core.HealthHealthy {
			return core.EventHealthy
		}
		return ""
	}

	inst.ConsecutiveFailures++
	inst.State = core.HealthUnhealthy
	if result.Err != nil {
		inst.LastError = result.Err.Error()
	}
	if inst.Live && inst.ConsecutiveFailures >= r.threshold {
		inst.Live = false
		inst.Evicted = true
		if r.metrics != nil {
			r.metrics.Evictions.WithLabelValues(inst.Name).Inc()
		}
		return core.EventEvicted
	}
	if previous != core.HealthUnhealthy {
		return core.EventUnhealthy
	}
	return ""
}

func (r *Registry) logTransition(event core.HealthEventType, inst core.ServiceInstance) {
	attrs := []any{
		"service", inst.Name,
		"instance", inst.ID,
		"address", inst.Address,
		"consecutiveFailures", inst.ConsecutiveFailures,
	}
	switch event {
	case core.EventEvicted:
		r.logger.Warn("Instance evicted from live set", append(attrs, "error", inst.LastError)...)
	case core.EventRestored:
		r.logger.Info("Instance restored to live set", attrs...)
	case core.EventHealthy:
		r.logger.Info("Instance became healthy", attrs...)
	case core.EventUnhealthy:
		r.logger.Debug("Instance became unhealthy", append(attrs, "error", inst.LastError)...)
	}
}

// Instance returns the full record of one instance
func (r *Registry) Instance(instanceID string) (core.ServiceInstance, bool) {
	r.mu.RLock()
	svc, ok := r.byID[instanceID]
	r.mu.RUnlock()
	if !ok {
		return core.ServiceInstance{}, false
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, e := range svc.entries {
		if e.instance.ID == instanceID {
			return e.instance, true
		}
	}
	return core.ServiceInstance{}, false
}

// Instances returns every registered instance of a service, including
// unhealthy and evicted ones, in registration order.
func (r *Registry) Instances(name string) []core.ServiceInstance {
	r.mu.RLock()
	svc, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return []core.ServiceInstance{}
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]core.ServiceInstance, 0, len(svc.entries))
	for _, e := range svc.entries {
		out = append(out, e.instance)
	}
	return out
}

// Services returns the names of all services with at least one registered
// instance, in order of first registration.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Subscribe returns a channel of registry events and a function that ends
// the subscription. Events are dropped for subscribers that fall behind.
func (r *Registry) Subscribe(buffer int) (<-chan core.HealthEvent, func()) {
	return r.events.subscribe(buffer)
}

// Close cancels every monitor, waits for them to exit and drops all
// registrations. Further registrations fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	names := slices.Clone(r.order)
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	r.services = make(map[string]*service)
	r.byID = make(map[string]*service)
	r.monitors = make(map[string]*monitorTask)
	r.order = nil
	r.mu.Unlock()

	for _, name := range names {
		r.forgetInstances(name)
	}
	r.events.close()
	r.logger.Info("Registry closed", "services", len(names))
	return nil
}

// publishLocked rebuilds the live snapshot. svc.mu must be held.
func (s *service) publishLocked() {
	live := make([]core.ServiceInstance, 0, len(s.entries))
	for _, e := range s.entries {
		if e.instance.Live {
			live = append(live, e.instance)
		}
	}
	s.live.Store(&live)
}

func (r *Registry) recordInstances(svc *service) {
	if r.metrics == nil {
		return
	}
	counts := map[core.HealthState]int{}
	svc.mu.Lock()
	for _, e := range svc.entries {
		counts[e.instance.State]++
	}
	svc.mu.Unlock()

	for _, state := range []core.HealthState{core.HealthUnknown, core.HealthHealthy, core.HealthUnhealthy} {
		r.metrics.ServiceInstances.WithLabelValues(svc.name, state.String()).Set(float64(counts[state]))
	}
}

func (r *Registry) forgetInstances(name string) {
	if r.metrics == nil {
		return
	}
	for _, state := range []core.HealthState{core.HealthUnknown, core.HealthHealthy, core.HealthUnhealthy} {
		r.metrics.ServiceInstances.DeleteLabelValues(name, state.String())
	}
}

func validateRegistration(name, address, healthCheckAddress string) error {
	if name == "" {
		return errors.NewError(errors.ErrorTypeBadRequest, "name is required")
	}
	if err := validateURL("address", address, "http", "https"); err != nil {
		return err
	}
	return validateURL("healthCheckAddress", healthCheckAddress, "http", "https", "grpc")
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return errors.NewError(errors.ErrorTypeBadRequest, fmt.Sprintf("%s is required", field))
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !slices.Contains(schemes, u.Scheme) {
		return errors.NewError(errors.ErrorTypeBadRequest, fmt.Sprintf("%s must be an absolute %v URL", field, schemes)).
			WithDetail(field, raw)
	}
	return nil
}
