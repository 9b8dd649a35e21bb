package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lumipet/lumipet/logging"
)

// Status is the lifecycle state of a provider instance.
type Status int

// Instance lifecycle states.
const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

// String returns the upper-case status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Classified resolution failures returned when a primary provider cannot be
// produced. The agent loop maps these onto user-facing configuration errors.
var (
	ErrNotConfigured  = errors.New("no provider instance configured")
	ErrDisabled       = errors.New("provider instance is disabled")
	ErrInitializing   = errors.New("provider instance is still initializing")
	ErrProviderFailed = errors.New("provider instance failed to initialize")
)

// Entry is an immutable snapshot of one managed instance, returned by List.
type Entry struct {
	Config  InstanceConfig
	Status  Status
	Err     string
	Primary bool
}

// instance is the live record behind an Entry. ready is non-nil exactly while
// status == StatusConnecting and is closed when initialization reaches a
// terminal state, giving waiters an explicit readiness signal instead of a
// polling loop.
type instance struct {
	cfg    InstanceConfig
	status Status
	errMsg string
	handle Lifecycle // live Provider/SpeechProvider; nil when not connected
	ready  chan struct{}
}

// ManagerOptions configure NewManager.
type ManagerOptions struct {
	Logger logging.Logger
}

// Manager owns zero or more named, configured provider instances, their
// lifecycle, and the designated primary instance per kind. All mutation goes
// through Manager methods; List returns copies, never live references.
type Manager struct {
	mu        sync.Mutex
	registry  *Registry
	logger    logging.Logger
	instances map[string]*instance
	primary   map[Kind]string
}

// NewManager creates an instance manager backed by the given type registry.
func NewManager(registry *Registry, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		registry:  registry,
		logger:    logging.OrNoOp(opts.Logger),
		instances: make(map[string]*instance),
		primary:   make(map[Kind]string),
	}
}

// Add registers a new instance. The first instance of a kind becomes primary.
// If the config is enabled the instance transitions to CONNECTING before Add
// returns and initialization proceeds asynchronously.
func (m *Manager) Add(cfg InstanceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.ID == "" {
		return fmt.Errorf("instance config missing id")
	}
	if _, exists := m.instances[cfg.ID]; exists {
		return fmt.Errorf("instance %q already exists", cfg.ID)
	}
	reg, ok := m.registry.Lookup(cfg.ProviderID)
	if !ok {
		return fmt.Errorf("unknown provider type %q", cfg.ProviderID)
	}
	cfg.Kind = reg.Metadata.Kind
	if err := ValidateSettings(cfg.Settings, reg.Metadata.Fields); err != nil {
		return fmt.Errorf("instance %q: %w", cfg.ID, err)
	}

	inst := &instance{cfg: cfg, status: StatusIdle}
	m.instances[cfg.ID] = inst
	if _, ok := m.primary[cfg.Kind]; !ok {
		m.primary[cfg.Kind] = cfg.ID
	}
	if cfg.Enabled {
		m.startLocked(inst)
	}
	return nil
}

// Update replaces the configuration of an existing instance. The old live
// provider is terminated before the new configuration takes effect.
func (m *Manager) Update(cfg InstanceConfig) error {
	m.mu.Lock()
	inst, ok := m.instances[cfg.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("instance %q not found", cfg.ID)
	}
	reg, ok := m.registry.Lookup(cfg.ProviderID)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown provider type %q", cfg.ProviderID)
	}
	cfg.Kind = reg.Metadata.Kind
	if err := ValidateSettings(cfg.Settings, reg.Metadata.Fields); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("instance %q: %w", cfg.ID, err)
	}

	old := m.resetLocked(inst)
	inst.cfg = cfg
	if cfg.Enabled {
		m.startLocked(inst)
	}
	m.mu.Unlock()

	m.terminate(cfg.ID, old)
	return nil
}

// Remove terminates and deletes an instance. When the removed instance was
// primary, the primary pointer is reassigned to an arbitrary remaining
// instance of the same kind, or cleared when none remain; it never dangles.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("instance %q not found", id)
	}
	old := m.resetLocked(inst)
	delete(m.instances, id)
	if m.primary[inst.cfg.Kind] == id {
		delete(m.primary, inst.cfg.Kind)
		for otherID, other := range m.instances {
			if other.cfg.Kind == inst.cfg.Kind {
				m.primary[inst.cfg.Kind] = otherID
				break
			}
		}
	}
	m.mu.Unlock()

	m.terminate(id, old)
	return nil
}

// Enable marks the instance enabled and begins initialization.
func (m *Manager) Enable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return fmt.Errorf("instance %q not found", id)
	}
	inst.cfg.Enabled = true
	if inst.status == StatusConnecting || inst.status == StatusConnected {
		return nil
	}
	m.startLocked(inst)
	return nil
}

// Disable terminates the live provider and resets the instance to IDLE.
func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("instance %q not found", id)
	}
	inst.cfg.Enabled = false
	old := m.resetLocked(inst)
	m.mu.Unlock()

	m.terminate(id, old)
	return nil
}

// SetPrimary designates the instance as primary for its kind.
func (m *Manager) SetPrimary(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return fmt.Errorf("instance %q not found", id)
	}
	m.primary[inst.cfg.Kind] = id
	return nil
}

// PrimaryID returns the primary instance id for a kind, if any.
func (m *Manager) PrimaryID(kind Kind) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.primary[kind]
	return id, ok
}

// List returns immutable snapshots of all instances, sorted by id.
func (m *Manager) List() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.instances))
	for id, inst := range m.instances {
		out = append(out, Entry{
			Config:  inst.cfg,
			Status:  inst.status,
			Err:     inst.errMsg,
			Primary: m.primary[inst.cfg.Kind] == id,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

// LoadAll bulk-adds persisted configurations. Enabled instances are set to
// CONNECTING synchronously before any asynchronous initialize is scheduled,
// so an early request observes "initializing" rather than "not configured".
func (m *Manager) LoadAll(cfgs []InstanceConfig) error {
	var firstErr error
	for _, cfg := range cfgs {
		if err := m.Add(cfg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AwaitChat resolves the primary LLM provider, blocking while it initializes.
// The wait is bounded by ctx; on expiry ErrInitializing is returned. Other
// failures are classified via the Err* sentinels.
func (m *Manager) AwaitChat(ctx context.Context) (Provider, error) {
	h, err := m.await(ctx, KindLLM)
	if err != nil {
		return nil, err
	}
	p, ok := h.(Provider)
	if !ok {
		return nil, fmt.Errorf("primary llm instance has wrong capability type %T", h)
	}
	return p, nil
}

// AwaitSpeech resolves the primary speech provider, blocking while it
// initializes, with the same classification as AwaitChat.
func (m *Manager) AwaitSpeech(ctx context.Context) (SpeechProvider, error) {
	h, err := m.await(ctx, KindSpeech)
	if err != nil {
		return nil, err
	}
	p, ok := h.(SpeechProvider)
	if !ok {
		return nil, fmt.Errorf("primary speech instance has wrong capability type %T", h)
	}
	return p, nil
}

// Shutdown terminates every live provider. Idempotent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make(map[string]Lifecycle)
	for id, inst := range m.instances {
		if h := m.resetLocked(inst); h != nil {
			handles[id] = h
		}
	}
	m.mu.Unlock()
	for id, h := range handles {
		m.terminate(id, h)
	}
}

func (m *Manager) await(ctx context.Context, kind Kind) (Lifecycle, error) {
	for {
		m.mu.Lock()
		id, ok := m.primary[kind]
		if !ok {
			m.mu.Unlock()
			return nil, ErrNotConfigured
		}
		inst, ok := m.instances[id]
		if !ok {
			m.mu.Unlock()
			return nil, ErrNotConfigured
		}
		if !inst.cfg.Enabled {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDisabled, id)
		}
		switch inst.status {
		case StatusConnected:
			h := inst.handle
			m.mu.Unlock()
			return h, nil
		case StatusError:
			msg := inst.errMsg
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrProviderFailed, msg)
		case StatusConnecting:
			ready := inst.ready
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s", ErrInitializing, id)
			case <-ready:
				// Initialization reached a terminal state; re-resolve.
			}
		default:
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrInitializing, id)
		}
	}
}

// startLocked constructs the live handle and moves the instance to
// CONNECTING, scheduling the asynchronous initialize. Caller holds m.mu.
func (m *Manager) startLocked(inst *instance) {
	reg, ok := m.registry.Lookup(inst.cfg.ProviderID)
	if !ok {
		inst.status = StatusError
		inst.errMsg = fmt.Sprintf("unknown provider type %q", inst.cfg.ProviderID)
		return
	}
	var (
		handle Lifecycle
		err    error
	)
	switch reg.Metadata.Kind {
	case KindSpeech:
		handle, err = reg.SpeechFactory(inst.cfg)
	default:
		handle, err = reg.Factory(inst.cfg)
	}
	if err != nil {
		inst.status = StatusError
		inst.errMsg = err.Error()
		m.logger.Error("provider.construct_failed", "instance", inst.cfg.ID, "error", err.Error())
		return
	}
	inst.handle = handle
	inst.status = StatusConnecting
	inst.errMsg = ""
	inst.ready = make(chan struct{})
	go m.initialize(inst.cfg.ID, handle)
}

// initialize runs the provider's connection setup off the manager lock and
// records the terminal status. Stale completions (instance replaced or reset
// meanwhile) are discarded by comparing the live handle.
func (m *Manager) initialize(id string, handle Lifecycle) {
	err := handle.Initialize(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.handle != handle || inst.status != StatusConnecting {
		return
	}
	if err != nil {
		inst.status = StatusError
		inst.errMsg = err.Error()
		m.logger.Warn("provider.initialize_failed", "instance", id, "error", err.Error())
	} else {
		inst.status = StatusConnected
		m.logger.Info("provider.connected", "instance", id, "type", inst.cfg.ProviderID)
	}
	if inst.ready != nil {
		close(inst.ready)
		inst.ready = nil
	}
}

// resetLocked detaches and returns the live handle (for termination outside
// the lock) and resets the instance to IDLE. Caller holds m.mu.
func (m *Manager) resetLocked(inst *instance) Lifecycle {
	h := inst.handle
	inst.handle = nil
	inst.status = StatusIdle
	inst.errMsg = ""
	if inst.ready != nil {
		close(inst.ready)
		inst.ready = nil
	}
	return h
}

func (m *Manager) terminate(id string, h Lifecycle) {
	if h == nil {
		return
	}
	if err := h.Terminate(); err != nil {
		m.logger.Warn("provider.terminate_failed", "instance", id, "error", err.Error())
	}
}
