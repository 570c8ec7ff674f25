package tx

import "github.com/google/uuid"

// ScopeKind names the nature of the scope a Status represents.
type ScopeKind int

const (
	// ScopeNewTransaction began a physical transaction (possibly after suspending another).
	ScopeNewTransaction ScopeKind = iota
	// ScopeParticipating joined a transaction started by an outer scope.
	ScopeParticipating
	// ScopeSavepoint is a nested scope backed by a savepoint on the outer transaction.
	ScopeSavepoint
	// ScopeSynchronizationOnly runs without a physical transaction.
	ScopeSynchronizationOnly
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeNewTransaction:
		return "new"
	case ScopeParticipating:
		return "participating"
	case ScopeSavepoint:
		return "savepoint"
	case ScopeSynchronizationOnly:
		return "synchronization-only"
	default:
		return "unknown"
	}
}

type scope interface {
	kind() ScopeKind
}

type newTransactionScope struct {
	handle    Handle
	suspended *SuspendedResources
}

type participatingScope struct {
	handle Handle
}

type savepointScope struct {
	handle    Handle
	savepoint Savepoint
}

type synchronizationOnlyScope struct {
	// vacuousNew is true when nothing was active to be new relative to.
	vacuousNew bool
	suspended  *SuspendedResources
}

func (newTransactionScope) kind() ScopeKind      { return ScopeNewTransaction }
func (participatingScope) kind() ScopeKind       { return ScopeParticipating }
func (savepointScope) kind() ScopeKind           { return ScopeSavepoint }
func (synchronizationOnlyScope) kind() ScopeKind { return ScopeSynchronizationOnly }

// SuspendedResources is captured by a suspension and consumed by the matching resume.
type SuspendedResources struct {
	// Handle is the provider's detached resource, nil when no transaction was suspended.
	Handle SuspendedHandle
	// SynchronizationActive reports whether synchronizations were suspended too.
	SynchronizationActive bool
	Synchronizations      []Synchronization
	State                 ContextState
}

// Status is the per-call state of one transactional scope. It is returned by
// the engine's GetTransaction and handed back to Commit or Rollback exactly once.
type Status struct {
	id                 string
	def                Definition
	scope              scope
	newSynchronization bool
	completed          bool
	localRollbackOnly  bool
}

func newStatus(def Definition, sc scope, newSynchronization bool) *Status {
	return &Status{
		id:                 uuid.NewString(),
		def:                def,
		scope:              sc,
		newSynchronization: newSynchronization,
	}
}

// NewTransactionStatus describes a scope that began a physical transaction.
func NewTransactionStatus(def Definition, h Handle, newSynchronization bool, suspended *SuspendedResources) *Status {
	return newStatus(def, newTransactionScope{handle: h, suspended: suspended}, newSynchronization)
}

// ParticipatingStatus describes a scope that joined the existing transaction h.
func ParticipatingStatus(def Definition, h Handle, newSynchronization bool) *Status {
	return newStatus(def, participatingScope{handle: h}, newSynchronization)
}

// SavepointStatus describes a nested scope holding sp on the existing transaction h.
func SavepointStatus(def Definition, h Handle, sp Savepoint) *Status {
	return newStatus(def, savepointScope{handle: h, savepoint: sp}, false)
}

// SynchronizationOnlyStatus describes a scope without a physical transaction.
func SynchronizationOnlyStatus(def Definition, newTransaction bool, newSynchronization bool, suspended *SuspendedResources) *Status {
	return newStatus(def, synchronizationOnlyScope{vacuousNew: newTransaction, suspended: suspended}, newSynchronization)
}

// ID identifies the status in logs.
func (s *Status) ID() string { return s.id }

func (s *Status) Definition() Definition { return s.def }

func (s *Status) Name() string { return s.def.Name }

func (s *Status) Scope() ScopeKind { return s.scope.kind() }

// Handle returns the provider's transaction object, nil for synchronization-only scopes.
func (s *Status) Handle() Handle {
	switch sc := s.scope.(type) {
	case newTransactionScope:
		return sc.handle
	case participatingScope:
		return sc.handle
	case savepointScope:
		return sc.handle
	default:
		return nil
	}
}

// HasTransaction reports whether a physical transaction backs this scope.
func (s *Status) HasTransaction() bool {
	return s.Handle() != nil
}

// IsNewTransaction is true for scopes that began a physical transaction, and
// vacuously true for synchronization-only scopes opened with nothing active.
func (s *Status) IsNewTransaction() bool {
	switch sc := s.scope.(type) {
	case newTransactionScope:
		return true
	case synchronizationOnlyScope:
		return sc.vacuousNew
	default:
		return false
	}
}

// OwnsTransaction is true only when this scope must physically commit or roll back.
func (s *Status) OwnsTransaction() bool {
	_, ok := s.scope.(newTransactionScope)
	return ok
}

func (s *Status) IsNewSynchronization() bool { return s.newSynchronization }

func (s *Status) IsReadOnly() bool { return s.def.ReadOnly }

func (s *Status) IsCompleted() bool { return s.completed }

// SetCompleted is called by the engine once the scope finished.
func (s *Status) SetCompleted() { s.completed = true }

func (s *Status) HasSavepoint() bool {
	_, ok := s.scope.(savepointScope)
	return ok
}

// Savepoint returns the held savepoint of a nested scope.
func (s *Status) Savepoint() (Savepoint, bool) {
	sc, ok := s.scope.(savepointScope)
	if !ok {
		return nil, false
	}
	return sc.savepoint, true
}

// SuspendedResources returns what must be resumed once this scope completes.
func (s *Status) SuspendedResources() *SuspendedResources {
	switch sc := s.scope.(type) {
	case newTransactionScope:
		return sc.suspended
	case synchronizationOnlyScope:
		return sc.suspended
	default:
		return nil
	}
}

// SetRollbackOnly asks for this scope to end in rollback.
func (s *Status) SetRollbackOnly() { s.localRollbackOnly = true }

func (s *Status) IsLocalRollbackOnly() bool { return s.localRollbackOnly }

// IsGlobalRollbackOnly reports the marker on the underlying physical transaction.
func (s *Status) IsGlobalRollbackOnly() bool {
	r, ok := s.Handle().(RollbackOnlyReporter)
	return ok && r.IsRollbackOnly()
}

func (s *Status) IsRollbackOnly() bool {
	return s.localRollbackOnly || s.IsGlobalRollbackOnly()
}
