package txengine

import (
	"fmt"
	"strings"

	"txflow/internal/domain/tx"
)

// SynchronizationPolicy decides when the engine activates synchronization callbacks.
type SynchronizationPolicy int

const (
	// SynchronizationAlways activates synchronization even for empty scopes
	// (SUPPORTS/NOT_SUPPORTED/NEVER without a physical transaction).
	SynchronizationAlways SynchronizationPolicy = iota
	// SynchronizationOnActualTransaction activates it only for physical transactions.
	SynchronizationOnActualTransaction
	SynchronizationNever
)

func (p SynchronizationPolicy) String() string {
	switch p {
	case SynchronizationAlways:
		return "always"
	case SynchronizationOnActualTransaction:
		return "on_actual_transaction"
	case SynchronizationNever:
		return "never"
	default:
		return fmt.Sprintf("SynchronizationPolicy(%d)", int(p))
	}
}

func ParseSynchronizationPolicy(raw string) (SynchronizationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "always":
		return SynchronizationAlways, nil
	case "on_actual_transaction", "on-actual-transaction", "actual":
		return SynchronizationOnActualTransaction, nil
	case "never":
		return SynchronizationNever, nil
	default:
		return 0, fmt.Errorf("unknown synchronization policy %q", raw)
	}
}

// Config is the engine policy. It is plain data and can be loaded from configuration.
type Config struct {
	Synchronization SynchronizationPolicy
	// NestedTransactionAllowed enables NESTED propagation with an existing transaction.
	NestedTransactionAllowed bool
	// ValidateExistingTransaction checks isolation and read-only compatibility
	// before a scope participates in an existing transaction.
	ValidateExistingTransaction bool
	// GlobalRollbackOnParticipationFailure marks the whole physical transaction
	// rollback-only when a participating scope rolls back.
	GlobalRollbackOnParticipationFailure bool
	// FailEarlyOnGlobalRollbackOnly raises UnexpectedRollback at the innermost
	// participating boundary instead of only at the outermost one.
	FailEarlyOnGlobalRollbackOnly bool
	// RollbackOnCommitFailure rolls back when the provider fails to commit.
	RollbackOnCommitFailure bool
	// DefaultTimeout in seconds is used for definitions with tx.TimeoutDefault.
	DefaultTimeout int
}

func DefaultConfig() Config {
	return Config{
		Synchronization:                      SynchronizationAlways,
		NestedTransactionAllowed:             true,
		GlobalRollbackOnParticipationFailure: true,
		DefaultTimeout:                       tx.TimeoutDefault,
	}
}

func (c Config) Validate() error {
	if c.Synchronization < SynchronizationAlways || c.Synchronization > SynchronizationNever {
		return fmt.Errorf("invalid synchronization policy %d", int(c.Synchronization))
	}
	if c.DefaultTimeout < tx.TimeoutDefault {
		return tx.Errorf(tx.KindInvalidTimeout, "invalid default timeout %d", c.DefaultTimeout)
	}
	return nil
}
