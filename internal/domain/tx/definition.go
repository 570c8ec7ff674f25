package tx

import (
	"fmt"
	"strings"
)

// Propagation decides how a requested scope relates to an already active transaction.
type Propagation int

const (
	PropagationRequired Propagation = iota
	PropagationSupports
	PropagationMandatory
	PropagationRequiresNew
	PropagationNotSupported
	PropagationNever
	PropagationNested
)

var propagationNames = map[Propagation]string{
	PropagationRequired:     "REQUIRED",
	PropagationSupports:     "SUPPORTS",
	PropagationMandatory:    "MANDATORY",
	PropagationRequiresNew:  "REQUIRES_NEW",
	PropagationNotSupported: "NOT_SUPPORTED",
	PropagationNever:        "NEVER",
	PropagationNested:       "NESTED",
}

func (p Propagation) String() string {
	if name, ok := propagationNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Propagation(%d)", int(p))
}

// ParsePropagation accepts the upper-case names used in logs, case-insensitively.
func ParsePropagation(raw string) (Propagation, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for p, name := range propagationNames {
		if name == normalized {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown propagation %q", raw)
}

// Isolation is the requested isolation level. IsolationDefault defers to the resource.
type Isolation int

const (
	IsolationDefault Isolation = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

func (i Isolation) String() string {
	switch i {
	case IsolationDefault:
		return "DEFAULT"
	case IsolationReadUncommitted:
		return "READ_UNCOMMITTED"
	case IsolationReadCommitted:
		return "READ_COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE_READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return fmt.Sprintf("Isolation(%d)", int(i))
	}
}

// TimeoutDefault means "use the engine's or the resource's default timeout".
const TimeoutDefault = -1

// Definition describes one unit of work. It is built by the caller and never mutated.
type Definition struct {
	Propagation Propagation
	Isolation   Isolation
	// Timeout in seconds, or TimeoutDefault.
	Timeout  int
	ReadOnly bool
	Name     string
}

// DefaultDefinition is REQUIRED with default isolation and timeout.
func DefaultDefinition() Definition {
	return Definition{
		Propagation: PropagationRequired,
		Isolation:   IsolationDefault,
		Timeout:     TimeoutDefault,
	}
}

// WithPropagation returns a copy of d using p.
func (d Definition) WithPropagation(p Propagation) Definition {
	d.Propagation = p
	return d
}

// WithName returns a copy of d named name.
func (d Definition) WithName(name string) Definition {
	d.Name = name
	return d
}

// WithReadOnly returns a copy of d with the read-only hint set.
func (d Definition) WithReadOnly(readOnly bool) Definition {
	d.ReadOnly = readOnly
	return d
}

// Validate rejects timeouts below TimeoutDefault and unknown enum values.
func (d Definition) Validate() error {
	if d.Timeout < TimeoutDefault {
		return Errorf(KindInvalidTimeout, "invalid transaction timeout %d", d.Timeout)
	}
	if _, ok := propagationNames[d.Propagation]; !ok {
		return Errorf(KindIllegalState, "unknown propagation %d", int(d.Propagation))
	}
	if d.Isolation < IsolationDefault || d.Isolation > IsolationSerializable {
		return Errorf(KindIllegalState, "unknown isolation level %d", int(d.Isolation))
	}
	return nil
}

func (d Definition) String() string {
	var b strings.Builder
	if d.Name != "" {
		b.WriteString(d.Name)
		b.WriteString(": ")
	}
	b.WriteString("PROPAGATION_")
	b.WriteString(d.Propagation.String())
	b.WriteString(",ISOLATION_")
	b.WriteString(d.Isolation.String())
	if d.Timeout != TimeoutDefault {
		fmt.Fprintf(&b, ",timeout_%d", d.Timeout)
	}
	if d.ReadOnly {
		b.WriteString(",readOnly")
	}
	return b.String()
}
