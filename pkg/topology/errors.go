package topology

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure class. Every *Error matches exactly one
// of them through errors.Is.
var (
	ErrStructural         = errors.New("structural error")
	ErrRouteComputation   = errors.New("route computation failure")
	ErrSynchronization    = errors.New("synchronization error")
	ErrResourceExhaustion = errors.New("resource exhaustion")

	ErrNodeNotFound = errors.New("node not found")
	ErrLinkNotFound = errors.New("link not found")
	ErrPortNotFound = errors.New("port not found")
	ErrDuplicateID  = errors.New("duplicate node id")
	ErrNoValidPath  = errors.New("no valid path")
	ErrIDExhausted  = errors.New("node id space exhausted")
	ErrSelfLink     = errors.New("link to self")
	ErrNoProtection = errors.New("no protection path")
)

// Kind classifies an Error.
type Kind int

const (
	KindStructural Kind = iota
	KindRouteComputation
	KindSynchronization
	KindResourceExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindRouteComputation:
		return "route_computation"
	case KindSynchronization:
		return "synchronization"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindRouteComputation:
		return ErrRouteComputation
	case KindSynchronization:
		return ErrSynchronization
	case KindResourceExhaustion:
		return ErrResourceExhaustion
	default:
		return ErrStructural
	}
}

// Error carries structured information about a failed topology operation.
// None of these errors is fatal to the controller.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "add_link"
	Entity string // "node", "link", "port", "route", "switch"
	ID     uint64
	Name   string
	Cause  error
}

func (e *Error) Error() string {
	switch {
	case e.Name != "":
		return fmt.Sprintf("%s %s %q: %v", e.Op, e.Entity, e.Name, e.Cause)
	case e.ID != 0:
		return fmt.Sprintf("%s %s %016x: %v", e.Op, e.Entity, e.ID, e.Cause)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinel as well as anything in the cause chain.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if target == e.Kind.sentinel() {
		return true
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder provides a fluent interface for building Errors.
type ErrorBuilder struct {
	err Error
}

// NewError starts a structural error for op; use Kind to change the class.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: Error{Op: op, Kind: KindStructural}}
}

func (b *ErrorBuilder) Kind(k Kind) *ErrorBuilder {
	b.err.Kind = k
	return b
}

func (b *ErrorBuilder) Node(id uint64) *ErrorBuilder {
	b.err.Entity = "node"
	b.err.ID = id
	return b
}

func (b *ErrorBuilder) NodeName(name string) *ErrorBuilder {
	b.err.Entity = "node"
	b.err.Name = name
	return b
}

func (b *ErrorBuilder) Link(name string) *ErrorBuilder {
	b.err.Entity = "link"
	b.err.Name = name
	return b
}

func (b *ErrorBuilder) Route(name string) *ErrorBuilder {
	b.err.Entity = "route"
	b.err.Name = name
	return b
}

func (b *ErrorBuilder) Switch(id uint64) *ErrorBuilder {
	b.err.Entity = "switch"
	b.err.ID = id
	return b
}

func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

func (b *ErrorBuilder) Build() *Error {
	e := b.err
	return &e
}

func (b *ErrorBuilder) Err() error {
	return b.Build()
}

// UnknownNodeError reports a reference to a node name that is not in the graph.
func UnknownNodeError(op, name string) error {
	return NewError(op).NodeName(name).Cause(ErrNodeNotFound).Err()
}

// UnknownSwitchError reports a synchronisation request for an unknown datapath.
func UnknownSwitchError(op string, id uint64) error {
	return NewError(op).Kind(KindSynchronization).Switch(id).Cause(ErrNodeNotFound).Err()
}

// NoRouteError reports a node pair with no valid path.
func NoRouteError(src, dst string) error {
	return NewError("generate_routes").Kind(KindRouteComputation).Route(src + "-" + dst).Cause(ErrNoValidPath).Err()
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return errors.Is(err, k.sentinel())
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrLinkNotFound) || errors.Is(err, ErrPortNotFound)
}
