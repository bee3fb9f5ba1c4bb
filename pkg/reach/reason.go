// Package reach provides the monotonic reachability predicates shared by
// every node of the universe, together with the registration reasons that
// explain why a predicate became true.
package reach

import (
	"fmt"
	"reflect"
	"strconv"
)

// Reason explains why a predicate was set. The set of implementations is
// closed: use Root, Because, At or Layer to build one.
type Reason interface {
	fmt.Stringer
	validate() error
}

// RootReason marks an entity registered directly by the analysis driver,
// for example an entry point or a type known to be allocated by the runtime.
type RootReason struct {
	Text string
}

// Root returns a reason for an explicit registration.
func Root(text string) Reason {
	return RootReason{Text: text}
}

func (r RootReason) String() string { return r.Text }

func (r RootReason) validate() error {
	if r.Text == "" {
		return fmt.Errorf("root reason has empty text")
	}
	return nil
}

// CauseReason marks an entity that became reachable because another
// entity did (a subtype pulling in its supertypes, a field pulling in its
// declaring type).
type CauseReason struct {
	Cause fmt.Stringer
}

// Because returns a reason pointing at the entity that caused the
// registration.
func Because(cause fmt.Stringer) Reason {
	return CauseReason{Cause: cause}
}

func (r CauseReason) String() string {
	if r.Cause == nil {
		return "<nil>"
	}
	return "because of " + r.Cause.String()
}

func (r CauseReason) validate() error {
	if isNil(r.Cause) {
		return fmt.Errorf("cause reason has no cause")
	}
	return nil
}

// PositionReason marks a registration made while processing the
// instruction at BCI in Method.
type PositionReason struct {
	Method fmt.Stringer
	BCI    int
}

// At returns a reason for a registration at a code position.
func At(method fmt.Stringer, bci int) Reason {
	return PositionReason{Method: method, BCI: bci}
}

func (r PositionReason) String() string {
	if r.Method == nil {
		return "<nil>@" + strconv.Itoa(r.BCI)
	}
	return r.Method.String() + "@" + strconv.Itoa(r.BCI)
}

func (r PositionReason) validate() error {
	if isNil(r.Method) {
		return fmt.Errorf("position reason has no method")
	}
	if r.BCI < 0 {
		return fmt.Errorf("position reason has negative bci %d", r.BCI)
	}
	return nil
}

// LayerReason marks a fact replayed from a previously persisted layer.
type LayerReason struct {
	Name string
}

// Layer returns a reason for facts inherited from a base layer.
func Layer(name string) Reason {
	return LayerReason{Name: name}
}

func (r LayerReason) String() string { return "from layer " + r.Name }

func (r LayerReason) validate() error {
	if r.Name == "" {
		return fmt.Errorf("layer reason has empty name")
	}
	return nil
}

// Check panics with a *ContractError when r is nil or malformed. Every
// registration entry point calls it before touching any state.
func Check(r Reason) {
	if isNil(r) {
		panic(&ContractError{Msg: "registration reason must not be nil"})
	}
	if err := r.validate(); err != nil {
		panic(&ContractError{Msg: "invalid registration reason", Err: err})
	}
}

// isNil reports whether v is nil or a typed nil pointer hidden in an
// interface.
func isNil(v fmt.Stringer) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return rv.IsNil()
	}
	return false
}
