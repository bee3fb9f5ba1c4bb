package reach

import "fmt"

// ContractError is raised, via panic, when a caller violates the contract of
// a registration entry point. It is never recovered by this module.
type ContractError struct {
	Msg string
	Err error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("contract violation: %s: %v", e.Msg, e.Err)
	}
	return "contract violation: " + e.Msg
}

func (e *ContractError) Unwrap() error { return e.Err }

// DeadlockError is raised, via panic, when a goroutine would wait on a
// claim or lock that its own call chain holds. Retrying would spin forever.
type DeadlockError struct {
	Op     string // e.g. "create type", "parse graph"
	Holder string // the entity whose claim or lock is held
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock: %s: %s is already held by the current call chain", e.Op, e.Holder)
}

// Contract panics with a *ContractError built from format and args.
func Contract(format string, args ...any) {
	panic(&ContractError{Msg: fmt.Sprintf(format, args...)})
}
