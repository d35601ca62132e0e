package testutil

import (
	"context"
	"sync"

	"github.com/roach88/changeling/internal/ir"
)

// RecordingAdapter is an in-memory target store for engine tests.
//
// Every Execute call is appended to Attempts; calls that succeed are also
// appended to Executed. Bodies registered with FailOn fail with the given
// error and are not counted as executed.
type RecordingAdapter struct {
	mu       sync.Mutex
	attempts []ir.Operation
	executed []ir.Operation
	failures map[string]error

	// OnExecute, when set, runs before every operation (after failure lookup).
	OnExecute func(op ir.Operation)
}

// NewRecordingAdapter creates an adapter that accepts every operation.
func NewRecordingAdapter() *RecordingAdapter {
	return &RecordingAdapter{failures: make(map[string]error)}
}

// FailOn makes operations whose Body equals body fail with err.
func (a *RecordingAdapter) FailOn(body string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[body] = err
}

// Heal removes a failure registered with FailOn.
func (a *RecordingAdapter) Heal(body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.failures, body)
}

// Execute implements the engine's target adapter contract.
func (a *RecordingAdapter) Execute(ctx context.Context, op ir.Operation) error {
	a.mu.Lock()
	a.attempts = append(a.attempts, op)
	err := a.failures[op.Body]
	hook := a.OnExecute
	a.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.executed = append(a.executed, op)
	a.mu.Unlock()
	return nil
}

// Executed returns the bodies of successful operations in call order.
func (a *RecordingAdapter) Executed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return bodies(a.executed)
}

// Attempts returns the bodies of every operation in call order.
func (a *RecordingAdapter) Attempts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return bodies(a.attempts)
}

// Reset forgets recorded calls but keeps registered failures.
func (a *RecordingAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts = nil
	a.executed = nil
}

func bodies(ops []ir.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Body
	}
	return out
}
