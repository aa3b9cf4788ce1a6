package pattern

import (
	"sync"

	"github.com/streamhub/core/pkg/model"
)

// Registry tracks in-progress pattern executions so CancelExecution can
// look a token up by execution id. Entries are removed once the Queue
// reports an execution's last item has settled, or when the first Submit
// of an expansion fails. Cancelling an execution does not remove its
// entry, and cancelling an unknown id is a no-op.
type Registry struct {
	mu    sync.RWMutex
	execs map[string]*model.PatternExecution
}

// NewRegistry returns an empty execution registry.
func NewRegistry() *Registry {
	return &Registry{execs: make(map[string]*model.PatternExecution)}
}

func (r *Registry) put(exec *model.PatternExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs[exec.ExecutionID] = exec
}

// Forget removes an execution record once all its items have settled.
// Safe to call more than once or with an unknown id.
func (r *Registry) Forget(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.execs, executionID)
}

// Cancel sets the cancellation token for executionID, if known. Cancelling
// an unknown execution id is a deliberate no-op (spec §8 idempotence).
func (r *Registry) Cancel(executionID string) {
	r.mu.RLock()
	exec, ok := r.execs[executionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	exec.Token.Cancel()
}

// CancelAll cancels every tracked execution, used by the Queue's
// emergency-stop handling (spec §4.3: "cancels every pattern execution").
func (r *Registry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, exec := range r.execs {
		exec.Token.Cancel()
	}
}
