package ledger

import "time"

// RenderFunc is invoked after every stage state transition with the current
// pipeline state. The pterm renderer is the production implementation; tests
// inject counters.
type RenderFunc func(*State)

// Runner executes one unit of work at a time under the stage state machine.
// It never swallows errors: a failure is recorded in the ledger and then
// returned to the caller unmodified.
type Runner struct {
	state  *State
	render RenderFunc
	now    func() time.Time
}

// NewRunner creates a Runner over state. render may be nil.
func NewRunner(state *State, render RenderFunc) *Runner {
	return &Runner{state: state, render: render, now: time.Now}
}

// State returns the ledger this runner mutates.
func (r *Runner) State() *State {
	return r.state
}

// Run drives one stage: running -> work() -> done or failed, recording start
// and end times and the duration either way. count, when nonzero, is recorded
// as the number of items the stage processed on success.
func (r *Runner) Run(scope, stage string, count int, work func() error) error {
	start := r.now()
	r.state.update(scope, stage, func(e *Entry) {
		e.Status = StatusRunning
		e.StartedAt = start
	})
	r.renderState()

	err := work()

	end := r.now()
	r.state.update(scope, stage, func(e *Entry) {
		if err != nil {
			e.Status = StatusFailed
		} else {
			e.Status = StatusDone
			if count != 0 {
				e.Count = count
			}
		}
		e.FinishedAt = end
		e.Duration = end.Sub(e.StartedAt)
	})
	r.renderState()

	return err
}

func (r *Runner) renderState() {
	if r.render != nil {
		r.render(r.state)
	}
}
