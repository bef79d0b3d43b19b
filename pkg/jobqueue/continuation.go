package jobqueue

// Continuation is the handle returned by Run. Calling it re-checks
// completion: if no error has finished the run and nothing is left to
// dispatch or in flight, it finishes the run with success. It always returns
// the current snapshot, so it is safe to call any number of times.
type Continuation func() Snapshot

// Bind ties state and final into a Continuation. A state whose items were
// never dispatched is not considered complete unless its source was empty.
func Bind(state *State, final FinalFunc) Continuation {
	return bind(state, func(err error, results Results) {
		if final != nil {
			final(err, results)
		}
	})
}

func bind(state *State, fire func(err error, results Results)) Continuation {
	return func() Snapshot {
		if state.drained() && state.finish(nil) {
			fire(nil, state.Results())
		}
		return state.Snapshot()
	}
}
