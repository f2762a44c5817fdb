package queryflow

// RouteFunc chooses the next step from the state after a step's patches
// have been merged.
type RouteFunc func(state *State) string

// InterruptFunc reports whether the session should pause for human input
// after a step completes.
type InterruptFunc func(state *State) bool

// Step binds a stage to its outgoing edges.
type Step struct {
	Name  string
	Stage Stage

	// Next is the unconditional successor. Ignored when Route is set.
	Next string

	// Route picks the successor at run time. Every value it may return must
	// be listed in Routes.
	Route  RouteFunc
	Routes []string

	// Interrupt pauses the session once this step has run. The checkpoint
	// records the successor so the session continues there on resume.
	Interrupt InterruptFunc

	// End marks a terminal step.
	End bool
}

// Successors returns every step this step may transition to.
func (s *Step) Successors() []string {
	if s.Route != nil {
		return s.Routes
	}
	if s.Next != "" {
		return []string{s.Next}
	}
	return nil
}
