package engine

// Status is the terminal state a rule reached during one make.
type Status uint8

const (
	// StatusSkipped means the rule was up to date.
	StatusSkipped Status = iota
	// StatusRan means the rule's method ran and succeeded, or would
	// have run under dry run.
	StatusRan
	// StatusFailed means the rule's method ran and failed, or a
	// declared output was missing afterwards.
	StatusFailed
	// StatusAborted means the rule was never attempted because an
	// upstream failed or the walk stopped after a fail-fast error.
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusRan:
		return "ran"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	}
	return "unknown"
}

// RuleResult is one rule's outcome within a Summary.
type RuleResult struct {
	Status  Status
	Verdict Verdict
	Err     error
}

// Summary aggregates the outcome of one make invocation over the target
// subgraph. Ran+Skipped+Failed+Aborted == Total.
type Summary struct {
	Total   int
	Ran     int
	Skipped int
	Failed  int
	Aborted int
	Detail  map[string]RuleResult
}

// OK reports whether every considered rule either ran or was skipped.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Aborted == 0
}

func (s *Summary) record(name string, res RuleResult) {
	if s.Detail == nil {
		s.Detail = make(map[string]RuleResult)
	}
	s.Detail[name] = res
	s.Total++
	switch res.Status {
	case StatusRan:
		s.Ran++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	case StatusAborted:
		s.Aborted++
	}
}
