package engine

import (
	"github.com/incmake/incmake/internal/memo"
)

// Verdict is the outcome of evaluating one rule's staleness.
type Verdict uint8

const (
	// UpToDate means the rule is skipped.
	UpToDate Verdict = iota
	// ForcedUpdate means the rule is marked force and always runs.
	ForcedUpdate
	// UpstreamRan means a producer ran (or would run) this invocation.
	UpstreamRan
	// MissingOutput means a declared output does not exist, or carries
	// the epoch mtime left behind by a failed run.
	MissingOutput
	// OutdatedByMtime means a plain input is strictly newer than the
	// oldest output.
	OutdatedByMtime
	// OutdatedByContent means a value-tracked input's content hash
	// changed since the memo was written.
	OutdatedByContent
	// OutdatedByMemo means a memoized parameter changed, or the stored
	// record is missing or unreadable.
	OutdatedByMemo
)

// Stale reports whether the verdict requires the rule to run.
func (v Verdict) Stale() bool { return v != UpToDate }

func (v Verdict) String() string {
	switch v {
	case UpToDate:
		return "up-to-date"
	case ForcedUpdate:
		return "forced"
	case UpstreamRan:
		return "upstream-ran"
	case MissingOutput:
		return "missing-output"
	case OutdatedByMtime:
		return "outdated-by-mtime"
	case OutdatedByContent:
		return "outdated-by-content"
	case OutdatedByMemo:
		return "outdated-by-memo"
	}
	return "unknown"
}

// evaluator computes verdicts. It is owned by the coordinator goroutine;
// only the hasher inside is shared with workers.
type evaluator struct {
	store  memo.Store
	hasher *memo.Hasher
}

// evaluate decides whether rule r must run. upstreamRan reports whether
// any producer reached a terminal "ran" state this invocation (including
// would-run under dry run). Checks are ordered; the first hit wins.
func (e *evaluator) evaluate(r *Rule, upstreamRan bool) Verdict {
	if r.Force {
		return ForcedUpdate
	}
	if upstreamRan {
		return UpstreamRan
	}

	// Outputs must all exist. An output left at the epoch by a failed
	// run counts as missing so half-written results are rebuilt.
	var oldest int64
	haveOldest := false
	for _, out := range r.Outputs {
		mt, ok := mtime(out.Path)
		if !ok || mt.Unix() <= 0 {
			return MissingOutput
		}
		ns := mt.UnixNano()
		if !haveOldest || ns < oldest {
			oldest = ns
			haveOldest = true
		}
	}

	// Plain inputs are compared by mtime against the oldest output.
	// Unreadable input metadata counts as infinitely new rather than an
	// error; the rule runs and its method reports the real problem.
	for _, in := range r.Inputs {
		if in.Artifact.Kind != Plain {
			continue
		}
		mt, ok := mtime(in.Artifact.Path)
		if !ok {
			return OutdatedByMtime
		}
		if mt.UnixNano() > oldest {
			return OutdatedByMtime
		}
	}

	// Memo: params and value-tracked input hashes, element-wise.
	current, err := currentRecord(r, e.hasher)
	if err != nil {
		// A value-tracked input that cannot be hashed is a content miss.
		return OutdatedByContent
	}
	// A rule with no stored record has never run to completion here;
	// its outputs are not trusted even when their mtimes look current.
	stored, ok := e.store.Load(r.Primary())
	if !ok {
		return OutdatedByMemo
	}
	switch memo.Compare(current, stored) {
	case "":
		return UpToDate
	case memo.KindContent:
		return OutdatedByContent
	default:
		return OutdatedByMemo
	}
}
