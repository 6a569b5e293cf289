package incmake

import "fmt"

// DefinitionCode classifies errors raised while defining groups and
// rules, before anything executes.
type DefinitionCode string

const (
	// CodeDuplicateOutput marks an output path already produced by
	// another rule, already used as a source input, or colliding with
	// another output as a path prefix (file where a directory is
	// needed, or the reverse).
	CodeDuplicateOutput DefinitionCode = "duplicate_output"
	// CodeUnknownDependency marks a dependency on a rule outside this
	// build tree or on an output key the producer does not declare.
	CodeUnknownDependency DefinitionCode = "unknown_dependency"
	// CodeCycle marks a dependency cycle among rules.
	CodeCycle DefinitionCode = "cycle"
	// CodeDuplicateName marks a group or rule name already taken within
	// its parent group.
	CodeDuplicateName DefinitionCode = "duplicate_name"
	// CodeInvalidRule marks a structurally invalid definition: no
	// outputs, duplicate keys, conflicting artifact kinds, bad names.
	CodeInvalidRule DefinitionCode = "invalid_rule"
)

// DefinitionError is returned synchronously from definition calls.
type DefinitionError struct {
	Code DefinitionCode
	Msg  string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func defErrf(code DefinitionCode, format string, args ...any) *DefinitionError {
	return &DefinitionError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// RuleError wraps a failure with the qualified name of the rule that
// caused it.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string { return fmt.Sprintf("rule %s: %v", e.Rule, e.Err) }
func (e *RuleError) Unwrap() error { return e.Err }

// MissingOutputError reports a method that returned success without
// producing one of its declared outputs.
type MissingOutputError struct {
	Path string
}

func (e *MissingOutputError) Error() string { return "missing required output " + e.Path }
