package hook

import "fmt"

// NoSuchRuleError is returned when a bookmark binding names a rule that was
// never registered with the Hook Manager. Both evaluation entry points treat
// this as fatal for the whole request rather than skipping the rule.
type NoSuchRuleError struct {
	RuleName string
}

func (e *NoSuchRuleError) Error() string {
	return fmt.Sprintf("hook: no such rule %q", e.RuleName)
}

// NoSuchChangesetError is returned when a Changeset Store has no snapshot for
// the requested id.
type NoSuchChangesetError struct {
	ID ChangesetID
}

func (e *NoSuchChangesetError) Error() string {
	return fmt.Sprintf("hook: no such changeset %q", e.ID)
}

// NoFileContentError is returned when a File Content Store cannot resolve the
// bytes behind a ContentHandle.
type NoFileContentError struct {
	Path        string
	ChangesetID ChangesetID
}

func (e *NoFileContentError) Error() string {
	return fmt.Sprintf("hook: no content for %q at %q", e.Path, e.ChangesetID)
}

// InvalidUTF8Error is returned when a commit's author or comment text is not
// valid UTF-8; it is raised before any rule body runs.
type InvalidUTF8Error struct {
	Field string
}

func (e *InvalidUTF8Error) Error() string {
	return fmt.Sprintf("hook: invalid utf-8 in %s", e.Field)
}

// RuleExecutionFailedError wraps a panic or unexpected error raised from
// inside a rule body, so one misbehaving rule cannot crash the evaluation
// request of its siblings.
type RuleExecutionFailedError struct {
	RuleName string
	Err      error
}

func (e *RuleExecutionFailedError) Error() string {
	return fmt.Sprintf("hook: rule %q failed: %v", e.RuleName, e.Err)
}

func (e *RuleExecutionFailedError) Unwrap() error { return e.Err }

// StoreError wraps a lower-level storage failure (changeset, content, rule
// config, or bookmark binding backends) with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("hook: store op %q failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
