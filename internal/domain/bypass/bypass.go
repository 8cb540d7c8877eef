// Package bypass implements the pure predicate that decides whether a
// configured Bypass condition lets a push skip a rule.
package bypass

import (
	"strings"

	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// IsBypassed reports whether b is satisfied by the given commit message and
// push variables. A nil Bypass never bypasses. The check is a pure function
// of its inputs: no store access, no ACL lookup, no I/O.
func IsBypassed(b *hook.Bypass, commitMessage string, pushVars map[string]string) bool {
	if b == nil {
		return false
	}
	if b.IsPushVar() {
		got, ok := pushVars[b.PushVarName]
		return ok && got == b.PushVarValue
	}
	return b.CommitMessage != "" && strings.Contains(commitMessage, b.CommitMessage)
}
