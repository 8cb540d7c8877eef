// Package cel implements the "cel" rule-body backend: it compiles a
// RuleConfig's "expression" option into a CEL program and evaluates it
// against a hook.ChangesetContext or hook.FileContext. CEL expressions are
// pure and side-effect free, so content is resolved eagerly before
// evaluation rather than exposed as a lazy callback.
package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// newChangesetEnv builds the CEL environment for changeset-kind rules:
// author, comments, parent count/merge flag, the set of changed paths, and
// ACL membership, plus the string extension library for expressions like
// `comments.contains("JIRA-")`.
func newChangesetEnv() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		cel.Variable("author", cel.StringType),
		cel.Variable("comments", cel.StringType),
		cel.Variable("bookmark", cel.StringType),
		cel.Variable("parent_count", cel.IntType),
		cel.Variable("is_merge", cel.BoolType),
		cel.Variable("files", cel.ListType(cel.StringType)),
		cel.Variable("file_count", cel.IntType),
		cel.Variable("acl_member", cel.BoolType),
		globFunction(),
	)
}

// newFileEnv builds the CEL environment for file-kind rules: the file's
// path, its change kind, its decoded content, and the same request-scoped
// metadata a changeset environment exposes.
func newFileEnv() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		cel.Variable("path", cel.StringType),
		cel.Variable("change_kind", cel.StringType),
		cel.Variable("content", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("author", cel.StringType),
		cel.Variable("comments", cel.StringType),
		cel.Variable("bookmark", cel.StringType),
		cel.Variable("acl_member", cel.BoolType),
		globFunction(),
	)
}

// globFunction exposes glob(pattern, path) for path-shaped allow/deny rules,
// e.g. `glob("*.pem", path)`.
func globFunction() cel.EnvOption {
	return cel.Function("glob",
		cel.Overload("glob_string_string",
			[]*cel.Type{cel.StringType, cel.StringType},
			cel.BoolType,
			cel.BinaryBinding(func(patternVal, subjectVal ref.Val) ref.Val {
				pattern, ok1 := patternVal.Value().(string)
				subject, ok2 := subjectVal.Value().(string)
				if !ok1 || !ok2 {
					return types.Bool(false)
				}
				matched, err := filepath.Match(pattern, subject)
				if err != nil {
					return types.Bool(false)
				}
				return types.Bool(matched)
			}),
		),
	)
}
