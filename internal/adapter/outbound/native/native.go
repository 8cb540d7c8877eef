// Package native implements the "native" rule-body backend: ordinary Go
// functions adapted to satisfy hook.ChangesetRuleBody / hook.FileRuleBody,
// for rules too expensive or too stateful to express as a CEL expression
// (e.g. streaming a large blob looking for a binary signature).
package native

import (
	"context"

	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// ChangesetFunc adapts a plain function to hook.ChangesetRuleBody.
type ChangesetFunc func(ctx context.Context, hctx hook.ChangesetContext) (hook.Verdict, error)

// RunChangesetHook implements hook.ChangesetRuleBody.
func (f ChangesetFunc) RunChangesetHook(ctx context.Context, hctx hook.ChangesetContext) (hook.Verdict, error) {
	return f(ctx, hctx)
}

// FileFunc adapts a plain function to hook.FileRuleBody.
type FileFunc func(ctx context.Context, hctx hook.FileContext) (hook.Verdict, error)

// RunFileHook implements hook.FileRuleBody.
func (f FileFunc) RunFileHook(ctx context.Context, hctx hook.FileContext) (hook.Verdict, error) {
	return f(ctx, hctx)
}

// NoBinaryBlobs rejects files whose content contains a NUL byte within the
// first 8000 bytes, the same heuristic git uses to flag binary files, so
// reviewers are warned before a binary asset lands in a text-only path.
func NoBinaryBlobs(contentStore hook.FileContentStore) FileFunc {
	const sniffLen = 8000
	return func(ctx context.Context, hctx hook.FileContext) (hook.Verdict, error) {
		if hctx.File.ChangeKind == hook.Deleted {
			return hook.Accepted(), nil
		}
		data, err := contentStore.GetFileContent(ctx, hctx.File.Content)
		if err != nil {
			return hook.Verdict{}, err
		}
		n := len(data)
		if n > sniffLen {
			n = sniffLen
		}
		for _, b := range data[:n] {
			if b == 0 {
				return hook.Rejected(
					"binary file not allowed",
					"file "+hctx.File.Path+" looks binary (contains a NUL byte); binary assets must go through the LFS path",
				), nil
			}
		}
		return hook.Accepted(), nil
	}
}

// MaxFileSize rejects any file whose content exceeds limitBytes.
func MaxFileSize(contentStore hook.FileContentStore, limitBytes int) FileFunc {
	return func(ctx context.Context, hctx hook.FileContext) (hook.Verdict, error) {
		if hctx.File.ChangeKind == hook.Deleted {
			return hook.Accepted(), nil
		}
		data, err := contentStore.GetFileContent(ctx, hctx.File.Content)
		if err != nil {
			return hook.Verdict{}, err
		}
		if len(data) > limitBytes {
			return hook.Rejected(
				"file too large",
				"file exceeds the configured size limit",
			), nil
		}
		return hook.Accepted(), nil
	}
}
