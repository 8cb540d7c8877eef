package hook

import "context"

// ChangesetRuleBody evaluates once per changeset, regardless of how many
// files it touches.
type ChangesetRuleBody interface {
	RunChangesetHook(ctx context.Context, hctx ChangesetContext) (Verdict, error)
}

// FileRuleBody evaluates once per (rule, non-deleted file) pair. Results are
// eligible for the Verdict Cache, keyed by (changeset id, rule name, path),
// so repeated evaluations of the same file in the same changeset reuse one
// verdict.
type FileRuleBody interface {
	RunFileHook(ctx context.Context, hctx FileContext) (Verdict, error)
}

// ChangesetStore resolves a changeset id to its immutable snapshot.
type ChangesetStore interface {
	GetChangeset(ctx context.Context, id ChangesetID) (Changeset, error)
}

// FileContentStore resolves a ContentHandle to bytes, streamed lazily so a
// rule body that never inspects content never pays to materialize it.
type FileContentStore interface {
	GetFileContent(ctx context.Context, handle ContentHandle) ([]byte, error)
}

// AclChecker answers whether an identity belongs to a repository's
// privileged group, letting bound rules be bypassed for trusted pushers.
type AclChecker interface {
	IsMember(ctx context.Context, identity string) (bool, error)
}

// RuleConfigStore persists Rule definitions and their RuleConfig, keyed by
// rule name, independent of any particular bookmark binding.
type RuleConfigStore interface {
	GetRule(ctx context.Context, name string) (Rule, error)
	PutRule(ctx context.Context, r Rule) error
	ListRules(ctx context.Context) ([]Rule, error)
}

// BookmarkBindingStore persists which rule names are bound to which
// bookmark, split by Kind the way the Hook Manager keeps its own registries
// split, since a bookmark can bind both changeset and file rules.
type BookmarkBindingStore interface {
	GetBinding(ctx context.Context, b Bookmark) (changesetRules, fileRules []string, err error)
	Bind(ctx context.Context, b Bookmark, ruleName string, kind Kind) error
}

// VerdictCache memoizes FileRuleBody results keyed by FileExecutionID,
// coalescing concurrent identical requests and evicting under both an entry
// count bound and a cumulative weight bound.
type VerdictCache interface {
	GetOrCompute(ctx context.Context, key FileExecutionID, compute func(context.Context) (Verdict, error)) (Verdict, error)
}
