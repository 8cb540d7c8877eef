package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/goleak"

	"github.com/scmhooks/hookengine/internal/adapter/outbound/memory"
	"github.com/scmhooks/hookengine/internal/adapter/outbound/native"
	"github.com/scmhooks/hookengine/internal/domain/hook"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubACL struct {
	members map[string]bool
}

func (s stubACL) IsMember(ctx context.Context, identity string) (bool, error) {
	return s.members[identity], nil
}

func setupManager(t *testing.T) (*HookManager, *memory.ChangesetStore, *memory.FileContentStore) {
	t.Helper()
	csStore := memory.NewChangesetStore()
	contentStore := memory.NewFileContentStore()
	acl := stubACL{members: map[string]bool{"trusted-admin": true}}
	cache := NewVerdictCache()
	hm := NewHookManager(csStore, contentStore, acl, cache)
	return hm, csStore, contentStore
}

// S1: accepted changeset, no bound rules -> empty outcome set, no error.
func TestEvaluateChangesetRulesNoBindings(t *testing.T) {
	hm, csStore, _ := setupManager(t)
	csStore.Add(hook.Changeset{ID: "cs1", Author: "alice"})

	outcomes, err := hm.EvaluateChangesetRules(context.Background(), PushRequest{
		ChangesetID: "cs1", Bookmark: "main",
	})
	if err != nil {
		t.Fatalf("EvaluateChangesetRules() error = %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("expected no outcomes, got %d", len(outcomes))
	}
}

// S1b: an unbound bookmark returns empty without ever touching the
// changeset store, even when the pushed changeset id was never seeded.
func TestEvaluateRulesNoBindingsSkipsStoreLookup(t *testing.T) {
	hm, _, _ := setupManager(t)

	req := PushRequest{ChangesetID: "never-seeded", Bookmark: "main"}

	outcomes, err := hm.EvaluateChangesetRules(context.Background(), req)
	if err != nil {
		t.Fatalf("EvaluateChangesetRules() error = %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("expected no outcomes, got %d", len(outcomes))
	}

	fileOutcomes, err := hm.EvaluateFileRules(context.Background(), req)
	if err != nil {
		t.Fatalf("EvaluateFileRules() error = %v", err)
	}
	if len(fileOutcomes) != 0 {
		t.Errorf("expected no outcomes, got %d", len(fileOutcomes))
	}
}

// S2: a file rule rejects a file containing a secret marker.
func TestEvaluateFileRulesRejectsSecret(t *testing.T) {
	hm, csStore, contentStore := setupManager(t)

	contentStore.Add("cs1", "config.yaml", []byte("password: hunter2"))
	csStore.Add(hook.Changeset{
		ID: "cs1", Author: "alice",
		Files: []hook.FileEntry{
			{Path: "config.yaml", ChangeKind: hook.Modified, ChangesetID: "cs1",
				Content: hook.ContentHandle{ChangesetID: "cs1", Path: "config.yaml"}},
		},
	})

	rule := hook.Rule{
		Name: "no_secrets",
		Kind: hook.FileKind,
		Body: native.FileFunc(func(ctx context.Context, hctx hook.FileContext) (hook.Verdict, error) {
			data, err := contentStore.GetFileContent(ctx, hctx.File.Content)
			if err != nil {
				return hook.Verdict{}, err
			}
			if len(data) > 0 && string(data) == "password: hunter2" {
				return hook.Rejected("no plaintext secrets", "remove the password line"), nil
			}
			return hook.Accepted(), nil
		}),
	}
	if err := hm.RegisterFileRule(rule); err != nil {
		t.Fatalf("RegisterFileRule() error = %v", err)
	}
	hm.BindBookmark("main", []string{"no_secrets"}, hook.FileKind)

	outcomes, err := hm.EvaluateFileRules(context.Background(), PushRequest{ChangesetID: "cs1", Bookmark: "main"})
	if err != nil {
		t.Fatalf("EvaluateFileRules() error = %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if outcomes[0].Verdict.Accepted {
		t.Errorf("expected rejection")
	}
}

// S3: deleted files are excluded from the file-rule cross product.
func TestEvaluateFileRulesSkipsDeletedFiles(t *testing.T) {
	hm, csStore, _ := setupManager(t)
	csStore.Add(hook.Changeset{
		ID: "cs1",
		Files: []hook.FileEntry{
			{Path: "gone.txt", ChangeKind: hook.Deleted, ChangesetID: "cs1"},
		},
	})

	calls := 0
	rule := hook.Rule{
		Name: "counts_calls",
		Kind: hook.FileKind,
		Body: native.FileFunc(func(ctx context.Context, hctx hook.FileContext) (hook.Verdict, error) {
			calls++
			return hook.Accepted(), nil
		}),
	}
	if err := hm.RegisterFileRule(rule); err != nil {
		t.Fatalf("RegisterFileRule() error = %v", err)
	}
	hm.BindBookmark("main", []string{"counts_calls"}, hook.FileKind)

	outcomes, err := hm.EvaluateFileRules(context.Background(), PushRequest{ChangesetID: "cs1", Bookmark: "main"})
	if err != nil {
		t.Fatalf("EvaluateFileRules() error = %v", err)
	}
	if len(outcomes) != 0 || calls != 0 {
		t.Errorf("deleted file should not be evaluated: outcomes=%d calls=%d", len(outcomes), calls)
	}
}

// S4: a rule with a matching commit-message bypass is skipped and accepted.
func TestEvaluateChangesetRulesHonorsBypass(t *testing.T) {
	hm, csStore, _ := setupManager(t)
	csStore.Add(hook.Changeset{ID: "cs1", Comments: "fix: thing\n\n#bypass-review"})

	b := hook.NewCommitMessageBypass("#bypass-review")
	rule := hook.Rule{
		Name: "always_reject",
		Kind: hook.ChangesetKind,
		Body: native.ChangesetFunc(func(ctx context.Context, hctx hook.ChangesetContext) (hook.Verdict, error) {
			return hook.Rejected("no", "no"), nil
		}),
		Config: hook.RuleConfig{Bypass: &b},
	}
	if err := hm.RegisterChangesetRule(rule); err != nil {
		t.Fatalf("RegisterChangesetRule() error = %v", err)
	}
	hm.BindBookmark("main", []string{"always_reject"}, hook.ChangesetKind)

	outcomes, err := hm.EvaluateChangesetRules(context.Background(), PushRequest{ChangesetID: "cs1", Bookmark: "main"})
	if err != nil {
		t.Fatalf("EvaluateChangesetRules() error = %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Verdict.Accepted {
		t.Errorf("bypassed rule should be accepted, got %+v", outcomes)
	}
}

// S5: an unknown bound rule name fails the whole request.
func TestEvaluateFailsOnUnknownBoundRule(t *testing.T) {
	hm, csStore, _ := setupManager(t)
	csStore.Add(hook.Changeset{ID: "cs1"})
	hm.BindBookmark("main", []string{"does_not_exist"}, hook.ChangesetKind)

	_, err := hm.EvaluateChangesetRules(context.Background(), PushRequest{ChangesetID: "cs1", Bookmark: "main"})
	var notFound *hook.NoSuchRuleError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *hook.NoSuchRuleError", err)
	}
}

// S6: siblings all run to completion even when one rule errors; the first
// error is still returned.
func TestEvaluateChangesetRulesRunsAllSiblingsBeforeErrorPropagates(t *testing.T) {
	hm, csStore, _ := setupManager(t)
	csStore.Add(hook.Changeset{ID: "cs1"})

	ran := make(chan string, 2)
	failing := hook.Rule{
		Name: "failing",
		Kind: hook.ChangesetKind,
		Body: native.ChangesetFunc(func(ctx context.Context, hctx hook.ChangesetContext) (hook.Verdict, error) {
			ran <- "failing"
			return hook.Verdict{}, errors.New("boom")
		}),
	}
	ok := hook.Rule{
		Name: "ok",
		Kind: hook.ChangesetKind,
		Body: native.ChangesetFunc(func(ctx context.Context, hctx hook.ChangesetContext) (hook.Verdict, error) {
			ran <- "ok"
			return hook.Accepted(), nil
		}),
	}
	if err := hm.RegisterChangesetRule(failing); err != nil {
		t.Fatal(err)
	}
	if err := hm.RegisterChangesetRule(ok); err != nil {
		t.Fatal(err)
	}
	hm.BindBookmark("main", []string{"failing", "ok"}, hook.ChangesetKind)

	_, err := hm.EvaluateChangesetRules(context.Background(), PushRequest{ChangesetID: "cs1", Bookmark: "main"})
	if err == nil {
		t.Fatal("expected error from failing rule")
	}
	close(ran)
	names := map[string]bool{}
	for n := range ran {
		names[n] = true
	}
	if !names["failing"] || !names["ok"] {
		t.Errorf("both siblings should have run, got %v", names)
	}
}

// S6: a commit with non-UTF-8 author bytes fails evaluation before any
// rule body runs.
func TestEvaluateRejectsNonUTF8Author(t *testing.T) {
	hm, csStore, _ := setupManager(t)
	csStore.Add(hook.Changeset{ID: "cs1", Author: "alice\xff\xfe", Comments: "fine"})

	ran := false
	rule := hook.Rule{
		Name: "always_accept",
		Kind: hook.ChangesetKind,
		Body: native.ChangesetFunc(func(ctx context.Context, hctx hook.ChangesetContext) (hook.Verdict, error) {
			ran = true
			return hook.Accepted(), nil
		}),
	}
	if err := hm.RegisterChangesetRule(rule); err != nil {
		t.Fatal(err)
	}
	hm.BindBookmark("main", []string{"always_accept"}, hook.ChangesetKind)

	_, err := hm.EvaluateChangesetRules(context.Background(), PushRequest{ChangesetID: "cs1", Bookmark: "main"})
	var invalidUTF8 *hook.InvalidUTF8Error
	if !errors.As(err, &invalidUTF8) {
		t.Fatalf("error = %v, want *hook.InvalidUTF8Error", err)
	}
	if invalidUTF8.Field != "author" {
		t.Errorf("Field = %q, want %q", invalidUTF8.Field, "author")
	}
	if ran {
		t.Error("rule body should not have run")
	}
}

func TestACLMembershipReachesRuleBody(t *testing.T) {
	hm, csStore, _ := setupManager(t)
	csStore.Add(hook.Changeset{ID: "cs1"})

	rule := hook.Rule{
		Name: "needs_acl",
		Kind: hook.ChangesetKind,
		Body: native.ChangesetFunc(func(ctx context.Context, hctx hook.ChangesetContext) (hook.Verdict, error) {
			if !hctx.IsACLMember {
				return hook.Rejected("not privileged", ""), nil
			}
			return hook.Accepted(), nil
		}),
	}
	if err := hm.RegisterChangesetRule(rule); err != nil {
		t.Fatal(err)
	}
	hm.BindBookmark("main", []string{"needs_acl"}, hook.ChangesetKind)

	outcomes, err := hm.EvaluateChangesetRules(context.Background(), PushRequest{
		ChangesetID: "cs1", Bookmark: "main", Identity: "trusted-admin",
	})
	if err != nil {
		t.Fatalf("EvaluateChangesetRules() error = %v", err)
	}
	if !outcomes[0].Verdict.Accepted {
		t.Errorf("trusted-admin should pass the ACL-gated rule")
	}
}
