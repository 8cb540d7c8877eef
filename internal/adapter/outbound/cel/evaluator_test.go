package cel

import (
	"context"
	"testing"

	"github.com/scmhooks/hookengine/internal/adapter/outbound/memory"
	"github.com/scmhooks/hookengine/internal/domain/hook"
)

func TestChangesetRuleAcceptsAndRejects(t *testing.T) {
	rule, err := NewChangesetRule(`!comments.contains("WIP")`, "no WIP commits", "remove WIP markers before pushing")
	if err != nil {
		t.Fatalf("NewChangesetRule() error = %v", err)
	}

	accept, err := rule.RunChangesetHook(context.Background(), hook.ChangesetContext{
		Changeset: hook.Changeset{Comments: "fix: thing"},
	})
	if err != nil {
		t.Fatalf("RunChangesetHook() error = %v", err)
	}
	if !accept.Accepted {
		t.Errorf("expected accept, got reject: %+v", accept)
	}

	reject, err := rule.RunChangesetHook(context.Background(), hook.ChangesetContext{
		Changeset: hook.Changeset{Comments: "WIP: thing"},
	})
	if err != nil {
		t.Fatalf("RunChangesetHook() error = %v", err)
	}
	if reject.Accepted {
		t.Errorf("expected reject, got accept")
	}
	if reject.Description != "no WIP commits" {
		t.Errorf("Description = %q", reject.Description)
	}
}

func TestChangesetRuleACLBypassExpression(t *testing.T) {
	rule, err := NewChangesetRule(`acl_member || parent_count <= 1`, "merges need review", "")
	if err != nil {
		t.Fatalf("NewChangesetRule() error = %v", err)
	}

	verdict, err := rule.RunChangesetHook(context.Background(), hook.ChangesetContext{
		Changeset:   hook.Changeset{Parents: hook.Parents{Kind: hook.TwoParents}},
		IsACLMember: true,
	})
	if err != nil {
		t.Fatalf("RunChangesetHook() error = %v", err)
	}
	if !verdict.Accepted {
		t.Errorf("ACL member merge should be accepted")
	}
}

func TestFileRuleRejectsOnSecretContent(t *testing.T) {
	store := memory.NewFileContentStore()
	store.Add("cs1", "config.yaml", []byte("password: hunter2"))

	rule, err := NewFileRule(`!content.contains("password:")`, "no plaintext secrets", "", store)
	if err != nil {
		t.Fatalf("NewFileRule() error = %v", err)
	}

	verdict, err := rule.RunFileHook(context.Background(), hook.FileContext{
		Changeset: hook.Changeset{ID: "cs1"},
		File: hook.FileEntry{
			Path:        "config.yaml",
			ChangeKind:  hook.Modified,
			ChangesetID: "cs1",
			Content:     hook.ContentHandle{ChangesetID: "cs1", Path: "config.yaml"},
		},
	})
	if err != nil {
		t.Fatalf("RunFileHook() error = %v", err)
	}
	if verdict.Accepted {
		t.Errorf("expected rejection for plaintext secret")
	}
}

func TestFileRuleSkipsContentLookupForDeletedFiles(t *testing.T) {
	store := memory.NewFileContentStore() // empty: a lookup would fail

	rule, err := NewFileRule(`change_kind != "deleted" && content.contains("x")`, "must contain x", "", store)
	if err != nil {
		t.Fatalf("NewFileRule() error = %v", err)
	}

	verdict, err := rule.RunFileHook(context.Background(), hook.FileContext{
		Changeset: hook.Changeset{ID: "cs1"},
		File: hook.FileEntry{
			Path:        "removed.txt",
			ChangeKind:  hook.Deleted,
			ChangesetID: "cs1",
			Content:     hook.ContentHandle{ChangesetID: "cs1", Path: "removed.txt"},
		},
	})
	if err != nil {
		t.Fatalf("RunFileHook() error = %v", err)
	}
	if verdict.Accepted {
		t.Errorf("deleted file should not short-circuit to accept")
	}
}

func TestNewChangesetRuleRejectsEmptyExpression(t *testing.T) {
	if _, err := NewChangesetRule("", "x", "y"); err == nil {
		t.Error("expected error for empty expression")
	}
}

func TestNewChangesetRuleRejectsInvalidExpression(t *testing.T) {
	if _, err := NewChangesetRule("this is not cel (((", "x", "y"); err == nil {
		t.Error("expected compile error")
	}
}
