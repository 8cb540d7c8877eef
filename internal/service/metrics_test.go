package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/scmhooks/hookengine/internal/adapter/outbound/memory"
	"github.com/scmhooks/hookengine/internal/adapter/outbound/native"
	"github.com/scmhooks/hookengine/internal/domain/hook"
)

func findMetric(t *testing.T, reg *prometheus.Registry, family string, label, value string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m
				}
			}
		}
	}
	return nil
}

func TestMetrics_RecordsRuleEvaluation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	csStore := memory.NewChangesetStore()
	contentStore := memory.NewFileContentStore()
	cache := NewVerdictCache()
	hm := NewHookManager(csStore, contentStore, nil, cache, WithMetrics(metrics))

	csStore.Add(hook.Changeset{
		ID: "cs1", Author: "alice",
		Files: []hook.FileEntry{
			{Path: "bin.dat", ChangeKind: hook.Modified, ChangesetID: "cs1",
				Content: hook.ContentHandle{ChangesetID: "cs1", Path: "bin.dat"}},
		},
	})
	contentStore.Add("cs1", "bin.dat", []byte{0x00, 0x01, 0x02})

	rule, err := LoadRule("no_binary", hook.FileKind, hook.RuleConfig{
		Options: map[string]string{"backend": "native", "native_rule": "no_binary_blobs"},
	}, contentStore)
	if err != nil {
		t.Fatalf("LoadRule() error = %v", err)
	}
	if err := hm.RegisterFileRule(rule); err != nil {
		t.Fatalf("RegisterFileRule() error = %v", err)
	}
	hm.BindBookmark("main", []string{"no_binary"}, hook.FileKind)

	outcomes, err := hm.EvaluateFileRules(context.Background(), PushRequest{ChangesetID: "cs1", Bookmark: "main"})
	if err != nil {
		t.Fatalf("EvaluateFileRules() error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Verdict.Accepted {
		t.Fatalf("expected a single rejection, got %+v", outcomes)
	}

	m := findMetric(t, reg, "hookengine_rule_evaluations_total", "outcome", "rejected")
	if m == nil {
		t.Fatal("expected hookengine_rule_evaluations_total{outcome=\"rejected\"} to be recorded")
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("rule_evaluations_total{outcome=rejected} = %v, want 1", got)
	}
}

func TestMetrics_RecordsCacheHit(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	csStore := memory.NewChangesetStore()
	contentStore := memory.NewFileContentStore()
	cache := NewVerdictCache(WithHitMissRecorder(metrics.CacheHitsTotal.Inc, metrics.CacheMissesTotal.Inc))
	hm := NewHookManager(csStore, contentStore, nil, cache, WithMetrics(metrics))

	csStore.Add(hook.Changeset{
		ID: "cs1", Author: "alice",
		Files: []hook.FileEntry{
			{Path: "ok.txt", ChangeKind: hook.Modified, ChangesetID: "cs1",
				Content: hook.ContentHandle{ChangesetID: "cs1", Path: "ok.txt"}},
		},
	})
	contentStore.Add("cs1", "ok.txt", []byte("hello"))

	calls := 0
	rule := hook.Rule{
		Name: "counted",
		Kind: hook.FileKind,
		Body: native.FileFunc(func(ctx context.Context, hctx hook.FileContext) (hook.Verdict, error) {
			calls++
			return hook.Accepted(), nil
		}),
	}
	if err := hm.RegisterFileRule(rule); err != nil {
		t.Fatalf("RegisterFileRule() error = %v", err)
	}
	hm.BindBookmark("main", []string{"counted"}, hook.FileKind)

	req := PushRequest{ChangesetID: "cs1", Bookmark: "main"}
	if _, err := hm.EvaluateFileRules(context.Background(), req); err != nil {
		t.Fatalf("EvaluateFileRules() [1] error = %v", err)
	}
	if _, err := hm.EvaluateFileRules(context.Background(), req); err != nil {
		t.Fatalf("EvaluateFileRules() [2] error = %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the rule body to run once with the second call served from cache, ran %d times", calls)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var hits float64
	for _, mf := range families {
		if mf.GetName() == "hookengine_verdict_cache_hits_total" {
			for _, m := range mf.GetMetric() {
				hits = m.GetCounter().GetValue()
			}
		}
	}
	if hits != 1 {
		t.Errorf("verdict_cache_hits_total = %v, want 1", hits)
	}
}
