package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordRedeem_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRedeem(RedeemOutcomeRedeemed)
	c.RecordRedeem(RedeemOutcomeReplayed)
	c.RecordRedeem(RedeemOutcomeReplayed)

	if v := findMetric(t, reg, "accounthub_handoff_redeem_total", map[string]string{"outcome": "replayed"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("replayed = %v, want 2", v)
	}
	if v := findMetric(t, reg, "accounthub_handoff_redeem_total", map[string]string{"outcome": "redeemed"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("redeemed = %v, want 1", v)
	}
}

func TestRecordUnlock_CountsByUniverseAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordUnlock("market", UnlockResultNew)
	c.RecordUnlock("market", UnlockResultExisting)

	m := findMetric(t, reg, "accounthub_unlock_total", map[string]string{"universe": "market", "result": "new"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("unlock new = %v, want 1", v)
	}
}

func TestBestEffortFailureCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordConsumeFailure()
	c.RecordPointAwardFailure()
	c.RecordPointAwardFailure()

	if v := findMetric(t, reg, "accounthub_handoff_consume_fail_total", nil).GetCounter().GetValue(); v != 1 {
		t.Errorf("consume_fail = %v, want 1", v)
	}
	if v := findMetric(t, reg, "accounthub_point_award_fail_total", nil).GetCounter().GetValue(); v != 2 {
		t.Errorf("point_award_fail = %v, want 2", v)
	}
}

func TestRecordReconcile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReconciledAwards(3)
	c.RecordReconciledAwards(0)
	c.RecordReconcileLatency(250 * time.Millisecond)

	if v := findMetric(t, reg, "accounthub_reconcile_awards_total", nil).GetCounter().GetValue(); v != 3 {
		t.Errorf("reconcile_awards = %v, want 3", v)
	}
	if n := findMetric(t, reg, "accounthub_reconcile_duration_seconds", nil).GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("reconcile latency samples = %d, want 1", n)
	}
}

func TestRecordHTTPStatusAndSignIn(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(410)
	c.RecordSignIn("password", "failure")

	if v := findMetric(t, reg, "accounthub_http_status_total", map[string]string{"status_code": "410"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("http_status 410 = %v, want 1", v)
	}
	if v := findMetric(t, reg, "accounthub_signin_total", map[string]string{"method": "password", "result": "failure"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("signin = %v, want 1", v)
	}
}

func TestNewCollector_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}
