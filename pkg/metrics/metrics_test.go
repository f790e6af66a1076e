package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openclaw/interchange/pkg/breaker"
)

func TestMetrics_Recorders(t *testing.T) {
	m := New()
	m.ObserveWrite(WriteWritten)
	m.ObserveWrite(WriteWritten)
	m.ObserveWrite(WriteUnchanged)
	m.ObserveRebuild("crm")
	m.ObserveLockWait(3 * time.Millisecond)
	m.BreakerStateChanged("prices", breaker.Closed, breaker.Open)

	if got := promtest.ToFloat64(m.writes.WithLabelValues(WriteWritten)); got != 2 {
		t.Errorf("written = %v, want 2", got)
	}
	if got := promtest.ToFloat64(m.rebuilds.WithLabelValues("crm")); got != 1 {
		t.Errorf("rebuilds{crm} = %v, want 1", got)
	}
	if got := promtest.ToFloat64(m.breakerState.WithLabelValues("prices")); got != float64(breaker.Open) {
		t.Errorf("breaker state = %v, want %v", got, float64(breaker.Open))
	}
	if n := promtest.CollectAndCount(m.lockWait); n != 1 {
		t.Errorf("lock wait series = %d, want 1", n)
	}

	counts, err := m.WriteCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[WriteWritten] != 2 || counts[WriteUnchanged] != 1 {
		t.Errorf("WriteCounts = %v", counts)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveWrite(WriteError)
	m.ObserveLockWait(time.Second)
	m.ObserveRebuild("x")
	m.BreakerStateChanged("x", breaker.Closed, breaker.Open)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "never.prom")); err != nil {
		t.Errorf("WriteTextfile on nil: %v", err)
	}
	counts, err := m.WriteCounts()
	if err != nil || len(counts) != 0 {
		t.Errorf("WriteCounts on nil = %v, %v", counts, err)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.ObserveWrite(WriteWritten)
	p := filepath.Join(t.TempDir(), "interchange.prom")

	if err := m.WriteTextfile(p); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`interchange_writer_writes_total{result="written"} 1`,
		"# TYPE interchange_lock_wait_seconds histogram",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
}

func TestMetrics_BreakerHook(t *testing.T) {
	m := New()
	b := breaker.New[int](breaker.Options{
		Name:          "quotes",
		Threshold:     1,
		OnStateChange: m.BreakerStateChanged,
	})
	_, _ = b.Call(context.Background(), func(context.Context) (int, error) {
		return 0, errors.New("down")
	})
	if got := promtest.ToFloat64(m.breakerState.WithLabelValues("quotes")); got != float64(breaker.Open) {
		t.Errorf("state gauge = %v, want %v", got, float64(breaker.Open))
	}
}
