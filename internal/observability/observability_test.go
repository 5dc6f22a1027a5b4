package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		"warn":     zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerTo_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "engine", zerolog.InfoLevel)
	log.Info().Str("event_id", "e1").Msg("finalized")
	log.Debug().Msg("hidden")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "engine" || line["event_id"] != "e1" {
		t.Errorf("unexpected fields: %v", line)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOp("purchase", "ok", 0.1)
	m.Released("withdraw", 10)
	m.PublishDropped()
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveOp("purchase", "ok", 0.01)
	m.ObserveOp("purchase", "ok", 0.01)
	m.Escrowed(250)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				got[mf.GetName()] += c.GetValue()
			}
		}
	}
	if got["escrow_operations_total"] != 2 {
		t.Errorf("operations = %v, want 2", got["escrow_operations_total"])
	}
	if got["escrow_funds_escrowed_minor_units_total"] != 250 {
		t.Errorf("escrowed = %v, want 250", got["escrow_funds_escrowed_minor_units_total"])
	}
}
