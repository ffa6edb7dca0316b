package rstats_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/ledgerline/stomp-relay/rstats"
	"github.com/ledgerline/stomp-relay/wqueue"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestFrameCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := rstats.New(reg)

	r.FramesSent.WithLabelValues("SEND").Inc()
	r.FramesSent.WithLabelValues("SEND").Inc()
	r.FramesReceived.WithLabelValues("RECEIPT").Inc()

	if got := counterValue(t, r.FramesSent.WithLabelValues("SEND")); got != 2 {
		t.Fatalf("frames_sent{SEND} = %v, want 2", got)
	}
	if got := counterValue(t, r.FramesReceived.WithLabelValues("RECEIPT")); got != 1 {
		t.Fatalf("frames_received{RECEIPT} = %v, want 1", got)
	}
}

func TestWatchQueueWatermarks(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := rstats.New(reg)

	q := wqueue.New[int](4) // high=3, low=1
	r.WatchQueue("test", q)

	for i := 0; i < 4; i++ {
		_ = q.Put(context.Background(), i)
	}
	if got := counterValue(t, r.WatermarkHigh.WithLabelValues("test")); got != 1 {
		t.Fatalf("watermark_high = %v, want 1", got)
	}

	_, _ = q.Get(context.Background())
	_, _ = q.Get(context.Background())
	_, _ = q.Get(context.Background())
	if got := counterValue(t, r.WatermarkLow.WithLabelValues("test")); got != 1 {
		t.Fatalf("watermark_low = %v, want 1", got)
	}
}

func TestSetQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := rstats.New(reg)
	r.SetQueueDepth("test", 7)

	var m dto.Metric
	if err := r.QueueDepth.WithLabelValues("test").Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 7 {
		t.Fatalf("queue_depth = %v, want 7", got)
	}
}
