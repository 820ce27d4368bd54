package workflow

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/curalink/signchain/model"
)

func TestMonitor_escalatesOverdueSteps(t *testing.T) {
	cfg := sequentialConfig()
	cfg.Steps[0].Timeout = "1ms"
	e, _, _ := newTestEngine(t, cfg)
	actor := nurseActor()
	inst := mustCreate(t, e, actor, "admission_review")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor(e, 5*time.Millisecond, zap.NewNop())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		stored, err := e.GetInstance(context.Background(), actor, inst.ID)
		if err != nil {
			t.Fatalf("GetInstance: %v", err)
		}
		if stored.Status == model.InstanceStatusEscalated {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("instance never escalated, status = %q", stored.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
}

func TestNewMonitor_defaultInterval(t *testing.T) {
	e, _, _ := newTestEngine(t, sequentialConfig())
	m := NewMonitor(e, 0, zap.NewNop())
	if m.interval != time.Minute {
		t.Errorf("interval = %v, want 1m default", m.interval)
	}
}
