package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/evaclab/egress/internal/strategy"
	"github.com/evaclab/egress/pkg/models"
)

func newTestService() *Service {
	return NewService(ServiceConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func newStrategy(t *testing.T, name string) strategy.Strategy {
	t.Helper()
	s, err := strategy.DefaultRegistry().New(name, strategy.Config{
		Persuasion: 1.0,
		Rand:       rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("build strategy %s: %v", name, err)
	}
	return s
}

func TestService_RegisterDecideUnregister(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if err := svc.RegisterRun("staff-support_0", strategy.AlwaysAskHelp, newStrategy(t, strategy.AlwaysAskHelp)); err != nil {
		t.Fatalf("RegisterRun: %v", err)
	}

	action, err := svc.Decide(ctx, "staff-support_0", models.SurvivorContact{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if action != models.ActionAskHelp {
		t.Errorf("action = %q, want ask-help", action)
	}

	log := svc.UnregisterRun("staff-support_0")
	if !reflect.DeepEqual(log.Actions, []models.Action{models.ActionAskHelp}) {
		t.Errorf("log actions = %v", log.Actions)
	}

	// The binding is gone: further decisions must fail.
	if _, err := svc.Decide(ctx, "staff-support_0", models.SurvivorContact{}); !errors.Is(err, ErrNoActiveStrategy) {
		t.Errorf("Decide after unregister: err = %v, want ErrNoActiveStrategy", err)
	}
}

func TestService_DecideUnknownRun(t *testing.T) {
	svc := newTestService()

	_, err := svc.Decide(context.Background(), "never-registered_0", models.SurvivorContact{})
	if err == nil {
		t.Fatal("expected error for unknown run id")
	}
	if !errors.Is(err, ErrNoActiveStrategy) {
		t.Errorf("err = %v, want ErrNoActiveStrategy", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := newTestService()
	impl := newStrategy(t, strategy.AlwaysCallStaff)

	if err := svc.RegisterRun("", "x", impl); err == nil {
		t.Error("expected error for empty run id")
	}
	if err := svc.RegisterRun("run_0", "x", nil); err == nil {
		t.Error("expected error for nil strategy")
	}

	if err := svc.RegisterRun("run_0", "x", impl); err != nil {
		t.Fatalf("RegisterRun: %v", err)
	}
	if err := svc.RegisterRun("run_0", "x", impl); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestService_UnregisterUnknownIsNoOp(t *testing.T) {
	svc := newTestService()
	log := svc.UnregisterRun("ghost_0")
	if len(log.Actions) != 0 || len(log.Responses) != 0 {
		t.Errorf("log = %+v, want empty", log)
	}
}

func TestService_RecordResponse(t *testing.T) {
	svc := newTestService()
	if err := svc.RegisterRun("run_0", strategy.Random, newStrategy(t, strategy.Random)); err != nil {
		t.Fatalf("RegisterRun: %v", err)
	}

	for _, response := range []string{"accepted", "declined"} {
		if err := svc.RecordResponse("run_0", response); err != nil {
			t.Fatalf("RecordResponse: %v", err)
		}
	}
	if err := svc.RecordResponse("other_0", "accepted"); !errors.Is(err, ErrNoActiveStrategy) {
		t.Errorf("RecordResponse unknown run: err = %v", err)
	}

	log := svc.UnregisterRun("run_0")
	if !reflect.DeepEqual(log.Responses, []string{"accepted", "declined"}) {
		t.Errorf("responses = %v", log.Responses)
	}
}

func TestService_Active(t *testing.T) {
	svc := newTestService()
	for _, id := range []string{"b_1", "a_0", "c_2"} {
		if err := svc.RegisterRun(id, strategy.AlwaysAskHelp, newStrategy(t, strategy.AlwaysAskHelp)); err != nil {
			t.Fatalf("RegisterRun(%s): %v", id, err)
		}
	}

	if got := svc.Active(); !reflect.DeepEqual(got, []string{"a_0", "b_1", "c_2"}) {
		t.Errorf("Active() = %v", got)
	}

	svc.UnregisterRun("b_1")
	if got := svc.Active(); !reflect.DeepEqual(got, []string{"a_0", "c_2"}) {
		t.Errorf("Active() after unregister = %v", got)
	}
}

func TestService_ConcurrentDecisionsAcrossRuns(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	const runs = 8
	ids := make([]string, runs)
	for i := range ids {
		ids[i] = string(rune('a'+i)) + "_0"
		if err := svc.RegisterRun(ids[i], strategy.Random, newStrategy(t, strategy.Random)); err != nil {
			t.Fatalf("RegisterRun: %v", err)
		}
	}

	// Each goroutine drives one run sequentially, like a real engine
	// instance; runs overlap each other freely.
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(runID string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				action, err := svc.Decide(ctx, runID, models.SurvivorContact{})
				if err != nil {
					t.Errorf("%s: Decide: %v", runID, err)
					return
				}
				if !action.Valid() {
					t.Errorf("%s: invalid action %q", runID, action)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		log := svc.UnregisterRun(id)
		if len(log.Actions) != 50 {
			t.Errorf("%s: recorded %d actions, want 50", id, len(log.Actions))
		}
	}
}

func TestService_RebindAfterUnregister(t *testing.T) {
	// A retry reuses the run id with a fresh instance; the new binding
	// must start with an empty trace.
	svc := newTestService()
	ctx := context.Background()

	if err := svc.RegisterRun("run_0", strategy.AlwaysAskHelp, newStrategy(t, strategy.AlwaysAskHelp)); err != nil {
		t.Fatalf("RegisterRun: %v", err)
	}
	if _, err := svc.Decide(ctx, "run_0", models.SurvivorContact{}); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	svc.UnregisterRun("run_0")

	if err := svc.RegisterRun("run_0", strategy.AlwaysCallStaff, newStrategy(t, strategy.AlwaysCallStaff)); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	action, err := svc.Decide(ctx, "run_0", models.SurvivorContact{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if action != models.ActionCallStaff {
		t.Errorf("action = %q, want call-staff from the fresh binding", action)
	}

	log := svc.UnregisterRun("run_0")
	if len(log.Actions) != 1 {
		t.Errorf("fresh binding carried %d actions, want 1", len(log.Actions))
	}
}
