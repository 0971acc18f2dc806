package finhop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quantrel/finhop/internal/eventbus"
	"go.uber.org/zap"
)

func TestStateMachine_EventBus_EmitsEvents(t *testing.T) {
	bus := eventbus.NewChannelEventBus(
		eventbus.WithBufferSize(10),
		eventbus.WithWorkerCount(1),
		eventbus.WithRetries(1, 10*time.Millisecond),
	)
	defer bus.Close()

	var mu sync.Mutex
	emitted := make(map[eventbus.EventType]bool)
	handler := func(ctx context.Context, evt eventbus.Event) error {
		if evt == nil {
			t.Error("event is nil")
			return nil
		}

		mu.Lock()

		if _, ok := emitted[evt.Type()]; !ok {
			t.Logf("event emitted: %v", evt.Type())
			emitted[evt.Type()] = true
		}

		mu.Unlock()
		return nil
	}

	_, err := bus.Subscribe([]eventbus.EventType{
		eventbus.EventQueryProcessingStarted,
		eventbus.EventDecompositionStarted,
		eventbus.EventDecompositionSuccess,
		eventbus.EventDecompositionFailure,
		eventbus.EventQueryProcessingSuccess,
		eventbus.EventQueryProcessingFailure,
	}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	f := &FinHop{
		decomposer:      &fakeDecomposer{subQueries: comparisonSubQueries()},
		executor:        &fakeExecutor{},
		config:          Config{EnableEventBus: true},
		logger:          zap.NewNop(),
		eventBus:        bus,
		asyncExecutions: make(map[string]*ProcessContext),
	}
	stateMachine := f.createStateMachine()
	pCtx := NewProcessContext("compare AAPL and MSFT")
	_, err = stateMachine.Execute(context.Background(), pCtx)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	// Wait briefly for events to be processed
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	if !emitted[eventbus.EventQueryProcessingStarted] {
		t.Error("expected query processing started event")
	}
	if !emitted[eventbus.EventDecompositionSuccess] {
		t.Error("expected decomposition success event")
	}
	if !emitted[eventbus.EventQueryProcessingSuccess] {
		t.Error("expected query processing success event")
	}
	mu.Unlock()
}

func TestExecuteAsyncLifecycle(t *testing.T) {
	f := &FinHop{
		decomposer:      &fakeDecomposer{subQueries: comparisonSubQueries()},
		executor:        &fakeExecutor{},
		config:          Config{EnableEventBus: false},
		logger:          zap.NewNop(),
		asyncExecutions: make(map[string]*ProcessContext),
	}

	id, err := f.ExecuteAsync(context.Background(), "compare AAPL and MSFT")
	if err != nil {
		t.Fatalf("ExecuteAsync failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err := f.GetAsyncStatus(id)
		if err != nil {
			t.Fatalf("GetAsyncStatus failed: %v", err)
		}
		if status.IsComplete {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("async execution did not complete, state: %s", status.CurrentState)
		}
		time.Sleep(5 * time.Millisecond)
	}

	result, err := f.GetAsyncResult(id)
	if err != nil {
		t.Fatalf("GetAsyncResult failed: %v", err)
	}
	if !result.Success {
		t.Errorf("expected successful async result, got %+v", result)
	}

	if n := f.CleanupCompletedExecutions(0); n != 1 {
		t.Errorf("expected cleanup of 1 execution, got %d", n)
	}
	if _, err := f.GetAsyncStatus(id); err == nil {
		t.Error("expected status lookup to fail after cleanup")
	}
}
