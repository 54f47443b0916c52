// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestDispatchIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	good, goodCalls := statusServer(t, http.StatusOK)
	bad, badCalls := statusServer(t, http.StatusInternalServerError)
	other, otherCalls := statusServer(t, http.StatusOK)

	repo := NewMemoryRepository()
	okHook := New("rei-1", "ok", good.URL)
	failHook := New("rei-1", "fail", bad.URL)
	failHook.MaxRetries = 1
	disabled := New("rei-1", "off", other.URL)
	disabled.Enabled = false
	unsubscribed := New("rei-1", "memories", other.URL)
	unsubscribed.Events = []EventType{EventMemoryAdded}
	foreign := New("rei-2", "foreign", other.URL)
	for _, wh := range []*Webhook{okHook, failHook, disabled, unsubscribed, foreign} {
		if _, err := repo.Save(ctx, wh); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	d := NewDispatcher(repo, newTestDeliverer(&sleepRecorder{}), 2)
	deliveries, err := d.Dispatch(ctx, "rei-1", EventLearningCompleted, map[string]any{"queries": 3})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliveries))
	}
	byHook := map[string]*Delivery{}
	for _, del := range deliveries {
		byHook[del.WebhookID] = del
	}
	if byHook[okHook.ID].Status != StatusSuccess {
		t.Errorf("expected success for healthy endpoint, got %s", byHook[okHook.ID].Status)
	}
	if byHook[failHook.ID].Status != StatusFailed || byHook[failHook.ID].Attempts != 2 {
		t.Errorf("expected failed after 2 attempts, got %+v", byHook[failHook.ID])
	}
	if atomic.LoadInt64(goodCalls) != 1 || atomic.LoadInt64(badCalls) != 2 || atomic.LoadInt64(otherCalls) != 0 {
		t.Errorf("unexpected call counts good=%d bad=%d other=%d",
			atomic.LoadInt64(goodCalls), atomic.LoadInt64(badCalls), atomic.LoadInt64(otherCalls))
	}

	for _, wh := range []*Webhook{okHook, failHook} {
		stored, err := repo.FindDeliveries(ctx, wh.ID, 10)
		if err != nil || len(stored) != 1 {
			t.Fatalf("expected one persisted delivery for %s, got %d (%v)", wh.Name, len(stored), err)
		}
		if !stored[0].Status.Terminal() {
			t.Errorf("expected final record to be persisted, got %s", stored[0].Status)
		}
	}
	pending, _ := repo.FindPendingDeliveries(ctx)
	if len(pending) != 0 {
		t.Errorf("expected no pending deliveries, got %d", len(pending))
	}
}

func TestDispatchNoSubscribers(t *testing.T) {
	d := NewDispatcher(NewMemoryRepository(), newTestDeliverer(&sleepRecorder{}), 0)
	out, err := d.Dispatch(context.Background(), "rei", EventStateChanged, nil)
	if err != nil || out != nil {
		t.Fatalf("expected nothing to do, got %v %v", out, err)
	}
}

func TestNotifyRunsInBackground(t *testing.T) {
	srv, calls := statusServer(t, http.StatusOK)
	repo := NewMemoryRepository()
	if _, err := repo.Save(context.Background(), New("rei", "ok", srv.URL)); err != nil {
		t.Fatalf("save: %v", err)
	}
	d := NewDispatcher(repo, newTestDeliverer(&sleepRecorder{}), 1)

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, "rei", EventMemoryAdded, map[string]string{"id": "m1"})
	cancel()
	d.Wait()

	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("expected delivery despite canceled caller context, got %d calls", atomic.LoadInt64(calls))
	}
}

func TestSweeperResumesInterruptedDeliveries(t *testing.T) {
	ctx := context.Background()
	srv, calls := statusServer(t, http.StatusOK)
	repo := NewMemoryRepository()
	wh, _ := repo.Save(ctx, New("rei", "ok", srv.URL))
	gone := New("rei", "gone", srv.URL)

	stuck := NewDelivery(wh.ID, NewPayload(EventStateChanged, "rei", nil))
	stuck.Status = StatusRetrying
	stuck.Attempts = 1
	stuck.CreatedAt = time.Now().Add(-time.Hour)
	orphan := NewDelivery(gone.ID, NewPayload(EventStateChanged, "rei", nil))
	orphan.CreatedAt = time.Now().Add(-time.Hour)
	fresh := NewDelivery(wh.ID, NewPayload(EventStateChanged, "rei", nil))
	for _, d := range []*Delivery{stuck, orphan, fresh} {
		_ = repo.SaveDelivery(ctx, d)
	}

	s := NewSweeper(repo, newTestDeliverer(&sleepRecorder{}), SweeperConfig{MinAge: time.Minute})
	resumed, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if resumed != 1 || atomic.LoadInt64(calls) != 1 {
		t.Fatalf("expected one resumed delivery, got %d (calls %d)", resumed, atomic.LoadInt64(calls))
	}
	pending, _ := repo.FindPendingDeliveries(ctx)
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh delivery to remain pending, got %d", len(pending))
	}
	done, _ := repo.FindDeliveries(ctx, wh.ID, 10)
	for _, d := range done {
		if d.ID == stuck.ID && (d.Status != StatusSuccess || d.Attempts != 2) {
			t.Errorf("expected resumed delivery to succeed on attempt 2, got %s/%d", d.Status, d.Attempts)
		}
	}
	abandoned, _ := repo.FindDeliveries(ctx, gone.ID, 10)
	if len(abandoned) != 1 || abandoned[0].Status != StatusFailed {
		t.Errorf("expected orphaned delivery to be failed, got %+v", abandoned)
	}
}

func TestSweeperStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewSweeper(NewMemoryRepository(), newTestDeliverer(&sleepRecorder{}), SweeperConfig{Interval: 5 * time.Millisecond})
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()

	disabled := NewSweeper(NewMemoryRepository(), newTestDeliverer(&sleepRecorder{}), SweeperConfig{})
	disabled.Start(context.Background())
	disabled.Stop()
}
