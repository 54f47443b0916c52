// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/store"
)

type fakeCounter struct {
	counts map[string]int
	fail   map[string]error
}

func (f *fakeCounter) CountSince(_ context.Context, reiID string, typ core.MemoryType, _ *time.Time) (int, error) {
	if typ != core.MemoryLearning {
		return 0, stderrors.New("unexpected memory type")
	}
	if err := f.fail[reiID]; err != nil {
		return 0, err
	}
	return f.counts[reiID], nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	name  string
	calls []string
	fail  map[string]error
}

func (f *fakeExecutor) Execute(_ context.Context, reiID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reiID)
	if err := f.fail[reiID]; err != nil {
		return "", err
	}
	return f.name + " done", nil
}

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

type harness struct {
	store    *store.MemoryStore
	counter  *fakeCounter
	learner  *fakeExecutor
	digester *fakeExecutor
	sleeper  *recordingSleep
	ids      map[string]string
}

func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemoryStore(),
		counter:  &fakeCounter{counts: map[string]int{}, fail: map[string]error{}},
		learner:  &fakeExecutor{name: "learn", fail: map[string]error{}},
		digester: &fakeExecutor{name: "digest", fail: map[string]error{}},
		sleeper:  &recordingSleep{},
		ids:      map[string]string{},
	}
	for _, name := range names {
		rei, err := h.store.Save(context.Background(), &core.Rei{Name: name, Role: "tester"})
		if err != nil {
			t.Fatalf("save rei: %v", err)
		}
		h.ids[name] = rei.ID
	}
	return h
}

func (h *harness) setState(t *testing.T, name string, mutate func(*core.ResourceState)) {
	t.Helper()
	st, err := h.store.FindState(context.Background(), h.ids[name])
	if err != nil {
		t.Fatalf("find state: %v", err)
	}
	mutate(st)
	if err := h.store.SaveState(context.Background(), st); err != nil {
		t.Fatalf("save state: %v", err)
	}
}

func (h *harness) runner(cfg Config) *Runner {
	return NewRunner(Deps{
		Reis:     h.store,
		States:   h.store,
		Memories: h.counter,
		Learner:  h.learner,
		Digester: h.digester,
		Jitter:   NewJitterSource(42),
		Sleep:    h.sleeper.sleep,
	}, cfg)
}

func TestRunCycleDecidesPerRei(t *testing.T) {
	h := newHarness(t, "ada", "bob", "cyd", "dee")
	// ada learns at full energy.
	// bob digests: 90 energy after regen and 6 undigested memories.
	h.setState(t, "bob", func(s *core.ResourceState) { s.EnergyLevel = 80 })
	h.counter.counts[h.ids["bob"]] = 6
	// cyd rests on low energy even after regen.
	h.setState(t, "cyd", func(s *core.ResourceState) { s.EnergyLevel = 20 })
	// dee rests on an exhausted token budget.
	h.setState(t, "dee", func(s *core.ResourceState) { s.TokensUsed = s.TokenBudget })

	report, err := h.runner(DefaultConfig()).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	wantActions := []string{ResultLearn, ResultDigest, ResultRest, ResultRest}
	var gotActions []string
	for _, r := range report.Results {
		gotActions = append(gotActions, r.Action)
		if !r.Success {
			t.Errorf("expected success for %s, got %+v", r.ReiName, r)
		}
	}
	if diff := cmp.Diff(wantActions, gotActions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	want := Summary{ReisProcessed: 4, LearnsExecuted: 1, DigestsExecuted: 1, RestsSkipped: 2}
	if diff := cmp.Diff(want, report.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if report.Results[0].Details != "learn done" || report.Results[2].Details == "" {
		t.Errorf("unexpected details %+v", report.Results)
	}

	st, _ := h.store.FindState(context.Background(), h.ids["cyd"])
	if st.EnergyLevel != 30 {
		t.Errorf("expected regeneration before deciding, got energy %d", st.EnergyLevel)
	}
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	h := newHarness(t, "ada", "bob", "cyd")
	h.learner.fail[h.ids["bob"]] = stderrors.New("search quota exhausted")

	report, err := h.runner(DefaultConfig()).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Summary.Errors != 1 || report.Summary.LearnsExecuted != 2 || report.Summary.ReisProcessed != 3 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}
	got := report.Results[1]
	want := Result{ReiName: "bob", Action: ResultLearn, Success: false, Details: "search quota exhausted"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("failed result mismatch (-want +got):\n%s", diff)
	}
	if len(h.learner.calls) != 3 {
		t.Errorf("expected every rei to be attempted, got %v", h.learner.calls)
	}
}

func TestRunCycleMissingState(t *testing.T) {
	h := newHarness(t, "ada", "bob")
	h.store.DeleteState(context.Background(), h.ids["ada"])

	report, err := h.runner(DefaultConfig()).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	want := Result{ReiName: "ada", Action: ResultSkip, Details: "No state found"}
	if diff := cmp.Diff(want, report.Results[0]); diff != "" {
		t.Errorf("skip result mismatch (-want +got):\n%s", diff)
	}
	if !report.Results[1].Success || report.Summary.Errors != 1 {
		t.Errorf("expected bob to proceed, got %+v", report)
	}
}

func TestRunCycleCountFailureCountsAsZero(t *testing.T) {
	h := newHarness(t, "ada")
	h.counter.counts[h.ids["ada"]] = 10
	h.counter.fail[h.ids["ada"]] = stderrors.New("qdrant down")

	report, err := h.runner(DefaultConfig()).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Results[0].Action != ResultLearn {
		t.Errorf("expected learn with zero memories counted, got %+v", report.Results[0])
	}
}

func TestRunCycleJitterBetweenReis(t *testing.T) {
	h := newHarness(t, "ada", "bob", "cyd")
	cfg := DefaultConfig()

	if _, err := h.runner(cfg).RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(h.sleeper.delays) != 2 {
		t.Fatalf("expected a pause before every rei but the first, got %d", len(h.sleeper.delays))
	}
	ref := NewJitterSource(42)
	for i, d := range h.sleeper.delays {
		if d < 0 || d >= cfg.JitterMax {
			t.Errorf("delay %v outside [0, %v)", d, cfg.JitterMax)
		}
		if want := ref.Next(cfg.JitterMax); d != want {
			t.Errorf("delay %d: expected %v from the seeded source, got %v", i, want, d)
		}
	}
}

func TestRunCycleUnavailable(t *testing.T) {
	h := newHarness(t, "ada")
	r := NewRunner(Deps{Reis: h.store, States: h.store, Learner: h.learner, Digester: h.digester}, DefaultConfig())

	_, err := r.RunCycle(context.Background())
	if !stderrors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if kerr := errors.AsKaibaError(err); kerr == nil || kerr.StatusCode != 503 {
		t.Errorf("expected a 503 error, got %v", kerr)
	}
	if len(h.learner.calls) != 0 {
		t.Errorf("expected no rei processed")
	}
	st, _ := h.store.FindState(context.Background(), h.ids["ada"])
	if st.EnergyLevel != 100 {
		t.Errorf("expected state untouched")
	}
}

func TestRunCycleSingleFlight(t *testing.T) {
	h := newHarness(t, "ada")
	locker := NewLocalLocker()
	unlock, ok, err := locker.TryLock(context.Background(), CycleLockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("take lock: ok=%v err=%v", ok, err)
	}

	cfg := DefaultConfig()
	cfg.SingleFlight = true
	r := NewRunner(Deps{
		Reis: h.store, States: h.store, Memories: h.counter,
		Learner: h.learner, Digester: h.digester, Locker: locker, Sleep: h.sleeper.sleep,
	}, cfg)

	if _, err := r.RunCycle(context.Background()); !stderrors.Is(err, ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}
	if err := unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("expected cycle after release, got %v", err)
	}
	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("expected the lock to be released after a cycle, got %v", err)
	}
}

func TestLocalLockerExpires(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	stale, ok, _ := l.TryLock(context.Background(), "k", time.Minute)
	if !ok {
		t.Fatalf("expected first lock")
	}
	if _, ok, _ := l.TryLock(context.Background(), "k", time.Minute); ok {
		t.Fatalf("expected lock to be held")
	}
	now = now.Add(2 * time.Minute)
	fresh, ok, _ := l.TryLock(context.Background(), "k", time.Minute)
	if !ok {
		t.Fatalf("expected expired lock to be taken over")
	}
	_ = stale(context.Background())
	if _, ok, _ := l.TryLock(context.Background(), "k", time.Minute); ok {
		t.Fatalf("stale unlock must not release the new holder")
	}
	_ = fresh(context.Background())
	if _, ok, _ := l.TryLock(context.Background(), "k", time.Minute); !ok {
		t.Fatalf("expected lock after release")
	}
}

func TestJitterSourceDeterministic(t *testing.T) {
	a, b := NewJitterSource(7), NewJitterSource(7)
	for range 20 {
		da, db := a.Next(time.Second), b.Next(time.Second)
		if da != db {
			t.Fatalf("expected equal sequences, got %v and %v", da, db)
		}
		if da < 0 || da >= time.Second {
			t.Fatalf("delay %v out of range", da)
		}
	}
	if d := a.Next(0); d != 0 {
		t.Fatalf("expected zero for empty range, got %v", d)
	}
}

func TestReportJSON(t *testing.T) {
	r := &Report{
		TriggeredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Results:     []Result{{ReiName: "ada", Action: ResultRest, Success: true, Details: "Default to rest"}},
		Summary:     Summary{ReisProcessed: 1, RestsSkipped: 1},
	}
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{
		"triggered_at": "2026-03-01T12:00:00Z",
		"results": []any{map[string]any{
			"rei_name": "ada", "action": "Rest", "success": true, "details": "Default to rest",
		}},
		"summary": map[string]any{
			"reis_processed": 1.0, "learns_executed": 0.0, "digests_executed": 0.0,
			"rests_skipped": 1.0, "errors": 0.0,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report json mismatch (-want +got):\n%s", diff)
	}
}

type countingCycler struct {
	n atomic.Int32
}

func (c *countingCycler) RunCycle(ctx context.Context) (*Report, error) {
	c.n.Add(1)
	return &Report{}, ctx.Err()
}

func TestWorkerTicksAfterInterval(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := &countingCycler{}
	w := NewWorker(c, 20*time.Millisecond)
	w.Start(context.Background())
	if got := c.n.Load(); got != 0 {
		t.Fatalf("expected no immediate cycle, got %d", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
	if c.n.Load() < 2 {
		t.Fatalf("expected periodic cycles, got %d", c.n.Load())
	}
	after := c.n.Load()
	time.Sleep(50 * time.Millisecond)
	if c.n.Load() != after {
		t.Fatalf("expected no cycles after Stop")
	}
	w.Stop()
}

func TestWorkerDisabledWithoutInterval(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := &countingCycler{}
	w := NewWorker(c, 0)
	w.Start(context.Background())
	w.Stop()
	if c.n.Load() != 0 {
		t.Fatalf("expected no cycles")
	}
}
