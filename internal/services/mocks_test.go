package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"stackctl/internal/config"
	"stackctl/internal/runtime"
	"stackctl/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	os.Exit(m.Run())
}

type probeResult struct {
	ok  bool
	err error
}

// fakeAdapter is a scripted runtime.Adapter. Start failures come from
// startErrs (consumed one per call, exhausted entries succeed, or
// failAll for a permanently broken unit); health verdicts come from
// checkScript (the last entry repeats once exhausted).
type fakeAdapter struct {
	mu sync.Mutex

	startErrs []error
	failAll   error
	nextID    int

	startTimes  []time.Time
	checkCalls  int
	checkScript []probeResult

	stopErr     error
	stopHandles []runtime.Handle
	killHandles []runtime.Handle
}

func (f *fakeAdapter) Start(_ context.Context, name string, _ config.RuntimeResources) (runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.startTimes = append(f.startTimes, time.Now())

	if f.failAll != nil {
		return "", &runtime.StartError{Name: name, Err: f.failAll}
	}
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return "", &runtime.StartError{Name: name, Err: err}
		}
	}

	f.nextID++
	return runtime.Handle(fmt.Sprintf("unit-%d", f.nextID)), nil
}

func (f *fakeAdapter) Stop(_ context.Context, h runtime.Handle, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopHandles = append(f.stopHandles, h)
	return f.stopErr
}

func (f *fakeAdapter) RunCheck(_ context.Context, _ runtime.Handle, _ []string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checkCalls++
	if len(f.checkScript) == 0 {
		return true, nil
	}
	res := f.checkScript[0]
	if len(f.checkScript) > 1 {
		f.checkScript = f.checkScript[1:]
	}
	return res.ok, res.err
}

func (f *fakeAdapter) ForceKill(h runtime.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killHandles = append(f.killHandles, h)
	return nil
}

func (f *fakeAdapter) starts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.startTimes))
	copy(out, f.startTimes)
	return out
}

func (f *fakeAdapter) checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls
}

func (f *fakeAdapter) stopped() []runtime.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtime.Handle, len(f.stopHandles))
	copy(out, f.stopHandles)
	return out
}

func (f *fakeAdapter) killed() []runtime.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtime.Handle, len(f.killHandles))
	copy(out, f.killHandles)
	return out
}

// transitionRecorder captures every published transition and lets tests
// block until a given phase appears.
type transitionRecorder struct {
	mu  sync.Mutex
	all []Transition
	ch  chan Transition
}

func newTransitionRecorder() *transitionRecorder {
	return &transitionRecorder{ch: make(chan Transition, 64)}
}

func (r *transitionRecorder) record(t Transition) {
	r.mu.Lock()
	r.all = append(r.all, t)
	r.mu.Unlock()
	r.ch <- t
}

func (r *transitionRecorder) await(t *testing.T, phase Phase) Transition {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tr := <-r.ch:
			if tr.NewPhase == phase {
				return tr
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s (saw %v)", phase, r.phases())
			return Transition{}
		}
	}
}

func (r *transitionRecorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, 0, len(r.all))
	for _, t := range r.all {
		out = append(out, t.NewPhase)
	}
	return out
}
