// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"
)

func noop() error { return nil }

func mustDef(t *testing.T, name string) *Definition {
	t.Helper()
	d, err := NewDefinition(name, ModeAverageTime, noop)
	if err != nil {
		t.Fatalf("NewDefinition(%q) failed: %v", name, err)
	}
	return d
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"throughput", ModeThroughput, false},
		{"THRPT", ModeThroughput, false},
		{"avgtime", ModeAverageTime, false},
		{"average-time", ModeAverageTime, false},
		{"singleshot", ModeSingleShot, false},
		{"single-shot", ModeSingleShot, false},
		{"sampletime", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) err = %v", tt.in, err)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidMode) {
				t.Errorf("expected ErrInvalidMode, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewDefinition(t *testing.T) {
	t.Run("valid with hooks in order", func(t *testing.T) {
		var order []string
		h := func(tag string) Hook {
			return func(ctx context.Context) error {
				order = append(order, tag)
				return nil
			}
		}
		d, err := NewDefinition("pkg.Bench", ModeThroughput, noop,
			WithSetup(h("s1"), h("s2")),
			WithSetup(h("s3")),
			WithTeardown(h("t1")),
			WithParam("size", "64"),
		)
		if err != nil {
			t.Fatalf("NewDefinition failed: %v", err)
		}
		for _, hook := range d.Setup() {
			_ = hook(context.Background())
		}
		for _, hook := range d.Teardown() {
			_ = hook(context.Background())
		}
		want := []string{"s1", "s2", "s3", "t1"}
		if len(order) != len(want) {
			t.Fatalf("hook order = %v, want %v", order, want)
		}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("hook order = %v, want %v", order, want)
			}
		}
		if v, ok := d.Param("size"); !ok || v != "64" {
			t.Errorf("Param(size) = %q, %v", v, ok)
		}
	})

	t.Run("accessors return copies", func(t *testing.T) {
		d, _ := NewDefinition("copy", ModeAverageTime, noop,
			WithSetup(func(ctx context.Context) error { return nil }))
		hooks := d.Setup()
		hooks[0] = nil
		if d.Setup()[0] == nil {
			t.Error("mutating Setup() result changed the definition")
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := NewDefinition(" ", ModeThroughput, noop); !errors.Is(err, ErrEmptyName) {
			t.Errorf("empty name: got %v", err)
		}
		if _, err := NewDefinition("x", Mode("bogus"), noop); !errors.Is(err, ErrInvalidMode) {
			t.Errorf("bad mode: got %v", err)
		}
		if _, err := NewDefinition("x", ModeThroughput, nil); !errors.Is(err, ErrNilOperation) {
			t.Errorf("nil op: got %v", err)
		}
		if _, err := NewDefinition("x", ModeThroughput, noop, WithTeardown(nil)); !errors.Is(err, ErrNilOperation) {
			t.Errorf("nil hook: got %v", err)
		}
	})

	t.Run("must panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("MustDefinition did not panic")
			}
		}()
		MustDefinition("", ModeThroughput, noop)
	})
}

func TestIterationConfig(t *testing.T) {
	t.Run("defaults valid", func(t *testing.T) {
		c := DefaultIterationConfig()
		if err := c.Validate(); err != nil {
			t.Fatalf("default config invalid: %v", err)
		}
		if c.Warmup != 5 || c.Measurement != 10 || c.BatchSize != 1 {
			t.Errorf("unexpected defaults: %+v", c)
		}
	})

	t.Run("batch clamped", func(t *testing.T) {
		c := IterationConfig{Measurement: 1, BatchSize: 0}.Normalize()
		if c.BatchSize != 1 {
			t.Errorf("BatchSize = %d, want 1", c.BatchSize)
		}
		if c.MaxBatchSize != DefaultMaxBatchSize {
			t.Errorf("MaxBatchSize = %d", c.MaxBatchSize)
		}
		c = IterationConfig{BatchSize: 64, MaxBatchSize: 8}.Normalize()
		if c.MaxBatchSize != 64 {
			t.Errorf("MaxBatchSize = %d, want 64", c.MaxBatchSize)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		c := IterationConfig{Warmup: -1, Measurement: 0, TimeBudget: -time.Second}
		err := c.Validate()
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestSample(t *testing.T) {
	s := NewSample(-5, 0)
	if s.Duration != 0 || s.Ops != 1 {
		t.Errorf("NewSample clamp = %+v", s)
	}
	s = NewSample(100*time.Nanosecond, 4)
	if got := s.PerOp(); got != 25 {
		t.Errorf("PerOp = %v, want 25", got)
	}
}

func TestLifecycle(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		var seen []LifecycleState
		l := NewLifecycle("b", func(_ string, _, to LifecycleState) {
			seen = append(seen, to)
		})
		for _, s := range []LifecycleState{StateSettingUp, StateReady, StateMeasuring, StateTearingDown, StateDone} {
			if err := l.Transition(s); err != nil {
				t.Fatalf("Transition(%s) failed: %v", s, err)
			}
		}
		if !l.State().Terminal() {
			t.Error("Done should be terminal")
		}
		if len(seen) != 5 || len(l.History()) != 6 {
			t.Errorf("observer saw %v, history %v", seen, l.History())
		}
	})

	t.Run("errored reachable", func(t *testing.T) {
		for _, from := range []LifecycleState{StateSettingUp, StateMeasuring, StateTearingDown} {
			if !CanTransition(from, StateErrored) {
				t.Errorf("%s -> errored should be legal", from)
			}
		}
		for _, from := range []LifecycleState{StateCreated, StateReady, StateDone, StateErrored} {
			if CanTransition(from, StateErrored) {
				t.Errorf("%s -> errored should be illegal", from)
			}
		}
	})

	t.Run("illegal transition", func(t *testing.T) {
		l := NewLifecycle("b", nil)
		err := l.Transition(StateMeasuring)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if l.State() != StateCreated {
			t.Errorf("state changed on illegal transition: %s", l.State())
		}
	})
}

func TestLifecycleError(t *testing.T) {
	base := context.Canceled
	err := error(NewLifecycleError(FailureCancelled, "b", base))
	if !errors.Is(err, context.Canceled) {
		t.Error("LifecycleError should unwrap to its cause")
	}
	kind, ok := KindOf(err)
	if !ok || kind != FailureCancelled {
		t.Errorf("KindOf = %q, %v", kind, ok)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("KindOf should fail on plain errors")
	}
	pe := &PanicError{Value: errors.New("boom")}
	if pe.Unwrap() == nil || pe.Error() != "panic: boom" {
		t.Errorf("PanicError = %q", pe.Error())
	}
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"C", "A", "B"} {
		if err := r.Register(mustDef(t, name)); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}
	got := r.Names()
	want := []string{"C", "A", "B"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
	if len(r.ListBenchmarks()) != 3 {
		t.Errorf("ListBenchmarks len = %d", len(r.ListBenchmarks()))
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); !errors.Is(err, ErrNilDefinition) {
		t.Errorf("nil: got %v", err)
	}
	r.MustRegister(mustDef(t, "dup"))
	if err := r.Register(mustDef(t, "dup")); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("dup: got %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on duplicate")
		}
	}()
	r.MustRegister(mustDef(t, "dup"))
}

func TestRegistry_UnregisterKeepsOrder(t *testing.T) {
	r := NewRegistry()
	var events []string
	r.AddHook(func(def *Definition, registered bool) {
		if registered {
			events = append(events, "+"+def.Name())
		} else {
			events = append(events, "-"+def.Name())
		}
	})
	for _, name := range []string{"A", "B", "C", "D"} {
		r.MustRegister(mustDef(t, name))
	}
	if err := r.Unregister("B"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if err := r.Unregister("B"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Unregister: got %v", err)
	}
	if d, ok := r.Get("D"); !ok || d.Name() != "D" {
		t.Error("Get(D) failed after unregister")
	}
	names := r.Names()
	if len(names) != 3 || names[0] != "A" || names[1] != "C" || names[2] != "D" {
		t.Errorf("Names() = %v", names)
	}
	if len(events) != 5 || events[4] != "-B" {
		t.Errorf("hook events = %v", events)
	}
}

func TestRegistry_Filter(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"math.Sqrt", "crypto.SHA256", "math.Cos"} {
		r.MustRegister(mustDef(t, name))
	}
	f := r.Filter(regexp.MustCompile(`^math\.`))
	names := f.Names()
	if len(names) != 2 || names[0] != "math.Sqrt" || names[1] != "math.Cos" {
		t.Errorf("Filter names = %v", names)
	}
	if _, ok := f.Get("math.Cos"); !ok {
		t.Error("filtered registry lost index")
	}
	if r.Filter(nil).Count() != 3 {
		t.Error("nil pattern should match all")
	}
}
