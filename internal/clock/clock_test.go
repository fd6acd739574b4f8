package clock

import (
	"context"
	"testing"
	"time"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	var order []string
	f.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	f.AfterFunc(time.Second, func() {
		order = append(order, "a")
		f.AfterFunc(500*time.Millisecond, func() { order = append(order, "a2") })
	})
	f.AfterFunc(5*time.Second, func() { order = append(order, "late") })

	f.Advance(2 * time.Second)

	want := []string{"a", "a2", "b"}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, order)
			break
		}
	}
	if f.Pending() != 1 {
		t.Errorf("Expected 1 pending timer, got %d", f.Pending())
	}
	if got := f.Now(); !got.Equal(start.Add(2 * time.Second)) {
		t.Errorf("Expected clock at +2s, got %v", got)
	}
}

func TestFake_Stop(t *testing.T) {
	f := NewFake(time.Time{})
	fired := false
	timer := f.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Expected Stop to report an active timer")
	}
	if timer.Stop() {
		t.Error("Expected second Stop to report false")
	}
	f.Advance(time.Minute)
	if fired {
		t.Error("Expected stopped timer not to fire")
	}
}

func TestFake_SleepHonorsCancel(t *testing.T) {
	f := NewFake(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.Sleep(ctx, time.Second); err == nil {
		t.Error("Expected error from cancelled context")
	}
	if !f.Now().IsZero() {
		t.Error("Expected clock not to advance after cancel")
	}
}

func TestReal_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Real().Sleep(ctx, time.Hour); err == nil {
		t.Error("Expected cancelled sleep to return an error")
	}
}
