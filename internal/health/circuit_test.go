package health

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestServiceBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := newServiceBreaker("svc", 2, 10*time.Millisecond, 100*time.Millisecond)

	fail := func() (any, error) { return nil, errors.New("down") }
	b.Execute(fail)
	b.Execute(fail)

	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want Open after 2 consecutive failures", b.State())
	}
}

func TestServiceBreaker_RecoversOnSuccessAfterCooldown(t *testing.T) {
	b := newServiceBreaker("svc", 1, 5*time.Millisecond, 50*time.Millisecond)

	b.Execute(func() (any, error) { return nil, errors.New("down") })
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want Open", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	_, err := b.Execute(func() (any, error) { return true, nil })
	if err != nil {
		t.Fatalf("Execute after cooldown: %v", err)
	}
	if b.State() != gobreaker.StateClosed {
		t.Fatalf("state = %v, want Closed after successful half-open probe", b.State())
	}
}

func TestCircuitStateValue_MapsAllStates(t *testing.T) {
	cases := map[gobreaker.State]float64{
		gobreaker.StateClosed:   0,
		gobreaker.StateHalfOpen: 1,
		gobreaker.StateOpen:     2,
	}
	for state, want := range cases {
		if got := circuitStateValue(state); got != want {
			t.Errorf("circuitStateValue(%v) = %v, want %v", state, got, want)
		}
	}
}
