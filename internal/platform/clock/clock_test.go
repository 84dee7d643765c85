package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	ch := fake.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before advance")
	default:
	}

	fake.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before deadline")
	default:
	}

	fake.Advance(5 * time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(10 * time.Second)) {
			t.Fatalf("fired at %s, want %s", got, start.Add(10*time.Second))
		}
	default:
		t.Fatal("expected waiter to fire at deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	select {
	case <-fake.After(0):
	default:
		t.Fatal("expected immediate fire")
	}
}

func TestFakeSet(t *testing.T) {
	fake := NewFake(time.Unix(100, 0))
	fake.Set(time.Unix(160, 0))
	if got := fake.Now().Unix(); got != 160 {
		t.Fatalf("now = %d, want 160", got)
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(realClock); !ok {
		t.Fatal("expected real clock for nil")
	}
	fake := NewFake(time.Unix(0, 0))
	if OrReal(fake) != Clock(fake) {
		t.Fatal("expected provided clock to pass through")
	}
}
