package seqnum

import "testing"

func TestLessThan(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{0, 0, false},
		{0xfffffffe, 0xffffffff, true},
		{0xffffffff, 0, true},  // wraps: 0 is "after" max uint32
		{0, 0xffffffff, false}, // the reverse does not hold
	}
	for _, c := range cases {
		if got := c.a.LessThan(c.b); got != c.want {
			t.Errorf("%d.LessThan(%d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestAddAndSize(t *testing.T) {
	v := Value(10)
	if got := v.Add(5); got != 15 {
		t.Errorf("Add: got %d want 15", got)
	}
	if got := v.Size(15); got != 5 {
		t.Errorf("Size: got %d want 5", got)
	}
	// wraparound
	v = Value(0xfffffffe)
	if got := v.Add(4); got != 2 {
		t.Errorf("Add wrap: got %d want 2", got)
	}
}

func TestInRange(t *testing.T) {
	// [10, 20)
	if !Value(10).InRange(10, 20) {
		t.Error("lower bound should be in range")
	}
	if Value(20).InRange(10, 20) {
		t.Error("upper bound should be exclusive")
	}
	if !Value(15).InRange(10, 20) {
		t.Error("15 should be in [10,20)")
	}
	if Value(9).InRange(10, 20) {
		t.Error("9 should not be in [10,20)")
	}

	// wraparound window near the top of the space
	if !Value(0xfffffffe).InRange(0xfffffffa, 5) {
		t.Error("wraparound value should be in range")
	}
	if !Value(2).InRange(0xfffffffa, 5) {
		t.Error("wrapped low value should be in range")
	}
	if Value(5).InRange(0xfffffffa, 5) {
		t.Error("upper bound should be exclusive across wrap")
	}
}
