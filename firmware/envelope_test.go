package firmware

import "testing"

func TestEnvelopeAdvance_Interpolates(t *testing.T) {
	env := NewEnvelope(Point{0, 0}, Point{10, 100})
	var tick uint16
	var point uint8

	var v float64
	for i := 0; i < 5; i++ {
		v = env.Advance(&tick, &point, false)
	}
	if tick != 5 || v != 50 {
		t.Errorf("tick 5: got tick=%d value=%v, want 50", tick, v)
	}

	for i := 0; i < 5; i++ {
		v = env.Advance(&tick, &point, false)
	}
	if v != 100 || point != 1 {
		t.Errorf("tick 10: got value=%v point=%d, want 100 at point 1", v, point)
	}

	for i := 0; i < 20; i++ {
		if v = env.Advance(&tick, &point, false); v != 100 {
			t.Fatalf("hold after last point: got %v, want 100", v)
		}
	}
	if tick != 10 {
		t.Errorf("tick moved past last point: %d", tick)
	}
}

func TestEnvelopeAdvance_Loop(t *testing.T) {
	env := NewEnvelope(Point{0, 0}, Point{2, 1}, Point{4, 2}, Point{6, 3})
	env.LoopStart = 1
	env.LoopEnd = 3
	var tick uint16
	var point uint8

	// Reach point 2 at tick 4
	for i := 0; i < 4; i++ {
		env.Advance(&tick, &point, false)
	}
	if point != 2 {
		t.Fatalf("point: got %d, want 2", point)
	}

	for cycle := 0; cycle < 5; cycle++ {
		env.Advance(&tick, &point, false)
		v := env.Advance(&tick, &point, false)
		if point != 1 || tick != 2 || v != 1 {
			t.Fatalf("cycle %d: got point=%d tick=%d value=%v, want point 1 tick 2 value 1",
				cycle, point, tick, v)
		}
		env.Advance(&tick, &point, false)
		env.Advance(&tick, &point, false)
		if point != 2 {
			t.Fatalf("cycle %d: got point %d, want 2", cycle, point)
		}
	}

	// Released: runs through loop end to the last point
	env.Advance(&tick, &point, true)
	v := env.Advance(&tick, &point, true)
	if point != 3 || v != 3 {
		t.Errorf("released: got point=%d value=%v, want point 3 value 3", point, v)
	}
	if !env.Done(point) {
		t.Error("released envelope should be done")
	}
}

func TestEnvelopeAdvance_SustainHold(t *testing.T) {
	env := NewEnvelope(Point{0, 0}, Point{2, 1}, Point{4, 0})
	env.Sustain = 1
	var tick uint16
	var point uint8

	for i := 0; i < 10; i++ {
		env.Advance(&tick, &point, false)
	}
	if point != 1 || tick != 2 {
		t.Fatalf("held: got point=%d tick=%d, want point 1 tick 2", point, tick)
	}

	env.Advance(&tick, &point, true)
	v := env.Advance(&tick, &point, true)
	if point != 2 || v != 0 {
		t.Errorf("released: got point=%d value=%v, want point 2 value 0", point, v)
	}
}

func TestEnvelopeAdvance_SinglePoint(t *testing.T) {
	env := NewEnvelope(Point{0, 0.25})
	var tick uint16
	var point uint8
	if v := env.Advance(&tick, &point, false); v != 0.25 {
		t.Errorf("got %v, want 0.25", v)
	}
	if tick != 0 {
		t.Errorf("tick moved on a single-point envelope: %d", tick)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	good := NewEnvelope(Point{0, 0}, Point{5, 1})
	if err := good.Validate(); err != nil {
		t.Errorf("valid envelope: %v", err)
	}

	backwards := NewEnvelope(Point{5, 0}, Point{2, 1})
	if err := backwards.Validate(); err == nil {
		t.Error("decreasing ticks accepted")
	}

	badLoop := NewEnvelope(Point{0, 0}, Point{5, 1})
	badLoop.LoopEnd = 4
	if err := badLoop.Validate(); err == nil {
		t.Error("loop end beyond point count accepted")
	}

	tooMany := Envelope{Count: MaxPoints + 1, Sustain: NoIndex, LoopStart: NoIndex, LoopEnd: NoIndex}
	if err := tooMany.Validate(); err == nil {
		t.Error("point count above capacity accepted")
	}
}
