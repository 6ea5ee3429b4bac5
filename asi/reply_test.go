package asi

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestParseReplyAck(t *testing.T) {
	for _, line := range []string{":A", ":A ", " :a"} {
		r, err := ParseReply("M X=1", line)
		if err != nil {
			t.Fatalf("parse of %q failed: %v", line, err)
		}
		if r.Kind != KindAck {
			t.Errorf("parse of %q gave kind %d, expected ack", line, r.Kind)
		}
	}
}

func TestParseReplyError(t *testing.T) {
	r, err := ParseReply("J", ":N-1")
	if err != nil {
		t.Fatal("parse failed:", err)
	}
	if r.Kind != KindError || r.Code != 1 {
		t.Errorf("got kind %d code %d, expected error code 1", r.Kind, r.Code)
	}
	if r.Err() == nil {
		t.Error("fault reply did not convert to an error")
	}
	if _, ok := r.Err().(ControllerError); !ok {
		t.Errorf("fault converted to %T, expected ControllerError", r.Err())
	}
}

func TestParseReplyPositionalValues(t *testing.T) {
	r, err := ParseReply("W X Y", ":A 1234 -567")
	if err != nil {
		t.Fatal("parse failed:", err)
	}
	if r.Kind != KindValues || len(r.Values) != 2 {
		t.Fatalf("got kind %d with %d values, expected 2 values", r.Kind, len(r.Values))
	}
	a, err := r.Values[0].Int()
	if err != nil || a != 1234 {
		t.Errorf("first value %d (%v), expected 1234", a, err)
	}
	b, err := r.Values[1].Int()
	if err != nil || b != -567 {
		t.Errorf("second value %d (%v), expected -567", b, err)
	}
}

func TestParseReplyAxisPairs(t *testing.T) {
	r, err := ParseReply("S X? Y?", ":A X=5.745920 Y=1.5")
	if err != nil {
		t.Fatal("parse failed:", err)
	}
	if len(r.Values) != 2 {
		t.Fatalf("got %d values, expected 2", len(r.Values))
	}
	if r.Values[0].Axis != "X" || r.Values[1].Axis != "Y" {
		t.Errorf("axes %q %q, expected X Y", r.Values[0].Axis, r.Values[1].Axis)
	}
	f, err := r.Values[0].Float()
	if err != nil || f != 5.745920 {
		t.Errorf("X value %f (%v), expected 5.745920", f, err)
	}
}

func TestParseReplyTrailingAck(t *testing.T) {
	// the LED X? quirk: value first, ack last
	r, err := ParseReply("LED X?", "X=25 :A")
	if err != nil {
		t.Fatal("parse failed:", err)
	}
	if r.Kind != KindValues || len(r.Values) != 1 || r.Values[0].Axis != "X" {
		t.Fatalf("parse of trailing-ack reply gave %+v", r)
	}
}

func TestParseReplyBareStatus(t *testing.T) {
	for line, want := range map[string]string{"B": "B", "N": "N"} {
		r, err := ParseReply("/", line)
		if err != nil {
			t.Fatalf("parse of %q failed: %v", line, err)
		}
		if r.Kind != KindValues || r.Values[0].Raw != want {
			t.Errorf("parse of %q gave %+v", line, r)
		}
	}
}

func TestParseReplyMalformed(t *testing.T) {
	for _, line := range []string{"", "   ", ":N-x", ":Q"} {
		_, err := ParseReply("W X", line)
		if err == nil {
			t.Errorf("parse of %q succeeded, expected ProtocolError", line)
			continue
		}
		if _, ok := err.(ProtocolError); !ok {
			t.Errorf("parse of %q gave %T, expected ProtocolError", line, err)
		}
	}
}

func TestParseReplyRoundTripRandomCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))
	for i := 0; i < 100; i++ {
		counts := []int64{rng.Int63n(2_000_000) - 1_000_000, rng.Int63n(2_000_000) - 1_000_000}
		line := fmt.Sprintf(":A %d %d", counts[0], counts[1])
		r, err := ParseReply("W X Y", line)
		if err != nil {
			t.Fatalf("parse of %q failed: %v", line, err)
		}
		for j, v := range r.Values {
			got, err := v.Int()
			if err != nil || got != counts[j] {
				t.Fatalf("value %d of %q parsed to %d (%v)", j, line, got, err)
			}
		}
	}
}

func BenchmarkParseReply(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseReply("S X? Y?", ":A X=5.745920 Y=1.500000")
	}
}
