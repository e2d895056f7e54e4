package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestClockMinutes(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:00", want: 540},
		{in: "9:00", want: 540},
		{in: "23:59", want: 1439},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ClockMinutes(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ClockMinutes(%q): expected error", tc.in)
			}
			if CodeOf(err) != CodeCalendarBadRequest {
				t.Fatalf("ClockMinutes(%q) code = %q, want %q", tc.in, CodeOf(err), CodeCalendarBadRequest)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ClockMinutes(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ClockMinutes(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestClockStringZeroPads(t *testing.T) {
	if got := ClockString(540); got != "09:00" {
		t.Fatalf("ClockString(540) = %q, want %q", got, "09:00")
	}
	if got := ClockString(5); got != "00:05" {
		t.Fatalf("ClockString(5) = %q, want %q", got, "00:05")
	}
}

func TestIntervalOverlapsHalfOpen(t *testing.T) {
	at := func(h int) time.Time {
		return time.Date(2026, 3, 2, h, 0, 0, 0, time.UTC)
	}
	a := Interval{Start: at(9), End: at(10)}

	// Back-to-back intervals do not overlap.
	if a.Overlaps(Interval{Start: at(10), End: at(11)}) {
		t.Fatalf("adjacent intervals must not overlap")
	}
	if a.Overlaps(Interval{Start: at(8), End: at(9)}) {
		t.Fatalf("adjacent intervals must not overlap")
	}
	if !a.Overlaps(Interval{Start: at(9), End: at(10)}) {
		t.Fatalf("identical intervals must overlap")
	}
	if !a.Overlaps(Interval{Start: at(8), End: at(11)}) {
		t.Fatalf("containing interval must overlap")
	}
}

func TestRoundUpToStep(t *testing.T) {
	cases := []struct {
		dur, step, want int
	}{
		{dur: 0, step: 30, want: 30},
		{dur: -5, step: 30, want: 30},
		{dur: 30, step: 30, want: 30},
		{dur: 45, step: 30, want: 60},
		{dur: 60, step: 30, want: 60},
		{dur: 61, step: 30, want: 90},
		{dur: 20, step: 15, want: 30},
	}
	for _, tc := range cases {
		if got := RoundUpToStep(tc.dur, tc.step); got != tc.want {
			t.Fatalf("RoundUpToStep(%d, %d) = %d, want %d", tc.dur, tc.step, got, tc.want)
		}
	}
}

func TestSubSlots(t *testing.T) {
	subs, ok := SubSlots("09:00", 60, 30)
	if !ok {
		t.Fatalf("SubSlots returned !ok")
	}
	if want := []string{"09:00", "09:30"}; !reflect.DeepEqual(subs, want) {
		t.Fatalf("SubSlots = %v, want %v", subs, want)
	}

	subs, ok = SubSlots("10:00", 30, 30)
	if !ok || !reflect.DeepEqual(subs, []string{"10:00"}) {
		t.Fatalf("SubSlots single = %v ok=%v", subs, ok)
	}

	// Rounded-up coverage for a duration between steps.
	subs, ok = SubSlots("09:00", 45, 30)
	if !ok || !reflect.DeepEqual(subs, []string{"09:00", "09:30"}) {
		t.Fatalf("SubSlots 45min = %v ok=%v", subs, ok)
	}
}

func TestSubSlotsCrossingMidnight(t *testing.T) {
	if _, ok := SubSlots("23:30", 60, 30); ok {
		t.Fatalf("span crossing midnight must report !ok")
	}
	if _, ok := SubSlots("23:30", 30, 30); !ok {
		t.Fatalf("span ending exactly at midnight is valid")
	}
}

func TestDefaultDaySlots(t *testing.T) {
	got := DefaultDaySlots(30, "09:00", "11:00")
	want := []string{"09:00", "09:30", "10:00", "10:30"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DefaultDaySlots = %v, want %v", got, want)
	}
	if got := DefaultDaySlots(30, "11:00", "09:00"); got != nil {
		t.Fatalf("inverted window should yield no slots, got %v", got)
	}
}

func TestNormalizeTimes(t *testing.T) {
	got := NormalizeTimes([]string{"10:00", "9:00", " 09:30 ", "09:00", "bogus"})
	want := []string{"09:00", "09:30", "10:00"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeTimes = %v, want %v", got, want)
	}
}

func TestSlotStartUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}
	got, err := SlotStart("2026-03-02", "09:30", loc)
	if err != nil {
		t.Fatalf("SlotStart error: %v", err)
	}
	want := time.Date(2026, 3, 2, 9, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("SlotStart = %v, want %v", got, want)
	}
}

func TestResourcesOverlap(t *testing.T) {
	if !ResourcesOverlap("doctor_a", "doctor_a") {
		t.Fatalf("same resource must overlap")
	}
	if ResourcesOverlap("doctor_a", "doctor_b") {
		t.Fatalf("distinct concrete resources must not overlap")
	}
	if !ResourcesOverlap(ResourceEither, "doctor_b") {
		t.Fatalf("either must overlap any concrete resource")
	}
	if !ResourcesOverlap("doctor_a", ResourceEither) {
		t.Fatalf("either must overlap any concrete resource")
	}
}
