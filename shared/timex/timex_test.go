package timex

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeProviderString(t *testing.T) {
	got, err := Normalize("2024-03-15 14:30:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 15, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNormalizeEpochSeconds(t *testing.T) {
	got, err := Normalize(int64(1710484200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Unix() != 1710484200 {
		t.Fatalf("expected epoch seconds preserved, got %v", got)
	}
}

func TestNormalizeEpochMillis(t *testing.T) {
	got, err := Normalize(int64(1710484200000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Unix() != 1710484200 {
		t.Fatalf("expected millis scaled to seconds, got %v", got)
	}
}

func TestNormalizeNumericString(t *testing.T) {
	got, err := Normalize("1710484200")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Unix() != 1710484200 {
		t.Fatalf("unexpected instant: %v", got)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	if _, err := Normalize("not-a-time"); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
	if _, err := Normalize(struct{}{}); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable for struct, got %v", err)
	}
}

func TestDisplayRoundTrip(t *testing.T) {
	// A provider wall-clock hour renders in GMT+1 exactly 7 hours earlier.
	utc, err := Normalize("2024-03-15 14:30:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	display := ToDisplay(utc)
	if display.Hour() != 14-7 {
		t.Fatalf("expected display hour %d, got %d", 14-7, display.Hour())
	}
	if display.Minute() != 30 {
		t.Fatalf("expected minute preserved, got %d", display.Minute())
	}
}
