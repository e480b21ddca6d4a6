package clock

import (
	"context"
	"testing"
	"time"
)

func TestNow_ReturnsCurrentTime(t *testing.T) {
	before := time.Now()
	result := Now()
	after := time.Now()

	if result.Before(before) || result.After(after) {
		t.Errorf("Now() returned %v, expected between %v and %v", result, before, after)
	}
}

func TestMockClock_Advance(t *testing.T) {
	mockTime := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(mockTime)

	mock.Advance(time.Hour)

	expected := mockTime.Add(time.Hour)
	if !mock.Now().Equal(expected) {
		t.Errorf("After Advance, Now() = %v, expected %v", mock.Now(), expected)
	}
	if mock.Since(mockTime) != time.Hour {
		t.Errorf("Since = %v, expected 1h", mock.Since(mockTime))
	}
}

func TestMockClock_Set(t *testing.T) {
	mock := NewMockClock(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))

	newTime := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	mock.Set(newTime)

	if !mock.Now().Equal(newTime) {
		t.Errorf("After Set, Now() = %v, expected %v", mock.Now(), newTime)
	}
}

func TestSleep_Elapses(t *testing.T) {
	if !Sleep(context.Background(), 5*time.Millisecond) {
		t.Error("Sleep should report full duration elapsed")
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if Sleep(ctx, time.Hour) {
		t.Error("Sleep should report cancellation")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Sleep did not wake on cancellation")
	}
}

func TestSleep_ZeroDuration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if !Sleep(ctx, 0) {
		t.Error("zero sleep on live context should succeed")
	}
	cancel()
	if Sleep(ctx, 0) {
		t.Error("zero sleep on cancelled context should fail")
	}
}

func TestOr(t *testing.T) {
	if _, ok := Or(nil).(*RealClock); !ok {
		t.Error("Or(nil) should return RealClock")
	}
	m := NewMockClock(time.Now())
	if Or(m) != m {
		t.Error("Or should keep a provided clock")
	}
}
