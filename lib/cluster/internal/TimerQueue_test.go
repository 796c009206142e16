package internal

import (
	"testing"
)

// TestTimerQueueOrder tests that timers pop in deadline order with ties broken by correlation id
func TestTimerQueueOrder(t *testing.T) {
	q := NewTimerQueue()

	q.Schedule(7, 300)
	q.Schedule(3, 100)
	q.Schedule(9, 200)
	q.Schedule(1, 200)

	if q.Len() != 4 {
		t.Fatalf("Queue should have 4 timers, but has %d", q.Len())
	}

	expected := []int64{3, 1, 9, 7}
	for i, want := range expected {
		corr, _, ok := q.PopDue(1000)
		if !ok {
			t.Fatalf("PopDue %d: expected a due timer", i)
		}
		if corr != want {
			t.Errorf("PopDue %d: expected correlation id %d, got %d", i, want, corr)
		}
	}

	if _, _, ok := q.PopDue(1000); ok {
		t.Error("Queue should be empty")
	}
}

// TestTimerQueuePopDue tests that timers with a later deadline stay in the queue
func TestTimerQueuePopDue(t *testing.T) {
	q := NewTimerQueue()
	q.Schedule(1, 100)
	q.Schedule(2, 500)

	corr, deadline, ok := q.PopDue(100)
	if !ok || corr != 1 || deadline != 100 {
		t.Errorf("Expected (1,100,true), got (%d,%d,%v)", corr, deadline, ok)
	}
	if _, _, ok := q.PopDue(499); ok {
		t.Error("Timer 2 must not be due before 500")
	}
	if !q.Contains(2) {
		t.Error("Timer 2 should still be scheduled")
	}
}

// TestTimerQueueReschedule tests that scheduling an existing correlation id moves the timer
func TestTimerQueueReschedule(t *testing.T) {
	q := NewTimerQueue()
	q.Schedule(1, 100)
	q.Schedule(2, 200)
	q.Schedule(1, 300)

	if q.Len() != 2 {
		t.Fatalf("Rescheduling must not add a timer, got %d timers", q.Len())
	}
	if deadline, ok := q.Deadline(1); !ok || deadline != 300 {
		t.Errorf("Expected deadline 300, got %d (%v)", deadline, ok)
	}

	corr, _, _ := q.PopDue(1000)
	if corr != 2 {
		t.Errorf("Expected timer 2 first after rescheduling, got %d", corr)
	}
}

// TestTimerQueueCancel tests cancelling timers
func TestTimerQueueCancel(t *testing.T) {
	q := NewTimerQueue()
	q.Schedule(1, 100)
	q.Schedule(2, 50)
	q.Schedule(3, 150)

	if !q.Cancel(2) {
		t.Error("Cancel of a scheduled timer should return true")
	}
	if q.Cancel(2) {
		t.Error("Cancel of a cancelled timer should return false")
	}
	if q.Contains(2) {
		t.Error("Cancelled timer should not be contained")
	}

	corr, _, _ := q.PopDue(1000)
	if corr != 1 {
		t.Errorf("Expected timer 1 after cancelling timer 2, got %d", corr)
	}
}

// TestTimerQueueSorted tests the listing by correlation id
func TestTimerQueueSorted(t *testing.T) {
	q := NewTimerQueue()
	q.Schedule(30, 1)
	q.Schedule(10, 3)
	q.Schedule(20, 2)

	sorted := q.Sorted()
	if len(sorted) != 3 {
		t.Fatalf("Expected 3 timers, got %d", len(sorted))
	}
	for i, want := range [][2]int64{{10, 3}, {20, 2}, {30, 1}} {
		if sorted[i] != want {
			t.Errorf("Index %d: expected %v, got %v", i, want, sorted[i])
		}
	}
}
