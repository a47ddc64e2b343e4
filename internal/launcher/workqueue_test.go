package launcher

import "testing"

func TestWorkQueuePushDedup(t *testing.T) {
	q := newWorkQueue(4)

	if !q.push(1) {
		t.Fatal("expected first push of a new task id to succeed")
	}
	if q.push(1) {
		t.Fatal("expected a second push of the same task id to be rejected while queued")
	}

	<-q.pop()
	q.release(1)

	if !q.push(1) {
		t.Fatal("expected push to succeed again after release")
	}
}

func TestWorkQueueCapacity(t *testing.T) {
	q := newWorkQueue(1)

	if !q.push(1) {
		t.Fatal("expected first push to fit within capacity")
	}
	if q.push(2) {
		t.Fatal("expected a second push to be rejected once the queue is full")
	}
}

func TestWorkQueueReleaseWithoutConsumption(t *testing.T) {
	q := newWorkQueue(4)

	q.push(7)
	q.release(7)

	if !q.push(7) {
		t.Fatal("expected push to succeed again after an explicit release")
	}
}
