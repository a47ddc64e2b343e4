package launcher

import (
	"testing"

	"github.com/magellium/hrwsi/internal/scheduler"
	"github.com/magellium/hrwsi/internal/types"
)

func TestMapInitialStatus(t *testing.T) {
	cases := []struct {
		in   scheduler.AllocationStatus
		want types.ProcessingStatus
	}{
		{scheduler.StatusRunning, types.StatusStarted},
		{scheduler.StatusPending, types.StatusPending},
		{scheduler.StatusComplete, types.StatusPending},
	}
	for _, c := range cases {
		if got := mapInitialStatus(c.in); got != c.want {
			t.Errorf("mapInitialStatus(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
