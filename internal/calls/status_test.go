package calls

import "testing"

var allStatuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCanceled}

func TestAdvance_OnlyForward(t *testing.T) {
	cases := []struct {
		cur, next Status
		want      Status
		ok        bool
	}{
		{StatusPending, StatusInProgress, StatusInProgress, true},
		{StatusPending, StatusCompleted, StatusCompleted, true},
		{StatusInProgress, StatusFailed, StatusFailed, true},
		{StatusInProgress, StatusPending, StatusInProgress, false},
		{StatusInProgress, StatusInProgress, StatusInProgress, false},
		{StatusCompleted, StatusInProgress, StatusCompleted, false},
		{StatusCompleted, StatusFailed, StatusCompleted, false},
		{StatusCanceled, StatusCompleted, StatusCanceled, false},
		{StatusPending, Status("ringing"), StatusPending, false},
	}
	for _, tc := range cases {
		got, ok := Advance(tc.cur, tc.next)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Advance(%s, %s) = %s,%v want %s,%v", tc.cur, tc.next, got, ok, tc.want, tc.ok)
		}
	}
}

// Applying any ordering of updates ends at the status with the highest rank;
// among terminal statuses the first one applied wins.
func TestAdvance_HighestRankWinsForEveryOrdering(t *testing.T) {
	var permute func([]Status, int)
	check := func(seq []Status) {
		cur := StatusPending
		var firstTerminal Status
		maxRank := 0
		for _, s := range seq {
			cur, _ = Advance(cur, s)
			if s.Terminal() && firstTerminal == "" {
				firstTerminal = s
			}
			if s.Rank() > maxRank {
				maxRank = s.Rank()
			}
		}
		if cur.Rank() != maxRank {
			t.Fatalf("sequence %v ended at %s", seq, cur)
		}
		if firstTerminal != "" && cur != firstTerminal {
			t.Fatalf("sequence %v ended at %s, want first terminal %s", seq, cur, firstTerminal)
		}
	}
	permute = func(a []Status, k int) {
		if k == len(a) {
			check(a)
			return
		}
		for i := k; i < len(a); i++ {
			a[k], a[i] = a[i], a[k]
			permute(a, k+1)
			a[k], a[i] = a[i], a[k]
		}
	}
	seq := make([]Status, len(allStatuses))
	copy(seq, allStatuses)
	permute(seq, 0)
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]Status{
		"in-progress": StatusInProgress,
		"completed":   StatusCompleted,
		"failed":      StatusFailed,
		"no-answer":   StatusFailed,
		"busy":        StatusFailed,
		"canceled":    StatusCanceled,
		" Completed ": StatusCompleted,
	}
	for in, want := range cases {
		got, ok := MapProviderStatus(in)
		if !ok || got != want {
			t.Fatalf("MapProviderStatus(%q) = %s,%v want %s", in, got, ok, want)
		}
	}
	for _, in := range []string{"queued", "initiated", "ringing", ""} {
		if _, ok := MapProviderStatus(in); ok {
			t.Fatalf("expected %q to be ignored", in)
		}
	}
}

func TestPredecessors(t *testing.T) {
	if got := predecessors(StatusInProgress); len(got) != 1 || got[0] != StatusPending {
		t.Fatalf("unexpected predecessors: %v", got)
	}
	if got := predecessors(StatusCanceled); len(got) != 2 {
		t.Fatalf("unexpected predecessors: %v", got)
	}
	if got := predecessors(StatusPending); len(got) != 0 {
		t.Fatalf("unexpected predecessors: %v", got)
	}
}
