package model

import "testing"

func TestRequestTerminalStates(t *testing.T) {
	cases := []struct {
		status   int32
		terminal bool
		text     string
	}{
		{RequestPending, false, "pending"},
		{RequestAccepted, true, "accepted"},
		{RequestRejected, true, "rejected"},
	}
	for _, c := range cases {
		r := ChatRequest{Status: c.status}
		if r.IsTerminal() != c.terminal {
			t.Errorf("status %d: IsTerminal = %v, want %v", c.status, r.IsTerminal(), c.terminal)
		}
		if StatusText(c.status) != c.text {
			t.Errorf("status %d: StatusText = %q, want %q", c.status, StatusText(c.status), c.text)
		}
	}
}
