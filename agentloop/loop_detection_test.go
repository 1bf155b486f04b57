package agentloop

import "testing"

func TestDetectLoop(t *testing.T) {
	tests := []struct {
		name   string
		sigs   []string
		window int
		want   bool
	}{
		{"too few", []string{"a", "a", "a"}, 4, false},
		{"same call repeated", []string{"a", "a", "a", "a"}, 4, true},
		{"alternating pair", []string{"x", "a", "b", "a", "b"}, 4, true},
		{"triple", []string{"a", "b", "c", "a", "b", "c"}, 6, true},
		{"varied", []string{"a", "b", "c", "d"}, 4, false},
		{"broken pattern", []string{"a", "a", "b", "a"}, 4, false},
		{"only last window counts", []string{"a", "a", "a", "a", "b"}, 4, false},
		{"zero window", []string{"a", "a"}, 0, false},
		{"window of one", []string{"a"}, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLoop(tt.sigs, tt.window); got != tt.want {
				t.Errorf("DetectLoop(%v, %d) = %v, want %v", tt.sigs, tt.window, got, tt.want)
			}
		})
	}
}

func TestCommandSignature(t *testing.T) {
	a := CommandCall{Kind: CommandTerminal, Args: []string{"ls", "-la"}}
	b := CommandCall{Kind: CommandTerminal, Args: []string{"ls", "-la"}, Offset: 40}
	c := CommandCall{Kind: CommandTerminal, Args: []string{"ls -la"}}
	d := CommandCall{Kind: CommandPython, Args: []string{"ls", "-la"}}

	if commandSignature(a) != commandSignature(b) {
		t.Error("signature should not depend on position")
	}
	if commandSignature(a) == commandSignature(c) {
		t.Error("signature should separate arguments")
	}
	if commandSignature(a) == commandSignature(d) {
		t.Error("signature should include the kind")
	}
}
