package ui

import "testing"

func TestShouldUseColor(t *testing.T) {
	tests := []struct {
		name    string
		noColor string
		force   string
		cli     string
		want    bool
	}{
		{"no_color wins over force", "1", "1", "", false},
		{"force without tty", "", "1", "", true},
		{"clicolor zero", "", "", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("CLICOLOR_FORCE", tt.force)
			t.Setenv("CLICOLOR", tt.cli)
			if got := ShouldUseColor(); got != tt.want {
				t.Fatalf("ShouldUseColor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	noColor = false
	t.Cleanup(func() { noColor = false })

	if got := RenderOK("ok"); got != "\x1b[38;5;114mok\x1b[0m" {
		t.Fatalf("RenderOK = %q", got)
	}
	if got := RenderFail(""); got != "" {
		t.Fatalf("empty string should stay empty, got %q", got)
	}

	ForceNoColor()
	if got := RenderAccent("key"); got != "key" {
		t.Fatalf("RenderAccent with color disabled = %q", got)
	}
}
