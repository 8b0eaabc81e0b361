package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, Version+" (") {
		t.Errorf("String() = %q, want prefix %q", s, Version+" (")
	}
	if !strings.Contains(s, GoVersion) {
		t.Errorf("String() = %q, missing Go version", s)
	}
}
