package bridge

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCloseReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"short", "bridge: expected hello", "bridge: expected hello"},
		{"ascii cut", strings.Repeat("a", 130), strings.Repeat("a", 120)},
		{"rune straddles limit", strings.Repeat("a", 119) + "ção", strings.Repeat("a", 119)},
		{"rune ends at limit", strings.Repeat("é", 70), strings.Repeat("é", 60)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := closeReason(errors.New(tt.msg))
			if got != tt.want {
				t.Errorf("closeReason = %q (%d bytes), want %q", got, len(got), tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("closeReason returned invalid UTF-8 %q", got)
			}
		})
	}
}
