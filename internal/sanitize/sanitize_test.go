package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrub(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		removed int
	}{
		{
			name:    "email",
			in:      "contact me at alice@example.com please",
			want:    "contact me at [EMAIL] please",
			removed: 1,
		},
		{
			name:    "url",
			in:      "check https://evil.example/phish?x=1 now",
			want:    "check [URL] now",
			removed: 1,
		},
		{
			name:    "bare www url",
			in:      "go to www.example.com today",
			want:    "go to [URL] today",
			removed: 1,
		},
		{
			name:    "phone",
			in:      "call 555-123-4567 tonight",
			want:    "call [PHONE] tonight",
			removed: 1,
		},
		{
			name:    "ip address",
			in:      "server at 192.168.1.50 is open",
			want:    "server at [IP] is open",
			removed: 1,
		},
		{
			name:    "short digit runs survive",
			in:      "scored 100-95 in 2024",
			want:    "scored 100-95 in 2024",
			removed: 0,
		},
		{
			name:    "mixed",
			in:      "email bob@x.io or visit https://x.io or call +1 (415) 555-0100",
			want:    "email [EMAIL] or visit [URL] or call [PHONE]",
			removed: 3,
		},
		{
			name:    "clean text untouched",
			in:      "just a normal comment about cats",
			want:    "just a normal comment about cats",
			removed: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scrub(tt.in)
			assert.Equal(t, tt.want, got.Text)
			assert.Equal(t, tt.removed, got.Removed())
		})
	}
}

func TestText(t *testing.T) {
	assert.Equal(t, "[EMAIL]", Text("a@b.co"))
}
