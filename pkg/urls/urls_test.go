package urls_test

import (
	"testing"

	"mediagrab/pkg/urls"
)

func TestIsURLValid(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://es.pornhub.com/view_video.php?viewkey=abc", true},
		{"HTTP://site.test/page", true},
		{"ftp://site.test/file", false},
		{"site.test/page", false},
		{"/view_video.php", false},
		{"", false},
		{"https://", false},
	}

	for _, tt := range tests {
		if got := urls.IsURLValid(tt.raw); got != tt.want {
			t.Errorf("IsURLValid(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "trimmed", raw: "  https://site.test/v?x=1 \n", want: "https://site.test/v?x=1"},
		{name: "host lowercased", raw: "HTTPS://Site.TEST/View", want: "https://site.test/View"},
		{name: "fragment dropped", raw: "https://site.test/v?x=1#comments", want: "https://site.test/v?x=1"},
		{name: "unparsable kept", raw: " http://[::1 ", want: "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := urls.Normalize(tt.raw); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
