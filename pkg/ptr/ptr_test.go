package ptr_test

import (
	"testing"

	"mediagrab/pkg/ptr"
)

func TestDeref(t *testing.T) {
	if got := ptr.Deref[string](nil); got != "" {
		t.Fatalf("Deref(nil) = %q", got)
	}

	if got := ptr.Deref(ptr.Of(42)); got != 42 {
		t.Fatalf("Deref(Of(42)) = %d", got)
	}
}

func TestTrimmed(t *testing.T) {
	tests := []struct {
		name string
		in   *string
		want *string
	}{
		{name: "nil", in: nil, want: nil},
		{name: "blank", in: ptr.Of(" \t "), want: nil},
		{name: "trimmed", in: ptr.Of("  10:00 "), want: ptr.Of("10:00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ptr.Trimmed(tt.in)

			switch {
			case tt.want == nil && got != nil:
				t.Fatalf("Trimmed() = %q, want nil", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Fatalf("Trimmed() = %v, want %q", got, *tt.want)
			}
		})
	}
}
