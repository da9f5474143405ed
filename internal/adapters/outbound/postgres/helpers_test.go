package postgres

import (
	"strings"
	"testing"
)

func TestWriteValues(t *testing.T) {
	tests := []struct {
		rows, cols int
		want       string
	}{
		{1, 1, "($1)"},
		{1, 3, "($1, $2, $3)"},
		{2, 2, "($1, $2), ($3, $4)"},
		{0, 4, ""},
	}

	for _, tt := range tests {
		var sb strings.Builder
		writeValues(&sb, tt.rows, tt.cols)
		if got := sb.String(); got != tt.want {
			t.Errorf("writeValues(%d, %d) = %q, want %q", tt.rows, tt.cols, got, tt.want)
		}
	}
}

func TestNonNil(t *testing.T) {
	if got := nonNil(nil); got == nil || len(got) != 0 {
		t.Errorf("nonNil(nil) = %#v, want empty slice", got)
	}
	in := []string{"NoSell"}
	if got := nonNil(in); len(got) != 1 || got[0] != "NoSell" {
		t.Errorf("nonNil() changed input: %v", got)
	}
}
