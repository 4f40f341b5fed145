package app

import (
	"testing"

	_ "github.com/odyssey-erp/odyssey-ledger/internal/testing/guard"
)

func TestParseTestMode(t *testing.T) {
	for raw, want := range map[string]bool{"1": true, "true": true, "0": false, "": false, "yes": false} {
		if got := parseTestMode(raw); got != want {
			t.Fatalf("parseTestMode(%q) = %v, want %v", raw, got, want)
		}
	}
	if !InTestMode() {
		t.Fatalf("expected the guard package to enable test mode")
	}
}
