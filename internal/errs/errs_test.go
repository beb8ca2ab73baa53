package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatchesThroughWrapping(t *testing.T) {
	base := New(KindRefNotFound, "RES_REF_NOT_FOUND", "ref %q not found", "v9")
	wrapped := fmt.Errorf("resolve: %w", WithPlugin(base, "demo"))
	if !errors.Is(wrapped, KindRefNotFound) {
		t.Fatalf("expected RefNotFound kind, got %v", wrapped)
	}
	if errors.Is(wrapped, KindCloneFailed) {
		t.Fatalf("did not expect CloneFailed match")
	}
	want := `resolve: RES_REF_NOT_FOUND [demo]: ref "v9" not found`
	if wrapped.Error() != want {
		t.Fatalf("message = %q, want %q", wrapped.Error(), want)
	}
}

func TestWithPluginLeavesOriginalUntouched(t *testing.T) {
	base := New(KindCloneFailed, "INS_CLONE", "boom")
	_ = WithPlugin(base, "x")
	if base.Plugin != "" {
		t.Fatalf("original error mutated: %+v", base)
	}
	plain := errors.New("plain")
	if got := WithPlugin(plain, "x"); got != plain {
		t.Fatalf("unclassified error should pass through")
	}
}

func TestFatalAndExitCode(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
		code  int
	}{
		{"nil", nil, false, 0},
		{"plain", errors.New("x"), false, 1},
		{"config", New(KindConfiguration, "CONFIG_PARSE", "bad"), true, 2},
		{"preservation", fmt.Errorf("wrap: %w", New(KindPreservation, "PRE_RESTORE", "bad")), true, 3},
		{"clone", New(KindCloneFailed, "INS_CLONE", "bad"), false, 1},
		{"canceled", New(KindCanceled, "RUN_CANCELED", "stop"), false, 130},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fatal(tt.err); got != tt.fatal {
				t.Errorf("Fatal = %v, want %v", got, tt.fatal)
			}
			if got := ExitCode(tt.err); got != tt.code {
				t.Errorf("ExitCode = %d, want %d", got, tt.code)
			}
		})
	}
}
