package otel

import (
	"context"
	"testing"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv(envEndpoint, "")
	t.Setenv(envEnabled, "")

	shutdown, err := Setup(context.Background(), "lobby-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv(envEndpoint, "http://localhost:4318")
	t.Setenv(envEnabled, "false")

	shutdown, err := Setup(context.Background(), "lobby-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address: nothing is exported before shutdown.
	t.Setenv(envEndpoint, "http://192.0.2.1:4318")
	t.Setenv(envEnabled, "")

	shutdown, err := Setup(context.Background(), "lobby-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSampleRatio(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"", 1},
		{"0.25", 0.25},
		{"0", 0},
		{"2", 1},
		{"nope", 1},
	}
	for _, tc := range tests {
		t.Setenv(envSampleRatio, tc.raw)
		if got := sampleRatio(); got != tc.want {
			t.Fatalf("sampleRatio(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
