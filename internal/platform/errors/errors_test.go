package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeBattleKicked, "kicked")
	err := fmt.Errorf("join: %w", New(CodeBattleKicked, "You were kicked from battle"))
	if !stderrors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stderrors.Is(err, New(CodeBattleZombie, "")) {
		t.Fatal("expected different code not to match")
	}
}

func TestCodeAndMessageOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(CodePollAlreadyActive, "another poll already in progress"))
	if got := CodeOf(err); got != CodePollAlreadyActive {
		t.Fatalf("CodeOf = %q, want %q", got, CodePollAlreadyActive)
	}
	if got := MessageOf(err, "x"); got != "another poll already in progress" {
		t.Fatalf("MessageOf = %q", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %q, want UNKNOWN", got)
	}
	if got := MessageOf(stderrors.New("plain"), "fallback"); got != "fallback" {
		t.Fatalf("MessageOf(plain) = %q", got)
	}
}

func TestToGRPCStatusCarriesReason(t *testing.T) {
	err := WithMetadata(CodeBattleNotFound, "battle not found", map[string]string{"battle_id": "7"}).ToGRPCStatus()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatal("expected gRPC status")
	}
	if st.Code() != codes.NotFound {
		t.Fatalf("code = %v, want NotFound", st.Code())
	}
	var found bool
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			found = true
			if info.GetReason() != string(CodeBattleNotFound) {
				t.Fatalf("reason = %q", info.GetReason())
			}
			if info.GetMetadata()["battle_id"] != "7" {
				t.Fatalf("metadata = %v", info.GetMetadata())
			}
		}
	}
	if !found {
		t.Fatal("expected ErrorInfo detail")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeBattleWrongPassword, codes.PermissionDenied},
		{CodeBattleAlreadyRunning, codes.FailedPrecondition},
		{CodePortsExhausted, codes.ResourceExhausted},
		{CodeBattleEngineUnavailable, codes.Unavailable},
		{CodeCommandBadUsage, codes.InvalidArgument},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range tests {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Fatalf("%s.GRPCCode() = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestToGRPCForeignError(t *testing.T) {
	st, _ := status.FromError(ToGRPC(stderrors.New("disk on fire")))
	if st.Code() != codes.Internal {
		t.Fatalf("code = %v, want Internal", st.Code())
	}
	if ToGRPC(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
