// Package errors provides coded lobby errors that map onto gRPC statuses.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Battle errors
	CodeBattleNotFound           Code = "BATTLE_NOT_FOUND"
	CodeBattleWrongPassword      Code = "BATTLE_WRONG_PASSWORD"
	CodeBattleKicked             Code = "BATTLE_KICKED"
	CodeBattleZombie             Code = "BATTLE_ZOMBIE"
	CodeBattleClosed             Code = "BATTLE_CLOSED"
	CodeBattleAlreadyRunning     Code = "BATTLE_ALREADY_RUNNING"
	CodeBattleNotRunning         Code = "BATTLE_NOT_RUNNING"
	CodeBattleCannotStart        Code = "BATTLE_CANNOT_START"
	CodeBattleEngineUnavailable  Code = "BATTLE_ENGINE_UNAVAILABLE"
	CodeBattleProcessStartFailed Code = "BATTLE_PROCESS_START_FAILED"
	CodeBattleNotMember          Code = "BATTLE_NOT_MEMBER"

	// Poll errors
	CodePollAlreadyActive Code = "POLL_ALREADY_ACTIVE"
	CodePollNotActive     Code = "POLL_NOT_ACTIVE"
	CodePollNotEligible   Code = "POLL_NOT_ELIGIBLE"

	// Command errors
	CodeCommandDenied   Code = "COMMAND_DENIED"
	CodeCommandUnknown  Code = "COMMAND_UNKNOWN"
	CodeCommandRefused  Code = "COMMAND_REFUSED"
	CodeCommandBadUsage Code = "COMMAND_BAD_USAGE"

	// Resource errors
	CodePortsExhausted   Code = "PORTS_EXHAUSTED"
	CodeUserNotConnected Code = "USER_NOT_CONNECTED"
)

// GRPCCode maps lobby codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidArgument,
		CodeCommandBadUsage,
		CodeCommandUnknown:
		return codes.InvalidArgument

	case CodeBattleZombie,
		CodeBattleClosed,
		CodeBattleAlreadyRunning,
		CodeBattleNotRunning,
		CodeBattleCannotStart,
		CodeBattleNotMember,
		CodePollAlreadyActive,
		CodePollNotActive,
		CodeCommandRefused:
		return codes.FailedPrecondition

	case CodeBattleWrongPassword,
		CodeBattleKicked,
		CodeCommandDenied,
		CodePollNotEligible:
		return codes.PermissionDenied

	case CodeBattleNotFound,
		CodeUserNotConnected:
		return codes.NotFound

	case CodeBattleEngineUnavailable,
		CodeBattleProcessStartFailed:
		return codes.Unavailable

	case CodePortsExhausted:
		return codes.ResourceExhausted

	default:
		return codes.Internal
	}
}
