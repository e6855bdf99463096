// Package fserrors gives every fatal-to-one-session failure a stable,
// structured shape (path/stage/code) so shard and proxy logging can
// report consistently regardless of which layer raised the error.
package fserrors

import "fmt"

// Path identifies which side of the proxy a failure occurred on.
type Path string

const (
	PathClientToServer Path = "client_to_server"
	PathServerToClient Path = "server_to_client"
	PathSpawn          Path = "spawn"
)

// Stage identifies which step of frame processing failed.
type Stage string

const (
	StageRead      Stage = "read"
	StageFrame     Stage = "frame"
	StageHandshake Stage = "handshake"
	StageCrypto    Stage = "crypto"
	StageDispatch  Stage = "dispatch"
	StageWrite     Stage = "write"
)

// Code is the stable error kind taxonomy the session fatally reports on.
type Code string

const (
	CodeShortRead        Code = "short_read"
	CodeBadMagic         Code = "bad_magic"
	CodeCryptoVerify     Code = "crypto_verify"
	CodeHandshakeInvalid Code = "handshake_invalid"
	CodeBrokenResource   Code = "broken_resource"
	CodeTimeout          Code = "timeout"
	CodeSpawnReject      Code = "spawn_reject"
	CodeUnknown          Code = "unknown"
)

// Error is a structured, programmatically identifiable error wrapping a
// session-fatal failure.
type Error struct {
	Path  Path
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Path, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Path, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured Error for one failed step of session
// processing.
func Wrap(path Path, stage Stage, code Code, err error) error {
	return &Error{Path: path, Stage: stage, Code: code, Err: err}
}

// IsSuppressed reports whether an error kind should merely end the one
// client session quietly, versus being logged as a genuine failure — a
// peer disconnecting mid-stream is routine, everything else in the fatal
// taxonomy indicates a protocol or crypto problem worth logging.
func IsSuppressed(code Code) bool {
	return code == CodeBrokenResource
}
