package fserrors

import (
	"crypto/rsa"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/vbe0201/wizproxy/crypto/keychain"
	"github.com/vbe0201/wizproxy/crypto/streamcipher"
	"github.com/vbe0201/wizproxy/internal/binary"
	"github.com/vbe0201/wizproxy/protocol/frame"
	"github.com/vbe0201/wizproxy/session"
	"github.com/vbe0201/wizproxy/session/clientsig"
	"github.com/vbe0201/wizproxy/transport"
)

// ClassifyTunnelCode maps an error surfaced while running one direction
// of a shard's tunnel to the stable Code taxonomy used for logging.
func ClassifyTunnelCode(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown

	case errors.Is(err, io.EOF), isBrokenResource(err):
		return CodeBrokenResource

	case isTimeout(err):
		return CodeTimeout

	case errors.Is(err, binary.ErrShortRead):
		return CodeShortRead

	case errors.Is(err, frame.ErrBadMagic), errors.Is(err, transport.ErrUnsupportedFrame):
		return CodeBadMagic

	case errors.Is(err, streamcipher.ErrTagMismatch),
		errors.Is(err, streamcipher.ErrShortRotation),
		errors.Is(err, keychain.ErrKeyHashMismatch),
		isRSAFailure(err):
		return CodeCryptoVerify

	case errors.Is(err, session.ErrEchoMismatch),
		errors.Is(err, session.ErrChallengeMismatch),
		errors.Is(err, session.ErrUnknownChallenge),
		errors.Is(err, clientsig.ErrTooShort):
		return CodeHandshakeInvalid

	default:
		return CodeUnknown
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isBrokenResource(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}

	// A peer force-closing the TCP connection surfaces as an *OpError
	// wrapping ECONNRESET or EPIPE, not as one of the net package's own
	// sentinel errors.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.EPIPE)
	}
	return false
}

func isRSAFailure(err error) bool {
	return errors.Is(err, rsa.ErrVerification) || errors.Is(err, rsa.ErrDecryption)
}
