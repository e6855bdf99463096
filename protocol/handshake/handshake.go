// Package handshake encodes the two cryptographic message shapes carried
// inside the Session Offer and Session Accept control frames: a signed
// challenge from the server, and an encrypted key exchange from the
// client.
//
// SignedMessage carries a length-prefixed challenge, so its size depends
// on that length; EncryptedMessage has a fixed size (see Size).
package handshake

import (
	"encoding/binary"

	wbinary "github.com/vbe0201/wizproxy/internal/binary"
)

// SignedMessage is the cryptographic payload of a Session Offer: a
// challenge buffer the server signs, identifying which key slot signed
// it and carrying an echo nonce the client must send back.
type SignedMessage struct {
	Flags     byte
	KeySlot   byte
	KeyMask   byte
	Challenge []byte
	Echo      uint32
}

// ReadSignedMessage parses a SignedMessage from buf.
func ReadSignedMessage(buf *wbinary.Buffer) (*SignedMessage, error) {
	flags, err := buf.U8()
	if err != nil {
		return nil, err
	}
	keySlot, err := buf.U8()
	if err != nil {
		return nil, err
	}
	keyMask, err := buf.U8()
	if err != nil {
		return nil, err
	}
	challengeLen, err := buf.U8()
	if err != nil {
		return nil, err
	}
	challenge, err := buf.Read(int(challengeLen))
	if err != nil {
		return nil, err
	}
	echo, err := buf.U32()
	if err != nil {
		return nil, err
	}

	return &SignedMessage{
		Flags:     flags,
		KeySlot:   keySlot,
		KeyMask:   keyMask,
		Challenge: challenge,
		Echo:      echo,
	}, nil
}

// Write serializes the message into buf, returning the byte count.
func (m *SignedMessage) Write(buf *wbinary.Buffer) int {
	written := 0
	written += buf.WriteU8(m.Flags)
	written += buf.WriteU8(m.KeySlot)
	written += buf.WriteU8(m.KeyMask)
	written += buf.WriteU8(byte(len(m.Challenge)))
	written += buf.Write(m.Challenge)
	written += buf.WriteU32(m.Echo)
	return written
}

// HashRegion returns the (offset, length) region of the KI key buffer
// that the challenge's embedded hash was computed over.
func (m *SignedMessage) HashRegion() (offset, length uint16) {
	offset = binary.LittleEndian.Uint16(m.Challenge[0:2])
	length = binary.LittleEndian.Uint16(m.Challenge[2:4])
	return
}

// ChallengeType is the selector byte for which challenge algorithm the
// client expects an answer for (see the clientsig package).
func (m *SignedMessage) ChallengeType() byte {
	return m.Challenge[4]
}

// ChallengeBuf is the challenge algorithm's own input buffer, following
// the hash region and challenge type selector.
func (m *SignedMessage) ChallengeBuf() []byte {
	return m.Challenge[5:]
}

// encryptedMessageSize is the fixed wire size of EncryptedMessage:
// B(1) + I(4) + I(4) + I(4) + I(4) + 16s + 16s.
const encryptedMessageSize = 1 + 4 + 4 + 4 + 4 + 16 + 16

// EncryptedMessage is the cryptographic payload of a Session Accept: the
// client's answer to the challenge, plus the AES session key and nonce
// the proxy needs to exfiltrate.
type EncryptedMessage struct {
	Flags           byte
	KeyHash         uint32
	ChallengeAnswer uint32
	Echo            uint32
	Timestamp       uint32
	Key             [16]byte
	Nonce           [16]byte
}

// ReadEncryptedMessage parses a fixed-size EncryptedMessage from buf.
func ReadEncryptedMessage(buf *wbinary.Buffer) (*EncryptedMessage, error) {
	flags, err := buf.U8()
	if err != nil {
		return nil, err
	}
	keyHash, err := buf.U32()
	if err != nil {
		return nil, err
	}
	answer, err := buf.U32()
	if err != nil {
		return nil, err
	}
	echo, err := buf.U32()
	if err != nil {
		return nil, err
	}
	timestamp, err := buf.U32()
	if err != nil {
		return nil, err
	}
	keyBytes, err := buf.Read(16)
	if err != nil {
		return nil, err
	}
	nonceBytes, err := buf.Read(16)
	if err != nil {
		return nil, err
	}

	m := &EncryptedMessage{
		Flags:           flags,
		KeyHash:         keyHash,
		ChallengeAnswer: answer,
		Echo:            echo,
		Timestamp:       timestamp,
	}
	copy(m.Key[:], keyBytes)
	copy(m.Nonce[:], nonceBytes)
	return m, nil
}

// Write serializes the message into buf, returning the byte count.
func (m *EncryptedMessage) Write(buf *wbinary.Buffer) int {
	written := 0
	written += buf.WriteU8(m.Flags)
	written += buf.WriteU32(m.KeyHash)
	written += buf.WriteU32(m.ChallengeAnswer)
	written += buf.WriteU32(m.Echo)
	written += buf.WriteU32(m.Timestamp)
	written += buf.Write(m.Key[:])
	written += buf.Write(m.Nonce[:])
	return written
}

// Size returns the fixed wire size of an EncryptedMessage.
func Size() int {
	return encryptedMessageSize
}
