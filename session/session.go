// Package session implements the per-client cryptographic handshake
// interception: rewriting the Session Offer's signature so the genuine
// client accepts it, and decrypting/re-encrypting the Session Accept so
// the proxy learns the negotiated AES-GCM session key while the server
// remains none the wiser.
//
// The Offer only needs to be verified against the real server's public
// key and re-signed with the proxy's injected key; the Accept carries
// the actual AES key material, so it has to be decrypted, validated,
// used to derive both directions' streamcipher contexts, and then
// re-encrypted under KI's real public key before it is forwarded on to
// the server.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	wbinary "github.com/vbe0201/wizproxy/internal/binary"

	"github.com/vbe0201/wizproxy/crypto/keychain"
	"github.com/vbe0201/wizproxy/crypto/streamcipher"
	"github.com/vbe0201/wizproxy/protocol/frame"
	"github.com/vbe0201/wizproxy/protocol/handshake"
	"github.com/vbe0201/wizproxy/session/clientsig"
)

func readSignedMessage(data []byte) (*handshake.SignedMessage, error) {
	return handshake.ReadSignedMessage(wbinary.NewFromBytes(data))
}

func readEncryptedMessage(data []byte) (*handshake.EncryptedMessage, error) {
	return handshake.ReadEncryptedMessage(wbinary.NewFromBytes(data))
}

func writeEncryptedMessage(m *handshake.EncryptedMessage) []byte {
	buf := wbinary.New()
	m.Write(buf)
	return buf.Bytes()
}

// signatureSize is the fixed width of a PKCS#1v1.5/SHA-1 RSA signature
// for the key sizes KI uses.
const signatureSize = 256

// ErrEchoMismatch indicates the Session Accept echo value did not match
// the one recorded from the server's Session Offer.
var ErrEchoMismatch = errors.New("session: echo value mismatch; algorithm changed?")

// ErrChallengeMismatch indicates the ClientSig answer the client sent in
// its Session Accept does not match what the proxy independently computed — either the
// genuine client used a different ClientSig dump, or the challenge
// algorithm changed underneath the proxy.
var ErrChallengeMismatch = errors.New("session: challenge response mismatch; algorithm changed?")

// ErrUnknownChallenge indicates a Session Offer's embedded challenge type
// byte did not match any challenge the proxy knows how to answer.
var ErrUnknownChallenge = errors.New("session: unknown crypto challenge")

// Session tracks the cryptographic state of one client connection: which
// RSA key slot the Session Offer named, the FNV region its key hash
// covers, and — once Session Accept completes — the two AES-GCM
// streaming contexts used to re-encrypt traffic in both directions.
type Session struct {
	Client net.Addr
	Server net.Addr
	SID    uint64

	keyChain *keychain.KeyChain
	sigData  *clientsig.Data

	challengeResponse *uint32

	KeySlot byte
	FnvOff  uint16
	FnvLen  uint16
	Echo    uint32

	ClientAES *streamcipher.Context
	ServerAES *streamcipher.Context
}

// New creates a Session for a freshly-accepted client connection. sigData
// may be nil if no ClientSig.dec.bin was loaded, in which case ClientSig
// challenges cannot be answered and are passed through unverified.
func New(client, server net.Addr, sid uint64, kc *keychain.KeyChain, sigData *clientsig.Data) *Session {
	return &Session{
		Client:   client,
		Server:   server,
		SID:      sid,
		keyChain: kc,
		sigData:  sigData,
		KeySlot:  0xFF,
	}
}

// GetKeyHash recomputes KI's key-buffer FNV hash over the region the
// last Session Offer asked about.
func (s *Session) GetKeyHash() (uint32, error) {
	return s.keyChain.HashKeyBuf(int(s.FnvOff), int(s.FnvLen))
}

// verifyKeyHash checks that the injected key buffer fingerprints to the
// hash the client sent in its Session Accept.
func (s *Session) verifyKeyHash(old uint32) error {
	return s.keyChain.VerifyKeyHash(int(s.FnvOff), int(s.FnvLen), old)
}

func extractSignedMessage(raw []byte) (cryptoPayload, signature []byte, ok bool) {
	if len(raw) < 0xE+4 {
		return nil, nil, false
	}
	cryptoPayloadLen := binary.LittleEndian.Uint32(raw[0xE : 0xE+4])
	if cryptoPayloadLen == 1 {
		return nil, nil, false
	}

	payload := raw[0x12 : 0x12+cryptoPayloadLen]
	return payload[:len(payload)-signatureSize], payload[len(payload)-signatureSize:], true
}

func extractEncryptedMessage(raw []byte) ([]byte, bool) {
	if len(raw) < 0x10+4 {
		return nil, false
	}
	cryptoPayloadLen := binary.LittleEndian.Uint32(raw[0x10 : 0x10+4])
	if cryptoPayloadLen == 1 {
		return nil, false
	}

	return raw[0x15 : 0x15+cryptoPayloadLen-1], true
}

func processChallenge(sigData *clientsig.Data, message *handshake.SignedMessage) (*uint32, error) {
	switch message.ChallengeType() {
	case clientsig.ChallengeID:
		if sigData == nil {
			return nil, nil
		}
		answer, err := clientsig.Challenge(sigData, message.ChallengeBuf())
		if err != nil {
			return nil, err
		}
		return &answer, nil
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownChallenge, message.ChallengeType())
	}
}

// Offer intercepts a Session Offer control frame: it parses the embedded
// SignedMessage, records the state needed to validate Session Accept,
// verifies the real server's signature against KI's public key, and
// re-signs the same payload with the proxy's injected private key so the
// client accepts it.
//
// If the frame carries no crypto payload (cryptoPayloadLen == 1, a
// resumed session with nothing new to negotiate), Offer leaves the frame
// untouched.
func (s *Session) Offer(f *frame.Frame) error {
	raw := f.Payload
	cryptoPayload, signature, ok := extractSignedMessage(raw)
	if !ok {
		return nil
	}

	message, err := readSignedMessage(cryptoPayload)
	if err != nil {
		return err
	}

	s.KeySlot = message.KeySlot
	s.FnvOff, s.FnvLen = message.HashRegion()
	s.Echo = message.Echo

	s.challengeResponse, err = processChallenge(s.sigData, message)
	if err != nil {
		return err
	}

	if err := s.keyChain.Verify(int(s.KeySlot), cryptoPayload, signature); err != nil {
		return err
	}

	newSignature, err := s.keyChain.Sign(int(s.KeySlot), cryptoPayload)
	if err != nil {
		return err
	}

	newPayload := make([]byte, 0, 0x12+len(cryptoPayload)+len(newSignature)+1)
	newPayload = append(newPayload, raw[:0x12+len(cryptoPayload)]...)
	newPayload = append(newPayload, newSignature...)
	newPayload = append(newPayload, 0)

	f.Payload = newPayload
	f.Dirty = true
	return nil
}

// Accept intercepts a Session Accept control frame: it decrypts the
// embedded EncryptedMessage using the proxy's private key, validates the
// echoed nonce and ClientSig answer, derives both AES-GCM streaming
// contexts for this session, then re-encrypts the (possibly patched)
// message under KI's real public key for the server.
//
// If the frame carries no crypto payload, both AES contexts are cleared
// (the session never got a key, so no encrypted traffic may legally
// follow) and the frame is left untouched.
func (s *Session) Accept(f *frame.Frame) error {
	raw := f.Payload
	cryptoPayload, ok := extractEncryptedMessage(raw)
	if !ok {
		s.ClientAES = nil
		s.ServerAES = nil
		return nil
	}

	decrypted, err := s.keyChain.Decrypt(int(s.KeySlot), cryptoPayload)
	if err != nil {
		return err
	}

	message, err := readEncryptedMessage(decrypted)
	if err != nil {
		return err
	}

	if err := s.verifyKeyHash(message.KeyHash); err != nil {
		return err
	}
	newHash, err := s.GetKeyHash()
	if err != nil {
		return err
	}
	message.KeyHash = newHash

	if s.Echo != message.Echo {
		return ErrEchoMismatch
	}

	if s.challengeResponse != nil && *s.challengeResponse != message.ChallengeAnswer {
		return ErrChallengeMismatch
	}

	clientAES, err := streamcipher.Client(message.Key, message.Nonce)
	if err != nil {
		return err
	}
	serverAES, err := streamcipher.Server(message.Key, message.Nonce)
	if err != nil {
		return err
	}
	s.ClientAES = clientAES
	s.ServerAES = serverAES

	patched := writeEncryptedMessage(message)

	reEncrypted, err := s.keyChain.Encrypt(int(s.KeySlot), patched)
	if err != nil {
		return err
	}

	newPayload := make([]byte, 0, 0x15+len(reEncrypted)+1)
	newPayload = append(newPayload, raw[:0x15]...)
	newPayload = append(newPayload, reEncrypted...)
	newPayload = append(newPayload, 0)

	f.Payload = newPayload
	f.Dirty = true
	return nil
}
