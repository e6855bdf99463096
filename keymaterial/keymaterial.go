// Package keymaterial loads the two JSON key-dump files and the optional
// decrypted ClientSig blob a proxy run needs from its key directory,
// handing back the parsed types crypto/keychain and session/clientsig
// already operate on.
//
// Key dumps export their RSA keys in either raw PKCS#1 DER or
// PKIX/PKCS8-wrapped form depending on the tool that produced them, so
// loading a key tries both encodings before giving up.
package keymaterial

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vbe0201/wizproxy/crypto/keychain"
	"github.com/vbe0201/wizproxy/session/clientsig"
)

// keyDump is the shape ki-keyring emits for both ki_keys.json (public
// keys only) and injected_keys.json (private keys only): a base64 blob
// of the raw key buffer KI ships, plus the keys decoded out of it in
// slot order.
type keyDump struct {
	Raw     string      `json:"raw"`
	Decoded []keyRecord `json:"decoded"`
}

type keyRecord struct {
	Public  string `json:"public"`
	Private string `json:"private"`
}

// LoadKeyChain reads ki_keys.json and injected_keys.json out of dir and
// builds the KeyChain they describe.
func LoadKeyChain(dir string) (*keychain.KeyChain, error) {
	kiKeys, err := loadKeyDump(filepath.Join(dir, "ki_keys.json"))
	if err != nil {
		return nil, fmt.Errorf("keymaterial: loading ki_keys.json: %w", err)
	}
	injectedKeys, err := loadKeyDump(filepath.Join(dir, "injected_keys.json"))
	if err != nil {
		return nil, fmt.Errorf("keymaterial: loading injected_keys.json: %w", err)
	}

	kiKeyBuf, err := base64.StdEncoding.DecodeString(kiKeys.Raw)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: decoding ki_keys.json raw buffer: %w", err)
	}
	publicKeys := make([]*rsa.PublicKey, len(kiKeys.Decoded))
	for i, rec := range kiKeys.Decoded {
		key, err := parsePublicKey(rec.Public)
		if err != nil {
			return nil, fmt.Errorf("keymaterial: ki_keys.json slot %d: %w", i, err)
		}
		publicKeys[i] = key
	}

	injectedKeyBuf, err := base64.StdEncoding.DecodeString(injectedKeys.Raw)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: decoding injected_keys.json raw buffer: %w", err)
	}
	privateKeys := make([]*rsa.PrivateKey, len(injectedKeys.Decoded))
	for i, rec := range injectedKeys.Decoded {
		key, err := parsePrivateKey(rec.Private)
		if err != nil {
			return nil, fmt.Errorf("keymaterial: injected_keys.json slot %d: %w", i, err)
		}
		privateKeys[i] = key
	}

	return keychain.New(kiKeyBuf, publicKeys, injectedKeyBuf, privateKeys), nil
}

func loadKeyDump(path string) (*keyDump, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dump keyDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return nil, err
	}
	return &dump, nil
}

func parsePublicKey(b64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("unrecognized RSA public key encoding: %w", err)
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA")
	}
	return key, nil
}

func parsePrivateKey(b64 string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("unrecognized RSA private key encoding: %w", err)
	}
	key, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA")
	}
	return key, nil
}

// LoadClientSig reads ClientSig.dec.bin from dir, if present. It returns
// (nil, nil) when the file doesn't exist, since an absent ClientSig dump
// just means the proxy can't answer that challenge type and must leave
// it unanswered rather than treating the deployment as misconfigured.
func LoadClientSig(dir string) (*clientsig.Data, error) {
	path := filepath.Join(dir, "ClientSig.dec.bin")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("keymaterial: loading ClientSig.dec.bin: %w", err)
	}
	return clientsig.ParseData(raw)
}
