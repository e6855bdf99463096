package keymaterial

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeKeyDump(t *testing.T, path string, raw []byte, records []keyRecord) {
	t.Helper()
	dump := keyDump{Raw: base64.StdEncoding.EncodeToString(raw), Decoded: records}
	data, err := json.Marshal(dump)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadKeyChainRoundTrip(t *testing.T) {
	dir := t.TempDir()

	kiKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	injectedKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}

	writeKeyDump(t, filepath.Join(dir, "ki_keys.json"), []byte("genuine key buffer"), []keyRecord{
		{Public: base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&kiKey.PublicKey))},
	})
	writeKeyDump(t, filepath.Join(dir, "injected_keys.json"), []byte("injected key buffer"), []keyRecord{
		{Private: base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PrivateKey(injectedKey))},
	})

	kc, err := LoadKeyChain(dir)
	if err != nil {
		t.Fatalf("unexpected error loading key chain: %v", err)
	}

	sig, err := kc.Sign(0, []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error signing with loaded key: %v", err)
	}
	if len(sig) == 0 {
		t.Fatalf("expected non-empty signature")
	}

	hash, err := kc.HashKeyBuf(0, 7)
	if err != nil {
		t.Fatalf("unexpected error hashing ki key buf: %v", err)
	}
	if hash == 0 {
		t.Fatalf("expected non-zero FNV hash")
	}
}

func TestLoadClientSigMissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	data, err := LoadClientSig(dir)
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil data for missing file")
	}
}

func TestLoadClientSigParsesPresentFile(t *testing.T) {
	dir := t.TempDir()

	buf := []byte{}
	putBlob := func(blob []byte) {
		var lenBytes [4]byte
		lenBytes[0] = byte(len(blob))
		lenBytes[1] = byte(len(blob) >> 8)
		lenBytes[2] = byte(len(blob) >> 16)
		lenBytes[3] = byte(len(blob) >> 24)
		buf = append(buf, lenBytes[:]...)
		buf = append(buf, blob...)
	}
	putBlob([]byte("offsets"))
	putBlob([]byte("modules"))
	putBlob([]byte("code"))

	if err := os.WriteFile(filepath.Join(dir, "ClientSig.dec.bin"), buf, 0o600); err != nil {
		t.Fatal(err)
	}

	data, err := LoadClientSig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if data == nil {
		t.Fatalf("expected parsed ClientSig data")
	}
	if string(data.Code) != "code" {
		t.Fatalf("expected code blob to round-trip, got %q", data.Code)
	}
}
