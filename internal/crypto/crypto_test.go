package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testKeyHex = "0000000000000000000000000000000000000000000000000000000000000001"

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner("0x"+testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	// Well-known address for the private key 0x...01.
	want := "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
	if got := s.Address().Hex(); got != want {
		t.Errorf("Address = %s, want %s", got, want)
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	if _, err := NewSigner("not-hex", 137); err == nil {
		t.Fatal("NewSigner accepted a non-hex key")
	}
}

func TestSignAuthMessageShape(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	sig, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Errorf("signature = %q, want 0x-prefixed 65-byte hex", sig)
	}
	v := sig[len(sig)-2:]
	if v != "1b" && v != "1c" {
		t.Errorf("v byte = %s, want 1b or 1c", v)
	}
}

func TestSignOrderRejectsBadNumericField(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	_, err = s.SignOrder(OrderPayload{
		Salt:        "not-a-number",
		TokenID:     "1",
		MakerAmount: "100",
		TakerAmount: "200",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
	})
	if err == nil {
		t.Fatal("SignOrder accepted a non-numeric salt")
	}
	if !strings.Contains(err.Error(), "salt") {
		t.Errorf("error = %v, want salt named", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sealed, err := EncryptKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(sealed, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("decrypted key = %s, want original", got)
	}

	if _, err := DecryptKey(sealed, "wrong"); err == nil {
		t.Error("DecryptKey accepted the wrong password")
	}
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/does/not/exist"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("LoadKey = %s, want raw key without prefix", got)
	}
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	sealed, err := EncryptKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "wallet.key")
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("LoadKey = %s, want original key", got)
	}
}

func TestLoadKeyRequiresSomeSource(t *testing.T) {
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("LoadKey succeeded with no source configured")
	}
}
