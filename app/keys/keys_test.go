package keys

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

func TestGenerateSignKey(t *testing.T) {
	workdir := t.TempDir()
	keyfile := filepath.Join(workdir, "testkey.json")
	keyGenerated, err := GenerateSignKey(keyfile, "tmp-key-utest-keys")
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	keyRead, err := GetSignKey(keyfile)
	if err != nil {
		t.Fatalf("Error reading key: %s", err)
	}

	if !jwk.Equal(keyGenerated, keyRead) {
		t.Fatalf("Keys have different thumbprints")
	}

	if keyRead.KeyID() != "tmp-key-utest-keys" {
		t.Fatalf("Unexpected key id '%s'", keyRead.KeyID())
	}
}

func TestSignAndCheck(t *testing.T) {
	workdir := t.TempDir()
	keyfile := filepath.Join(workdir, "testkey.json")
	signKey, err := GenerateSignKey(keyfile, "sensor-1")
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	valKey, err := GetValKey(keyfile)
	if err != nil {
		t.Fatalf("Error getting validation key: %s", err)
	}

	in := []byte("12.5")
	signed, err := Sign(in, signKey)
	if err != nil {
		t.Fatalf("Error signing: %s", err)
	}

	kid, err := GetKeyIDFromSignedData(signed)
	if err != nil {
		t.Fatalf("Error getting key id: %s", err)
	}

	if kid != "sensor-1" {
		t.Fatalf("wanted kid 'sensor-1', got '%s'", kid)
	}

	out, err := CheckSignature(signed, valKey)
	if err != nil {
		t.Fatalf("Error checking signature: %s", err)
	}

	if !bytes.Equal(in, out) {
		t.Fatalf("Data mismatch, want: '%s', got: '%s'", in, out)
	}
}

func TestCheckSignatureWrongKey(t *testing.T) {
	workdir := t.TempDir()
	signKey, err := GenerateSignKey(filepath.Join(workdir, "a.json"), "a")
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	otherKey, err := GenerateValKey(filepath.Join(workdir, "b.json"), "b")
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	signed, err := Sign([]byte("1"), signKey)
	if err != nil {
		t.Fatalf("Error signing: %s", err)
	}

	_, err = CheckSignature(signed, otherKey)
	if err == nil {
		t.Fatalf("Expected verification to fail with unrelated key")
	}
}

func TestGetSignKeyRejectsPublic(t *testing.T) {
	workdir := t.TempDir()
	keyfile := filepath.Join(workdir, "pub.json")
	_, err := GenerateValKey(keyfile, "pub")
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	_, err = GetSignKey(keyfile)
	if err == nil {
		t.Fatalf("Expected public key to be rejected as signing key")
	}
}

func TestGetKeyIDMalformed(t *testing.T) {
	_, err := GetKeyIDFromSignedData([]byte("12.5"))
	if err == nil {
		t.Fatalf("Expected error for unsigned payload")
	}
}
