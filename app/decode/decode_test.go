package decode

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnstapir/telemetry-dashboard/app/keys"
	"github.com/dnstapir/telemetry-dashboard/inject/fake"
)

func TestFloat(t *testing.T) {
	good := map[string]float64{
		"12":      12,
		"7.5":     7.5,
		" 13\n":   13,
		"-0.25":   -0.25,
		"1e3":     1000,
		"0":       0,
		"+42.000": 42,
	}

	for in, want := range good {
		got, err := Float([]byte(in))
		if err != nil {
			t.Fatalf("Error decoding '%s': %s", in, err)
		}
		if got != want {
			t.Fatalf("Decoding '%s', want: %v, got: %v", in, want, got)
		}
	}

	bad := []string{"bad", "", "  ", "12abc", "NaN", "Inf", "-Inf", "1,5"}
	for _, in := range bad {
		_, err := Float([]byte(in))
		if err == nil {
			t.Fatalf("Expected error decoding '%s'", in)
		}
	}

	_, err := Float([]byte("NaN"))
	if !errors.Is(err, ErrNotFinite) {
		t.Fatalf("Expected ErrNotFinite for NaN, got %v", err)
	}
}

func TestCreateDefault(t *testing.T) {
	dec, err := Create(Conf{Log: fake.Logger()})
	if err != nil {
		t.Fatalf("Error creating decoder: %s", err)
	}

	val, err := dec([]byte("3.5"))
	if err != nil || val != 3.5 {
		t.Fatalf("Default decoder failed: %v %v", val, err)
	}
}

func TestCreateUnsupported(t *testing.T) {
	_, err := Create(Conf{Log: fake.Logger(), Decoder: "xml"})
	if err == nil {
		t.Fatalf("Expected error for unsupported decoder")
	}
}

func TestJsonDecoder(t *testing.T) {
	dec, err := Create(Conf{Log: fake.Logger(), Decoder: DECODER_JSON})
	if err != nil {
		t.Fatalf("Error creating decoder: %s", err)
	}

	val, err := dec([]byte(`{"value": 12, "unit": "vehicles"}`))
	if err != nil {
		t.Fatalf("Error decoding: %s", err)
	}
	if val != 12 {
		t.Fatalf("want 12, got %v", val)
	}

	val, err = dec([]byte(`{"value": "7.5"}`))
	if err != nil || val != 7.5 {
		t.Fatalf("String value not decoded: %v %v", val, err)
	}

	bad := []string{`12`, `{"count": 1}`, `{"value": true}`, `{"value": "bad"}`, `nope`}
	for _, in := range bad {
		_, err := dec([]byte(in))
		if err == nil {
			t.Fatalf("Expected error decoding '%s'", in)
		}
	}
}

func TestJsonDecoderCustomFieldAndSchema(t *testing.T) {
	workdir := t.TempDir()
	schemaFile := filepath.Join(workdir, "count.json")
	schema := `{"type": "object", "required": ["count"], "properties": {"count": {"type": "integer"}}}`
	err := os.WriteFile(schemaFile, []byte(schema), 0600)
	if err != nil {
		t.Fatalf("Error writing schema: %s", err)
	}

	dec, err := Create(Conf{
		Log:        fake.Logger(),
		Decoder:    DECODER_JSON,
		Schema:     schemaFile,
		ValueField: "count",
	})
	if err != nil {
		t.Fatalf("Error creating decoder: %s", err)
	}

	val, err := dec([]byte(`{"count": 4}`))
	if err != nil || val != 4 {
		t.Fatalf("Decoding failed: %v %v", val, err)
	}

	_, err = dec([]byte(`{"count": 4.5}`))
	if err == nil {
		t.Fatalf("Schema should reject non-integer count")
	}
}

func TestSignedDecoderLocalKey(t *testing.T) {
	workdir := t.TempDir()
	keyfile := filepath.Join(workdir, "testkey.json")
	signKey, err := keys.GenerateSignKey(keyfile, "sensor-cars")
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	dec, err := Create(Conf{
		Log:     fake.Logger(),
		Decoder: DECODER_JWS,
		Key:     keyfile,
	})
	if err != nil {
		t.Fatalf("Error creating decoder: %s", err)
	}

	signed, err := keys.Sign([]byte("12"), signKey)
	if err != nil {
		t.Fatalf("Error signing: %s", err)
	}

	val, err := dec(signed)
	if err != nil {
		t.Fatalf("Error decoding: %s", err)
	}
	if val != 12 {
		t.Fatalf("want 12, got %v", val)
	}

	_, err = dec([]byte("12"))
	if err == nil {
		t.Fatalf("Unsigned payload accepted")
	}

	signedBad, err := keys.Sign([]byte("bad"), signKey)
	if err != nil {
		t.Fatalf("Error signing: %s", err)
	}
	_, err = dec(signedBad)
	if err == nil {
		t.Fatalf("Signed garbage accepted")
	}
}

func TestSignedDecoderNodemanKey(t *testing.T) {
	workdir := t.TempDir()
	keyfile := filepath.Join(workdir, "testkey.json")
	signKey, err := keys.GenerateSignKey(keyfile, "sensor-buses")
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	valKey, err := keys.GetValKey(keyfile)
	if err != nil {
		t.Fatalf("Error getting validation key: %s", err)
	}

	valKeyBytes, err := json.Marshal(valKey)
	if err != nil {
		t.Fatalf("Error serializing validation key: %s", err)
	}

	fakeNodeman := fake.Nodeman()
	fakeNodeman.PrepareKey("sensor-buses", valKeyBytes)

	dec, err := Create(Conf{
		Log:     fake.Logger(),
		Nodeman: fakeNodeman,
		Decoder: DECODER_JWS,
		Inner:   DECODER_JSON,
	})
	if err != nil {
		t.Fatalf("Error creating decoder: %s", err)
	}

	signed, err := keys.Sign([]byte(`{"value": 7.5}`), signKey)
	if err != nil {
		t.Fatalf("Error signing: %s", err)
	}

	for range 3 {
		val, err := dec(signed)
		if err != nil {
			t.Fatalf("Error decoding: %s", err)
		}
		if val != 7.5 {
			t.Fatalf("want 7.5, got %v", val)
		}
	}

	if fakeNodeman.Calls() != 1 {
		t.Fatalf("Expected key to be fetched once and cached, got %d fetches", fakeNodeman.Calls())
	}
}

func TestSignedDecoderWithoutKeys(t *testing.T) {
	_, err := Create(Conf{Log: fake.Logger(), Decoder: DECODER_JWS})
	if err == nil {
		t.Fatalf("Expected error creating signed decoder without keys")
	}

	_, err = Create(Conf{Log: fake.Logger(), Decoder: DECODER_JWS, Inner: DECODER_JWS, Nodeman: fake.Nodeman()})
	if err == nil {
		t.Fatalf("Expected error for self-wrapping decoder")
	}
}
