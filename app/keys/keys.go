package keys

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

type SignKey jwk.Key
type ValKey jwk.Key

const cJWK_ISS_TAG = "iss"

func ParseValKey(keyData []byte) (ValKey, error) {
	newJwk, err := jwk.ParseKey(keyData)
	if err != nil {
		return nil, errors.New("error parsing bytes for key")
	}

	isPrivate, err := jwk.IsPrivateKey(newJwk)
	if err != nil {
		return nil, fmt.Errorf("error checking key type: %w", err)
	}

	/* Accept a full key pair but only keep the validating half */
	if isPrivate {
		return ToValkey(newJwk)
	}

	return newJwk, nil
}

func GetValKey(filename string) (ValKey, error) {
	keyFile, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.New("error reading validation key file")
	}

	valKey, err := ParseValKey(keyFile)
	if err != nil {
		return nil, errors.New("error parsing validation key file")
	}

	return valKey, nil
}

func GetSignKey(filename string) (SignKey, error) {
	keyFile, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read signing key file: %w", err)
	}

	keyParsed, err := jwk.ParseKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("could not parse signing key file: %w", err)
	}

	isPrivate, err := jwk.IsPrivateKey(keyParsed)
	if err != nil {
		return nil, fmt.Errorf("could not check if key is private: %w", err)
	}

	if !isPrivate {
		return nil, errors.New("signing key must be private")
	}

	return keyParsed, nil
}

func Sign(data []byte, key SignKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("nil signing key")
	}

	signedData, err := jws.Sign(data, jws.WithJSON(), jws.WithKey(key.Algorithm(), key))
	if err != nil {
		return nil, err
	}

	return signedData, nil
}

func GetKeyIDFromSignedData(sig []byte) (string, error) {
	jwsMsg, err := jws.Parse(sig, jws.WithJSON())
	if err != nil {
		return "", fmt.Errorf("malformed JWS message: %w", err)
	}

	/* Only the first signature is used */
	sigs := jwsMsg.Signatures()
	if len(sigs) == 0 {
		return "", errors.New("message contained no signatures")
	}

	jwsKid := sigs[0].ProtectedHeaders().KeyID()
	if jwsKid == "" {
		return "", errors.New("key id not found")
	}

	return jwsKid, nil
}

func CheckSignature(sig []byte, key ValKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("nil validation key")
	}

	data, err := jws.Verify(sig, jws.WithJSON(), jws.WithKey(key.Algorithm(), key))
	if err != nil {
		return nil, fmt.Errorf("failed to verify signature: %w", err)
	}

	return data, nil
}

func ToValkey(signKey SignKey) (ValKey, error) {
	valKey, err := signKey.PublicKey()
	if err != nil {
		return nil, err
	}

	return valKey, nil
}

func GenerateValKey(filename string, keyID string) (ValKey, error) {
	return generateKey(filename, keyID, false)
}

func GenerateSignKey(filename string, keyID string) (SignKey, error) {
	return generateKey(filename, keyID, true)
}

func generateKey(filename string, keyID string, isPrivate bool) (jwk.Key, error) {
	if keyID == "" {
		return nil, errors.New("empty key id")
	}

	_, dataKeyRaw, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}

	dataKeyJWK, err := jwk.FromRaw(dataKeyRaw)
	if err != nil {
		return nil, err
	}

	err = dataKeyJWK.Set(jwk.KeyIDKey, keyID)
	if err != nil {
		return nil, err
	}

	err = dataKeyJWK.Set(jwk.AlgorithmKey, jwa.EdDSA)
	if err != nil {
		return nil, err
	}

	err = dataKeyJWK.Set(cJWK_ISS_TAG, "for testing purposes only")
	if err != nil {
		return nil, err
	}

	var dataKeyOut jwk.Key
	if isPrivate {
		dataKeyOut = dataKeyJWK
	} else {
		dataKeyOut, err = dataKeyJWK.PublicKey()
		if err != nil {
			return nil, err
		}
	}

	dataKeyJSON, err := json.Marshal(dataKeyOut)
	if err != nil {
		return nil, err
	}

	err = os.WriteFile(filepath.Clean(filename), dataKeyJSON, 0600)
	if err != nil {
		return nil, err
	}

	return dataKeyOut, nil
}
