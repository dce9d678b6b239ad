// Package credentialstest provides RSA key material for tests: a public key
// to serve, the private half to decrypt with, and a JWKS to verify tokens
// signed with it.
package credentialstest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type KeyPair struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// JWK is the RSA subset of a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

func NewKeyPair(t testing.TB, keyID string) *KeyPair {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return &KeyPair{KeyID: keyID, PrivateKey: key}
}

// PublicKeyPEM is the PKIX public key as a PEM block.
func (kp *KeyPair) PublicKeyPEM(t testing.TB) string {
	t.Helper()
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: kp.pkix(t)}))
}

// PublicKeyBase64 is the PKIX public key as bare base64 DER, the form the
// backend serves.
func (kp *KeyPair) PublicKeyBase64(t testing.TB) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(kp.pkix(t))
}

// PKCS1Base64 is the public key in PKCS#1 form, base64 encoded.
func (kp *KeyPair) PKCS1Base64() string {
	return base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&kp.PrivateKey.PublicKey))
}

func (kp *KeyPair) pkix(t testing.TB) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&kp.PrivateKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return der
}

// Decrypt reverses credentials.Encryptor.Encrypt.
func (kp *KeyPair) Decrypt(t testing.TB, ciphertext string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	plain, err := rsa.DecryptPKCS1v15(nil, kp.PrivateKey, raw)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	return string(plain)
}

func (kp *KeyPair) JWKS() JWKS {
	pub := kp.PrivateKey.PublicKey
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Kid: kp.KeyID,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

// Sign returns an RS256 token over claims with the key id in its header.
func (kp *KeyPair) Sign(t testing.TB, claims jwtlib.MapClaims) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	tok.Header["kid"] = kp.KeyID
	signed, err := tok.SignedString(kp.PrivateKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
