package sandbox

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/pkg/errors"
)

// Signer signs sandbox transactions with an ES256 key certified by a
// generated root.
type Signer struct {
	key   *ecdsa.PrivateKey
	root  *x509.Certificate
	chain []string

	withChain jose.Signer
	bare      jose.Signer
}

func NewSigner() (*Signer, error) {
	now := time.Now()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate root key")
	}
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Sandbox Root CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create root certificate")
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse root certificate")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate signing key")
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Sandbox Transaction Signing"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, root, &key.PublicKey, rootKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create signing certificate")
	}

	chain := []string{
		base64.StdEncoding.EncodeToString(leafDER),
		base64.StdEncoding.EncodeToString(rootDER),
	}

	signingKey := jose.SigningKey{Algorithm: jose.ES256, Key: key}
	withChain, err := jose.NewSigner(signingKey, (&jose.SignerOptions{}).WithType("JWT").WithHeader("x5c", chain))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create signer")
	}
	bare, err := jose.NewSigner(signingKey, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create signer")
	}

	return &Signer{
		key:       key,
		root:      root,
		chain:     chain,
		withChain: withChain,
		bare:      bare,
	}, nil
}

// Sign signs v with the certificate chain in the x5c header.
func (s *Signer) Sign(v any) (string, error) {
	return sign(s.withChain, v)
}

// SignWithoutChain signs v without a certificate chain. Only a pinned key
// verifies it.
func (s *Signer) SignWithoutChain(v any) (string, error) {
	return sign(s.bare, v)
}

func sign(signer jose.Signer, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode payload")
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign payload")
	}
	return jws.CompactSerialize()
}

func (s *Signer) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(s.root)
	return pool
}

func (s *Signer) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.root.Raw})
}

func (s *Signer) PublicKey() crypto.PublicKey {
	return &s.key.PublicKey
}
