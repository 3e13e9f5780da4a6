package verified

import (
	"crypto"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/pkg/errors"
)

// SignedTransaction is the decoded payload of a signed transaction.
type SignedTransaction struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	BundleID              string `json:"bundleId"`
	AppAccountToken       string `json:"appAccountToken,omitempty"`
	PurchaseDate          int64  `json:"purchaseDate"`
	OriginalPurchaseDate  int64  `json:"originalPurchaseDate,omitempty"`
	Quantity              int    `json:"quantity"`
	Type                  string `json:"type"`
	RevocationDate        int64  `json:"revocationDate,omitempty"`
	Environment           string `json:"environment"`
}

func (t *SignedTransaction) PurchasedAt() time.Time {
	if t.PurchaseDate == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.PurchaseDate).UTC()
}

// Verifier checks signed transactions. The x5c chain is verified against
// the root pool when one is configured; messages without a chain fall back to
// the pinned key.
type Verifier struct {
	bundleID string
	roots    *x509.CertPool
	key      crypto.PublicKey
	clock    func() time.Time
}

type VerifierOption func(v *Verifier)

func WithRootCertificates(roots *x509.CertPool) VerifierOption {
	return func(v *Verifier) {
		v.roots = roots
	}
}

func WithPublicKey(key crypto.PublicKey) VerifierOption {
	return func(v *Verifier) {
		v.key = key
	}
}

func WithVerifierClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.clock = clock
	}
}

func NewVerifier(bundleID string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		bundleID: bundleID,
		clock:    time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify checks the signature of token and returns its decoded payload.
func (v *Verifier) Verify(token string) (*SignedTransaction, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("empty signed transaction")
	}

	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse signed transaction")
	}
	if len(jws.Signatures) == 0 {
		return nil, errors.New("missing signature")
	}

	payload, err := v.verifyWithX5C(jws, jws.Signatures[0].Protected)
	if errors.Is(err, jose.ErrMissingX5cHeader) || errors.Is(err, errNoRoots) {
		payload, err = v.verifyWithKey(jws)
	}
	if err != nil {
		return nil, err
	}

	var txn SignedTransaction
	if err := json.Unmarshal(payload, &txn); err != nil {
		return nil, errors.Wrap(err, "failed to decode signed transaction")
	}
	if v.bundleID != "" && txn.BundleID != v.bundleID {
		return nil, errors.Errorf("bundle id mismatch: %s", txn.BundleID)
	}
	if txn.RevocationDate != 0 {
		return nil, errors.Errorf("transaction %s was revoked", txn.TransactionID)
	}
	return &txn, nil
}

var errNoRoots = errors.New("no root certificates configured")

func (v *Verifier) verifyWithX5C(jws *jose.JSONWebSignature, header jose.Header) ([]byte, error) {
	if v.roots == nil {
		return nil, errNoRoots
	}

	chains, err := header.Certificates(x509.VerifyOptions{
		Roots:       v.roots,
		CurrentTime: v.clock(),
	})
	if err != nil {
		return nil, err
	}
	if len(chains) == 0 || len(chains[0]) == 0 {
		return nil, errors.New("empty certificate chain")
	}

	leaf := chains[0][0]
	if leaf.PublicKey == nil {
		return nil, errors.New("certificate missing public key")
	}
	return jws.Verify(leaf.PublicKey)
}

func (v *Verifier) verifyWithKey(jws *jose.JSONWebSignature) ([]byte, error) {
	if v.key == nil {
		return nil, errors.New("no verification key configured")
	}
	return jws.Verify(v.key)
}

// Decode returns the payload of token without checking its signature. It is
// only used to identify transactions that failed verification.
func Decode(token string) (*SignedTransaction, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse signed transaction")
	}

	var txn SignedTransaction
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), &txn); err != nil {
		return nil, errors.Wrap(err, "failed to decode signed transaction")
	}
	return &txn, nil
}

// LoadRootCertificates reads PEM encoded root certificates from path.
func LoadRootCertificates(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read root certificates")
	}

	var count int
	pool := x509.NewCertPool()
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse root certificate")
		}
		pool.AddCert(cert)
		count++
	}
	if count == 0 {
		return nil, errors.Errorf("no certificates in %s", path)
	}
	return pool, nil
}
