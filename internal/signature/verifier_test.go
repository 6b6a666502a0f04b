package signature

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticFetcher struct {
	pem []byte
	err error
}

func (f *staticFetcher) Fetch(context.Context, string) ([]byte, error) {
	return f.pem, f.err
}

func selfSignedED25519(t *testing.T) (ed25519.PrivateKey, []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return priv, pemBytes
}

func TestVerifySignatureED25519(t *testing.T) {
	priv, certPEM := selfSignedED25519(t)
	store := NewStore(&staticFetcher{pem: certPEM})

	message := []byte("hello world")
	sig := ed25519.Sign(priv, message)
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	err := store.VerifySignature(context.Background(), AlgorithmED25519, "key-1", message, sigB64)
	require.NoError(t, err)
}

func TestVerifySignatureMismatch(t *testing.T) {
	priv, certPEM := selfSignedED25519(t)
	store := NewStore(&staticFetcher{pem: certPEM})

	sig := ed25519.Sign(priv, []byte("original"))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	err := store.VerifySignature(context.Background(), AlgorithmED25519, "key-1", []byte("tampered"), sigB64)
	require.Error(t, err)
	var vse *VerifySignatureError
	require.ErrorAs(t, err, &vse)
}

func TestVerifySignatureUnsupportedAlgorithm(t *testing.T) {
	_, certPEM := selfSignedED25519(t)
	store := NewStore(&staticFetcher{pem: certPEM})

	err := store.VerifySignature(context.Background(), "MADE_UP", "key-1", []byte("x"), "AAAA")
	require.Error(t, err)
	var ua *UnsupportedAlgorithm
	require.ErrorAs(t, err, &ua)
}

func TestNoopVerifierAlwaysSucceeds(t *testing.T) {
	var v Verifier = NoopVerifier{}
	require.NoError(t, v.VerifySignature(context.Background(), "anything", "k", []byte("m"), "!!!not-base64!!!"))
}
