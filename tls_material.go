package httpd

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
)

// decryptedKeyPair loads a PEM certificate and an (optionally
// passphrase-encrypted) PEM private key. No corpus example or
// third-party library in the retrieved set handles encrypted PKCS#1
// PEM keys, so this one path uses the standard library's
// x509.DecryptPEMBlock rather than a corpus-grounded dependency — see
// DESIGN.md.
func decryptedKeyPair(certPath, keyPath, passphrase string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "reading TLS certificate")
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "reading TLS key")
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, errors.New("no PEM block found in TLS key file")
	}
	//nolint:staticcheck // IsEncryptedPEMBlock/DecryptPEMBlock are deprecated but remain the only stdlib path for passphrase-protected PKCS#1 keys
	if x509.IsEncryptedPEMBlock(block) {
		der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return tls.Certificate{}, errors.Wrap(err, "decrypting TLS key")
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	return cert, errors.Wrap(err, "parsing TLS key pair")
}
