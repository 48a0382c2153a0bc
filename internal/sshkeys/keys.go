// Package sshkeys manages the local SSH key pair used to reach provisioned
// instances.
package sshkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	privateKeyName = "vmforge_key"
	publicKeyName  = "vmforge_key.pub"
)

// KeyPair represents an SSH key pair on disk
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PrivateKey     string // PEM-encoded private key content
	PublicKey      string // OpenSSH authorized_keys line
}

// GetOrGenerate returns the key pair under keyDir, generating a new RSA
// pair when none exists
func GetOrGenerate(keyDir string) (*KeyPair, error) {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	privateKeyPath := filepath.Join(keyDir, privateKeyName)
	publicKeyPath := filepath.Join(keyDir, publicKeyName)

	if _, err := os.Stat(privateKeyPath); err == nil {
		return loadKeyPair(privateKeyPath, publicKeyPath)
	}
	return generateKeyPair(privateKeyPath, publicKeyPath)
}

func loadKeyPair(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	privateKeyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	publicKeyBytes, err := os.ReadFile(publicKeyPath)
	if err != nil {
		// Public half is derivable from the private key
		signer, perr := ssh.ParsePrivateKey(privateKeyBytes)
		if perr != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", perr)
		}
		publicKeyBytes = ssh.MarshalAuthorizedKey(signer.PublicKey())
		if werr := os.WriteFile(publicKeyPath, publicKeyBytes, 0644); werr != nil {
			return nil, fmt.Errorf("failed to write public key: %w", werr)
		}
	}

	return &KeyPair{
		PrivateKeyPath: privateKeyPath,
		PublicKeyPath:  publicKeyPath,
		PrivateKey:     string(privateKeyBytes),
		PublicKey:      string(publicKeyBytes),
	}, nil
}

func generateKeyPair(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(privateKeyPath, privatePEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	publicKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %w", err)
	}
	publicBytes := ssh.MarshalAuthorizedKey(publicKey)
	if err := os.WriteFile(publicKeyPath, publicBytes, 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPath: privateKeyPath,
		PublicKeyPath:  publicKeyPath,
		PrivateKey:     string(privatePEM),
		PublicKey:      string(publicBytes),
	}, nil
}
