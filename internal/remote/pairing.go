// Package remote lets a second human attach to any registered agent's
// live PTY from another machine over a private Tailscale network. The
// console prints a pairing URL as a terminal QR code together with a
// random pairing code; the SSH server does not check that code.
package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService namespaces this tool's entries in the OS keychain.
const KeyringService = "duet"

// Identity is this machine's pairing keypair: a stable Ed25519 identity
// used to sign pairing handshakes, persisted with the public half on
// disk and the private half in the OS keyring.
type Identity struct {
	SigningKey   ed25519.PrivateKey
	VerifyingKey ed25519.PublicKey
	Fingerprint  string

	mu         sync.RWMutex
	configPath string
}

type storedIdentity struct {
	VerifyingKey string `json:"verifying_key"`
	Fingerprint  string `json:"fingerprint"`
}

// shouldSkipKeyring lets tests and headless CI avoid touching the real
// OS keychain.
func shouldSkipKeyring() bool {
	v := strings.ToLower(os.Getenv("DUET_SKIP_KEYRING"))
	return v == "1" || v == "true"
}

func signingKeyFilePath(configPath string) string {
	return strings.TrimSuffix(configPath, ".json") + ".signing_key"
}

func storeSigningKey(configPath, fingerprint string, key ed25519.PrivateKey) error {
	secretB64 := base64.StdEncoding.EncodeToString(key.Seed())
	if shouldSkipKeyring() {
		return os.WriteFile(signingKeyFilePath(configPath), []byte(secretB64), 0o600)
	}
	return keyring.Set(KeyringService, fingerprint, secretB64)
}

func loadSigningKey(configPath, fingerprint string) (ed25519.PrivateKey, error) {
	var secretB64 string
	var err error
	if shouldSkipKeyring() {
		var data []byte
		data, err = os.ReadFile(signingKeyFilePath(configPath))
		secretB64 = strings.TrimSpace(string(data))
	} else {
		secretB64, err = keyring.Get(KeyringService, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	seed, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("decoding signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key has wrong length: got %d, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// LoadOrCreateIdentity loads the identity stored at configPath, or
// generates and persists a fresh one if none exists.
func LoadOrCreateIdentity(configPath string) (*Identity, error) {
	if _, err := os.Stat(configPath); err == nil {
		return loadIdentity(configPath)
	}
	return createIdentity(configPath)
}

func loadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	var stored storedIdentity
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	signingKey, err := loadSigningKey(path, stored.Fingerprint)
	if err != nil {
		return nil, err
	}
	return &Identity{
		SigningKey:   signingKey,
		VerifyingKey: signingKey.Public().(ed25519.PublicKey),
		Fingerprint:  stored.Fingerprint,
		configPath:   path,
	}, nil
}

func createIdentity(path string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating pairing keypair: %w", err)
	}
	fingerprint := Fingerprint(pub)

	if err := storeSigningKey(path, fingerprint, priv); err != nil {
		return nil, err
	}

	stored := storedIdentity{
		VerifyingKey: base64.StdEncoding.EncodeToString(pub),
		Fingerprint:  fingerprint,
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing identity: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating identity directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing identity file: %w", err)
	}

	return &Identity{
		SigningKey:   priv,
		VerifyingKey: pub,
		Fingerprint:  fingerprint,
		configPath:   path,
	}, nil
}

// Fingerprint renders a public key as a colon-separated hex digest for
// visual pairing verification.
func Fingerprint(publicKey ed25519.PublicKey) string {
	hash := sha256.Sum256(publicKey)
	parts := make([]string, 8)
	for i := 0; i < 8; i++ {
		parts[i] = fmt.Sprintf("%02x", hash[i])
	}
	return strings.Join(parts, ":")
}

// Sign signs data with this identity's private key.
func (id *Identity) Sign(data []byte) []byte {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return ed25519.Sign(id.SigningKey, data)
}
