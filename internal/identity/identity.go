// Package identity derives an agent's id and name: an Ed25519 keypair whose
// public key hashes to the agentId, per spec.md §3's identity field.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Identity is one daemon slot's cryptographic identity. AgentID is derived,
// never chosen; Name is assigned by the caller from Role and a sequence
// number.
type Identity struct {
	AgentID    string
	Name       string
	Role       string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// New generates a fresh keypair and derives the agentId from it: the first
// 8 hex characters of the SHA-256 of the Ed25519 public key. Name follows
// the swarm-<role>-<NNN> convention.
func New(role string, seq int) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	sum := sha256.Sum256(pub)
	return &Identity{
		AgentID:    hex.EncodeToString(sum[:])[:8],
		Name:       fmt.Sprintf("swarm-%s-%03d", role, seq),
		Role:       role,
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// record is the on-disk shape of identity.json. The file is opaque to the
// rest of the core per spec.md §6; only this package reads or writes it.
type record struct {
	AgentID    string `json:"agentId"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// Marshal encodes the identity as the identity.json contents.
func (id *Identity) Marshal() ([]byte, error) {
	r := record{
		AgentID:    id.AgentID,
		Name:       id.Name,
		Role:       id.Role,
		PublicKey:  base64.StdEncoding.EncodeToString(id.PublicKey),
		PrivateKey: base64.StdEncoding.EncodeToString(id.PrivateKey),
	}
	return json.MarshalIndent(r, "", "  ")
}

// Parse decodes identity.json contents written by Marshal.
func Parse(data []byte) (*Identity, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("identity: parse: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(r.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("identity: decode public key: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(r.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("identity: decode private key: %w", err)
	}
	return &Identity{
		AgentID:    r.AgentID,
		Name:       r.Name,
		Role:       r.Role,
		PublicKey:  ed25519.PublicKey(pub),
		PrivateKey: ed25519.PrivateKey(priv),
	}, nil
}
