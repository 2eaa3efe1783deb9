// Package identity holds the server-side signing identities: the request
// issuer that demands payment and the receipt issuer that attests it was
// paid. The two are kept on separate keys.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/golang-jwt/jwt/v5"
)

var ErrIdentityUnavailable = errors.New("signing key material is not configured")

// Identity is an ed25519 keypair with its did:pkh decentralized identifier.
type Identity struct {
	DID     string
	Address string

	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// FromHexSeed builds an identity from a hex-encoded 32-byte ed25519 seed.
// chainRef is the CAIP-2 reference of the ledger the DID is anchored on.
func FromHexSeed(seedHex, chainRef string) (*Identity, error) {
	if seedHex == "" {
		return nil, ErrIdentityUnavailable
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	addr := base58.Encode(pub)

	return &Identity{
		DID:     PayerDID(chainRef, addr),
		Address: addr,
		priv:    priv,
		pub:     pub,
	}, nil
}

// PayerDID composes a did:pkh:solana DID for an account on chainRef.
func PayerDID(chainRef, address string) string {
	return fmt.Sprintf("did:pkh:solana:%s:%s", chainRef, address)
}

// SignClaims signs a JWT claim set with the identity key. EdDSA only.
func (id *Identity) SignClaims(claims jwt.Claims) (string, error) {
	if id == nil || id.priv == nil {
		return "", ErrIdentityUnavailable
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(id.priv)
}

// VerifyClaims parses token into claims, accepting only EdDSA signatures
// made by this identity.
func (id *Identity) VerifyClaims(token string, claims jwt.Claims) error {
	if id == nil || id.pub == nil {
		return ErrIdentityUnavailable
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return id.pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwt.ErrTokenSignatureInvalid
	}
	return nil
}
