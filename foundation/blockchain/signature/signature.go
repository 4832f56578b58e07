// Package signature provides the Hasher/Signer primitives required by the
// rest of the chain: a collision-resistant 256-bit digest and a
// keypair/signature abstraction bound to it. The core never depends on a
// specific curve through this package's call sites; this implementation
// substitutes secp256k1 ECDSA (via go-ethereum's crypto package) behind
// the interface, as the design notes permit.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash is the all-zero digest Hash returns when value cannot be
// JSON-encoded.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// recoveryIDOffset is added to the recovery id extracted from a
// go-ethereum signature so a V value produced here is tagged as coming
// from this chain rather than Ethereum mainnet (which offsets by 27).
const recoveryIDOffset = 35

// Hash returns the canonical hex-encoded SHA-256 digest of value. Callers
// are responsible for passing a value whose JSON encoding is already the
// canonical form (declared field order for structs, which is what the
// ledger package's types rely on; encoding/json sorts map keys for us).
func Hash(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ZeroHash
	}

	hash := sha256.Sum256(data)
	return hexutil.Encode(hash[:])
}

// Sign uses privateKey to sign value, returning the signature as the
// [V|R|S] big.Int triple carried on transactions.
func Sign(value any, privateKey *ecdsa.PrivateKey) (v, r, s *big.Int, err error) {
	data, err := stamp(value)
	if err != nil {
		return nil, nil, nil, err
	}

	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return nil, nil, nil, err
	}

	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return nil, nil, nil, err
	}

	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, rs) {
		return nil, nil, nil, errors.New("invalid signature")
	}

	v, r, s = toSignatureValues(sig)

	return v, r, s, nil
}

// VerifySignature checks that v, r, s are well-formed values produced by
// this package (recovery id tagged, r and s in range). High-S values are
// accepted; low-S form is not enforced.
func VerifySignature(v, r, s *big.Int) error {
	uintV := v.Uint64() - recoveryIDOffset
	if uintV != 0 && uintV != 1 {
		return errors.New("invalid recovery id")
	}

	if !crypto.ValidateSignatureValues(byte(uintV), r, s, false) {
		return errors.New("invalid signature values")
	}

	return nil
}

// FromAddress recovers the address of the keypair that produced the
// signature (v, r, s) over value.
//
// If the exact value used when signing is not reproduced bit-for-bit, the
// recovered address will be wrong. No public key is carried on the wire;
// the state engine's check is that the recovered address equals the
// transaction's from field.
func FromAddress(value any, v, r, s *big.Int) (string, error) {
	data, err := stamp(value)
	if err != nil {
		return "", err
	}

	sig := ToSignatureBytes(v, r, s)

	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return "", err
	}

	return crypto.PubkeyToAddress(*publicKey).String(), nil
}

// SignatureString renders v, r, s as a single hex string, recovery id
// included.
func SignatureString(v, r, s *big.Int) string {
	return hexutil.Encode(ToSignatureBytesWithRecoveryID(v, r, s))
}

// ToVRSFromHexSignature splits a hex-encoded signature back into its
// V, R, S components.
func ToVRSFromHexSignature(sigStr string) (v, r, s *big.Int, err error) {
	sig, err := hex.DecodeString(sigStr[2:])
	if err != nil {
		return nil, nil, nil, err
	}

	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetBytes([]byte{sig[64]})

	return v, r, s, nil
}

// =============================================================================

// stamp hashes value and mixes in a chain-specific prefix so a signature
// produced here can never be replayed as a valid signature for another
// protocol that happens to share the same message encoding.
func stamp(value any) ([]byte, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	msgHash := crypto.Keccak256(v)

	prefix := []byte("\x19Ledgerchain Signed Message:\n32")

	data := crypto.Keccak256(prefix, msgHash)

	return data, nil
}

// toSignatureValues converts a 65-byte go-ethereum signature into the
// [V|R|S] form, tagging V with recoveryIDOffset.
func toSignatureValues(sig []byte) (v, r, s *big.Int) {
	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetBytes([]byte{sig[64] + recoveryIDOffset})

	return v, r, s
}

// ToSignatureBytes converts v, r, s into the 65-byte form go-ethereum
// expects, stripping the recovery-id offset back out.
func ToSignatureBytes(v, r, s *big.Int) []byte {
	sig := make([]byte, crypto.SignatureLength)

	rBytes := r.Bytes()
	if len(rBytes) == 31 {
		copy(sig[1:], rBytes)
	} else {
		copy(sig, rBytes)
	}

	sBytes := s.Bytes()
	if len(sBytes) == 31 {
		copy(sig[33:], sBytes)
	} else {
		copy(sig[32:], sBytes)
	}

	sig[64] = byte(v.Uint64() - recoveryIDOffset)

	return sig
}

// ToSignatureBytesWithRecoveryID is like ToSignatureBytes but keeps the
// recovery-id offset in the final byte.
func ToSignatureBytesWithRecoveryID(v, r, s *big.Int) []byte {
	sig := ToSignatureBytes(v, r, s)
	sig[64] = byte(v.Uint64())

	return sig
}
