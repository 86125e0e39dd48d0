package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
)

const (
	// Bech32HRP is the human-readable prefix of exported private keys.
	Bech32HRP = "bwprivkey"

	// ed25519Flag is the signature scheme flag prepended to public keys
	// for address derivation and to serialized signatures.
	ed25519Flag = 0x00

	// derivationPath is the fixed key path used for mnemonic-derived
	// treasury keys (SLIP-0010, hardened-only).
	derivationPath = "m/44'/784'/0'/0'/0'"
)

// Keypair is an ed25519 signing key with its derived chain address.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	addr string
}

// ParseKey decodes a private key from any of the three supported
// encodings: bech32 with the bwprivkey prefix, raw hex, or base64.
// Hex and base64 keys may carry the leading scheme flag byte.
func ParseKey(s string) (*Keypair, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidPrivateKey
	}

	if strings.HasPrefix(s, Bech32HRP+"1") {
		return parseBech32Key(s)
	}

	if seed, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil {
		return fromSeedBytes(seed)
	}

	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return fromSeedBytes(raw)
	}

	return nil, fmt.Errorf("%w: not bech32, hex or base64", ErrInvalidPrivateKey)
}

func parseBech32Key(s string) (*Keypair, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if hrp != Bech32HRP {
		return nil, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidPrivateKey, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return fromSeedBytes(raw)
}

// fromSeedBytes accepts a 32-byte seed, optionally preceded by the
// scheme flag byte.
func fromSeedBytes(b []byte) (*Keypair, error) {
	switch len(b) {
	case ed25519.SeedSize:
	case ed25519.SeedSize + 1:
		if b[0] != ed25519Flag {
			return nil, fmt.Errorf("%w: unsupported scheme flag %d", ErrInvalidPrivateKey, b[0])
		}
		b = b[1:]
	default:
		return nil, fmt.Errorf("%w: expected 32-byte seed, got %d bytes", ErrInvalidPrivateKey, len(b))
	}
	return fromSeed(b), nil
}

func fromSeed(seed []byte) *Keypair {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{priv: priv, pub: pub, addr: deriveAddress(pub)}
}

// FromMnemonic derives a keypair from a BIP-39 mnemonic at the chain's
// standard path.
func FromMnemonic(mnemonic string) (*Keypair, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic", ErrInvalidPrivateKey)
	}
	seed := bip39.NewSeed(mnemonic, "")
	key, err := deriveSLIP10(seed, derivationPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return fromSeed(key), nil
}

// deriveAddress computes the chain address: blake2b-256 over the scheme
// flag followed by the public key, hex encoded.
func deriveAddress(pub ed25519.PublicKey) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{ed25519Flag})
	h.Write(pub)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Address returns the keypair's chain address (0x + 64 hex chars).
func (k *Keypair) Address() string {
	return k.addr
}

// PublicKey returns the raw ed25519 public key.
func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.pub
}

// intentScope prefix for transaction data signing.
var txIntent = []byte{0x00, 0x00, 0x00}

// SignTransaction signs base64 BCS transaction bytes and returns the
// serialized signature (flag || sig || pubkey, base64) the node expects.
func (k *Keypair) SignTransaction(txBytesB64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(txBytesB64)
	if err != nil {
		return "", fmt.Errorf("invalid transaction bytes: %w", err)
	}

	msg := make([]byte, 0, len(txIntent)+len(txBytes))
	msg = append(msg, txIntent...)
	msg = append(msg, txBytes...)
	digest := blake2b.Sum256(msg)

	sig := ed25519.Sign(k.priv, digest[:])

	serialized := make([]byte, 0, 1+len(sig)+len(k.pub))
	serialized = append(serialized, ed25519Flag)
	serialized = append(serialized, sig...)
	serialized = append(serialized, k.pub...)
	return base64.StdEncoding.EncodeToString(serialized), nil
}

// deriveSLIP10 walks a hardened-only SLIP-0010 ed25519 path.
func deriveSLIP10(seed []byte, path string) ([]byte, error) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chainCode := sum[:32], sum[32:]

	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] != "m" {
		return nil, fmt.Errorf("invalid derivation path %q", path)
	}
	for _, seg := range segments[1:] {
		if !strings.HasSuffix(seg, "'") {
			return nil, fmt.Errorf("ed25519 derivation requires hardened segments, got %q", seg)
		}
		var index uint32
		if _, err := fmt.Sscanf(strings.TrimSuffix(seg, "'"), "%d", &index); err != nil {
			return nil, fmt.Errorf("invalid path segment %q", seg)
		}
		index += 1 << 31

		data := make([]byte, 0, 37)
		data = append(data, 0x00)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, index)

		mac = hmac.New(sha512.New, chainCode)
		mac.Write(data)
		sum = mac.Sum(nil)
		key, chainCode = sum[:32], sum[32:]
	}
	return key, nil
}
