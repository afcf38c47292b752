package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required by the address format in spec.md §6
)

// Network selects the address version byte. See spec.md §6.
type Network byte

const (
	Mainnet Network = 0x00
	Testnet Network = 0x6F
)

// checksumLen is the trailing checksum length in a Base58Check address.
const checksumLen = 4

// EncodeAddress builds the Base58(version || ripemd160(sha256(pubkey)) || checksum)
// address format from spec.md §6.
func EncodeAddress(network Network, pubkey []byte) (string, error) {
	if len(pubkey) == 0 {
		return "", fmt.Errorf("crypto: empty pubkey")
	}
	payload := append([]byte{byte(network)}, Hash160(pubkey)...)
	sum := checksum(payload)
	full := append(payload, sum[:]...)
	return base58.Encode(full), nil
}

// DecodeAddress validates and splits a Base58Check address back into its
// network byte and 20-byte pubkey hash.
func DecodeAddress(addr string) (Network, [20]byte, error) {
	var hash [20]byte
	raw, err := base58.Decode(addr)
	if err != nil {
		return 0, hash, fmt.Errorf("crypto: decode address: %w", err)
	}
	if len(raw) != 1+20+checksumLen {
		return 0, hash, fmt.Errorf("crypto: address: wrong length %d", len(raw))
	}
	payload := raw[:1+20]
	want := raw[1+20:]
	got := checksum(payload)
	if string(got[:]) != string(want) {
		return 0, hash, fmt.Errorf("crypto: address: bad checksum")
	}
	copy(hash[:], payload[1:])
	return Network(payload[0]), hash, nil
}

// Hash160 is RIPEMD-160(SHA-256(pubkey)), the address payload consensus
// input-signature checks hash a spending key down to before comparing it
// against a previous output's encoded owner address.
func Hash160(pubkey []byte) []byte {
	sha := sha256.Sum256(pubkey)
	r := ripemd160.New()
	_, _ = r.Write(sha[:])
	return r.Sum(nil)
}

func checksum(payload []byte) [checksumLen]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [checksumLen]byte
	copy(out[:], second[:checksumLen])
	return out
}
