package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// AddressFromUncompressedPub expects a 65-byte uncompressed secp256k1
// pubkey (0x04 || X || Y) and returns the EIP-55 checksummed address
// string, or "" when the input is malformed. Used by the signing CLI to
// display addresses without going through go-ethereum's ecdsa types.
func AddressFromUncompressedPub(pub []byte) string {
	if len(pub) != 65 || pub[0] != 0x04 {
		return ""
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	sum := h.Sum(nil)
	return EIP55(sum[12:]) // address = last 20 bytes of keccak256(pubkey)
}

// EIP55 computes the checksummed hex address string from a 20-byte raw address.
func EIP55(addr20 []byte) string {
	lower := hex.EncodeToString(addr20)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	hash := h.Sum(nil)

	out := make([]byte, 0, 2+len(lower))
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			// Uppercase when the matching nibble of keccak(lowercase hex) >= 8
			nibble := hash[i/2] >> 4
			if i%2 == 1 {
				nibble = hash[i/2] & 0x0f
			}
			if nibble >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out = append(out, c)
	}
	return string(out)
}
