package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Caller authentication uses an EIP-191 personal-sign over a canonical
// request string, so parties prove control of their address without the
// server ever holding their keys.

// AuthMessage builds the canonical string a caller signs for one request.
func AuthMessage(method, path string, timestamp int64) string {
	return fmt.Sprintf("coinduel|%s|%s|%d", strings.ToUpper(method), path, timestamp)
}

// personalHash computes the EIP-191 digest of a message:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func personalHash(msg string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return ethcrypto.Keccak256([]byte(prefixed))
}

// SignCallerProof signs the canonical request string with the given key and
// returns a hex-encoded 65-byte signature. Used by clients and tests; the
// server only verifies.
func SignCallerProof(pk *ecdsa.PrivateKey, method, path string, timestamp int64) (string, error) {
	sig, err := ethcrypto.Sign(personalHash(AuthMessage(method, path, timestamp)), pk)
	if err != nil {
		return "", fmt.Errorf("crypto: sign caller proof: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverCaller verifies a hex-encoded personal-sign signature over the
// canonical request string and returns the signing address.
func RecoverCaller(method, path string, timestamp int64, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}

	// Normalize v from {27,28} to {0,1} for SigToPub.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(personalHash(AuthMessage(method, path, timestamp)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// ParseAuthTimestamp parses the X-Duel-Timestamp header value.
func ParseAuthTimestamp(v string) (int64, error) {
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("crypto: invalid auth timestamp %q: %w", v, err)
	}
	return ts, nil
}
