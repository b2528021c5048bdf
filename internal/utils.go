package internal

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// decodeHexField decodes an ABI-rendered integer ("0x2a", "0x0", "42") into big-endian bytes.
// Odd-length hex is left-padded with a zero nibble.
func decodeHexField(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
			n, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return nil, fmt.Errorf("not a number: %q", val)
			}
			return n.Bytes(), nil
		}
		s = s[2:]
		if len(s)%2 == 1 {
			s = "0" + s
		}
		b, err := hexutil.Decode("0x" + s)
		if err != nil {
			return nil, fmt.Errorf("bad hex %q: %v", val, err)
		}
		return b, nil
	case float64:
		if val < 0 || val != float64(uint64(val)) {
			return nil, fmt.Errorf("not an unsigned integer: %v", val)
		}
		return new(big.Int).SetUint64(uint64(val)).Bytes(), nil
	case nil:
		return nil, fmt.Errorf("missing value")
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}

func parsePublicKey(v interface{}) ([32]byte, error) {
	var key [32]byte
	b, err := decodeHexField(v)
	if err != nil {
		return key, err
	}
	b = new(big.Int).SetBytes(b).Bytes() // strip leading zeros
	if len(b) > len(key) {
		return key, fmt.Errorf("public key is %d bytes", len(b))
	}
	copy(key[:], common.LeftPadBytes(b, len(key)))
	return key, nil
}

func parseUint64(v interface{}) (uint64, error) {
	b, err := decodeHexField(v)
	if err != nil {
		return 0, err
	}
	n := new(big.Int).SetBytes(b)
	if !n.IsUint64() {
		return 0, fmt.Errorf("value %s overflows uint64", n.String())
	}
	return n.Uint64(), nil
}

// hexKey renders a public key as fixed-width 0x-prefixed hex
func hexKey(key [32]byte) string {
	return "0x" + hex.EncodeToString(key[:])
}
