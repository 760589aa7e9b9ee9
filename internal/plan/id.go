package plan

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// taskIDLength is the number of base36 characters after the "rt-" prefix.
const taskIDLength = 8

// encodeBase36 renders data as exactly length base36 digits, keeping the
// least significant digits when the value is wider.
func encodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i, j := 0, len(chars)-1; i < j; i, j = i+1, j-1 {
		chars[i], chars[j] = chars[j], chars[i]
	}

	str := string(chars)
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// TaskID derives the task identifier for (jobID, code, location). The
// location must already be normalized. nonce is zero except when resolving
// a collision inside one plan.
func TaskID(jobID, code, location string, nonce int) string {
	content := jobID + "|" + code + "|" + location
	if nonce > 0 {
		content += fmt.Sprintf("|%d", nonce)
	}
	hash := sha256.Sum256([]byte(content))
	return "rt-" + encodeBase36(hash[:6], taskIDLength)
}
