// Package uuid generates compact random identifiers for sessions and event
// subscribers.
package uuid

import (
	"math/big"

	"github.com/google/uuid"
)

const alphabetBase62 = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var zero big.Int

// NewBase62 returns a random UUID encoded in base62.
func NewBase62() string {
	value := uuid.New()

	return encodeBase62(value[:])
}

func encodeBase62(data []byte) string {
	var value big.Int

	value.SetBytes(data)

	var base big.Int

	result := []byte{}

	for value.Cmp(&zero) != 0 {
		base.SetInt64(int64(len(alphabetBase62)))
		_, remainder := value.DivMod(&value, &base, &base)
		result = append(result, alphabetBase62[remainder.Int64()])
	}

	return string(result)
}
