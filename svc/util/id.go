package util

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	idLen       = 11
	maxRetries  = 5
)

var ErrIDCollision = errors.New("id collision after 5 retries")

// GenID returns a random base62 id that exists reports as unused.
func GenID(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
	for retry := 0; retry < maxRetries; retry++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		id := toBase62(new(big.Int).SetBytes(buf))
		taken, err := exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", ErrIDCollision
}
func toBase62(num *big.Int) string {
	base := big.NewInt(62)
	result := make([]byte, 0, idLen)
	temp := new(big.Int).Set(num)
	mod := new(big.Int)
	for temp.Sign() > 0 {
		temp.DivMod(temp, base, mod)
		result = append(result, base62Chars[mod.Int64()])
	}
	for len(result) < idLen {
		result = append(result, base62Chars[0])
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return string(result)
}
