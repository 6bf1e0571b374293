package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/dep2p/go-firestrike/pkg/types"
)

// SaltSize 哈希盐字节数
const SaltSize = 32

// HashContent 计算 SHA3-256(salt || data)
//
// 同一明文由不同发布者独立发布时盐不同，DHT 键因此不会碰撞。
func HashContent(data, salt []byte) types.ContentHash {
	h := sha3.New256()
	h.Write(salt)
	h.Write(data)
	var out types.ContentHash
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyContent 校验 data 的加盐哈希是否等于 expected
func VerifyContent(data, salt []byte, expected types.ContentHash) (types.ContentHash, bool) {
	actual := HashContent(data, salt)
	return actual, subtle.ConstantTimeCompare(actual[:], expected[:]) == 1
}

// GenerateSalt 生成随机盐
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
