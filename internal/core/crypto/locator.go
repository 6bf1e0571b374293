package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dep2p/go-firestrike/pkg/types"
)

// LocatorScheme 磁力定位符前缀
const LocatorScheme = "firestrike://"

// EncodeLocator 编码磁力定位符
//
// 格式: firestrike://<64 位十六进制哈希>#<64 位十六进制密钥>，小写。
func EncodeLocator(hash types.ContentHash, key []byte) string {
	return LocatorScheme + hash.String() + "#" + hex.EncodeToString(key)
}

// DecodeLocator 严格解码磁力定位符
//
// 前缀、分隔符、长度或十六进制字符任一不符都返回 MalformedLocatorError，
// 与 "合法但未知" 的错误区分开。
func DecodeLocator(s string) (types.MagnetLocator, error) {
	if !strings.HasPrefix(s, LocatorScheme) {
		return types.MagnetLocator{}, malformed("missing %q scheme", LocatorScheme)
	}
	body := s[len(LocatorScheme):]

	hashPart, keyPart, ok := strings.Cut(body, "#")
	if !ok {
		return types.MagnetLocator{}, malformed("missing '#' separator")
	}
	if strings.Contains(keyPart, "#") {
		return types.MagnetLocator{}, malformed("more than one '#' separator")
	}
	if len(hashPart) != types.IDLength*2 {
		return types.MagnetLocator{}, malformed("hash must be %d hex chars, got %d", types.IDLength*2, len(hashPart))
	}
	if len(keyPart) != KeySize*2 {
		return types.MagnetLocator{}, malformed("key must be %d hex chars, got %d", KeySize*2, len(keyPart))
	}

	hash, err := types.ParseContentHash(hashPart)
	if err != nil {
		return types.MagnetLocator{}, malformed("hash is not hex")
	}
	key, err := hex.DecodeString(keyPart)
	if err != nil {
		return types.MagnetLocator{}, malformed("key is not hex")
	}
	return types.MagnetLocator{Hash: hash, Key: key}, nil
}

func malformed(format string, args ...any) error {
	return &types.MalformedLocatorError{Reason: fmt.Sprintf(format, args...)}
}
