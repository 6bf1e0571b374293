package identity

import (
	"crypto/ed25519"

	sha256 "github.com/minio/sha256-simd"

	"github.com/dep2p/go-firestrike/pkg/types"
)

// NodeIDFromPublicKey 从公钥派生 NodeID
//
// 使用 SHA256(PublicKeyBytes) 作为 NodeID，确保 NodeID 与公钥一一对应。
func NodeIDFromPublicKey(pub ed25519.PublicKey) types.NodeID {
	return types.NodeID(sha256.Sum256(pub))
}
