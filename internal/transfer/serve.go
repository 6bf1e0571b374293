package transfer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/internal/discovery/dht"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// handleGetDescriptor 回复本地保存的内容描述
func (o *Orchestrator) handleGetDescriptor(_ context.Context, req *dht.Message) *dht.Message {
	self := o.dht.Self()
	hash := types.ContentHash(req.Key)

	desc, err := o.store.Descriptor(hash)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			logger.Warn("读取内容描述失败", "hash", hash.ShortString(), "error", err)
		}
		return req.ErrorReply(self, types.ErrNotFound.Error())
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return req.ErrorReply(self, "encode descriptor")
	}

	resp := req.Reply(self)
	resp.Payload = payload
	return resp
}

// handleGetChunk 回复本地保存的分块
func (o *Orchestrator) handleGetChunk(_ context.Context, req *dht.Message) *dht.Message {
	self := o.dht.Self()
	hash := types.ContentHash(req.Key)

	data, err := o.store.Chunk(hash, int(req.Index))
	if err != nil {
		logger.Debug("分块不可用", "hash", hash.ShortString(), "index", req.Index, "error", err)
		return req.ErrorReply(self, types.ErrChunkUnavailable.Error())
	}
	o.metrics.AddChunkBytes(metrics.DirOut, len(data))

	resp := req.Reply(self)
	resp.Payload = data
	return resp
}
