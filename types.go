package codex

import (
	"context"
	"encoding/json"
)

// Manifest describes a stored dataset.
type Manifest struct {
	Cid         string `json:"cid"`
	TreeCid     string `json:"treeCid"`
	DatasetSize int64  `json:"datasetSize"`
	BlockSize   int    `json:"blockSize"`
	Filename    string `json:"filename"`
	Mimetype    string `json:"mimetype"`
	Protected   bool   `json:"protected"`
}

// Space reports repository usage.
type Space struct {
	TotalBlocks        int    `json:"totalBlocks"`
	QuotaMaxBytes      uint64 `json:"quotaMaxBytes"`
	QuotaUsedBytes     uint64 `json:"quotaUsedBytes"`
	QuotaReservedBytes uint64 `json:"quotaReservedBytes"`
}

// DebugInfo is the node's view of its own identity.
type DebugInfo struct {
	ID                string   `json:"id"`
	Addrs             []string `json:"addrs"`
	Repo              string   `json:"repo"`
	Spr               string   `json:"spr"`
	AnnounceAddresses []string `json:"announceAddresses"`
}

// PeerRecord is what the node knows about a connected peer.
type PeerRecord struct {
	PeerID    string   `json:"peerId"`
	SeqNo     uint64   `json:"seqNo"`
	Addresses []string `json:"addresses"`
}

func (n *Node) getJSON(ctx context.Context, op string, issue issueFunc, v any) error {
	payload, err := n.do(ctx, op, nil, issue)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return decodeError(op, err)
	}
	return nil
}
