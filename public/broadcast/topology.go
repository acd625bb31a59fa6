// Package broadcast implements the gossip broadcast application: chunk
// topology assignment, batched at-least-once dissemination with
// acknowledgement tracking, per-neighbor send coalescing, and
// timeout-driven retransmission.
package broadcast

import (
	"sort"

	"github.com/tenzoki/maelgox/public/maelstrom"
)

// Topology is the fixed neighbor assignment a node derives once, at
// construction, from the full cluster membership.
type Topology struct {
	Neighbors       []maelstrom.NodeID
	AlwaysBroadcast bool
}

// BuildTopology slices the cluster into five contiguous chunks
// (chunk_size = floor(n/5), with any remainder folded into the last
// chunk) and locates self's chunk. The node at index 0 within a chunk is
// its leader: its neighbors are the next chunk (wrapping around) and it
// re-broadcasts any newly seen value regardless of where it came from.
// Every other node is a chunk member: its neighbors are its own
// chunk-mates and it only re-broadcasts values it learned from a client.
//
// For cluster sizes below 5 this falls back to one singleton chunk per
// node (chunk_size would otherwise be 0): every node is its own chunk
// leader, with its single neighbor being the next node in the ring.
func BuildTopology(self maelstrom.NodeID, nodeIDs []maelstrom.NodeID) Topology {
	sorted := make([]maelstrom.NodeID, len(nodeIDs))
	copy(sorted, nodeIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	chunks := buildChunks(sorted)

	chunkIndex, position := -1, -1
	for ci, chunk := range chunks {
		for pi, id := range chunk {
			if id == self {
				chunkIndex, position = ci, pi
			}
		}
	}
	if chunkIndex == -1 {
		// self absent from its own cluster list: no peers to gossip with.
		return Topology{AlwaysBroadcast: true}
	}

	if position == 0 {
		next := chunks[(chunkIndex+1)%len(chunks)]
		return Topology{Neighbors: withoutSelf(next, self), AlwaysBroadcast: true}
	}
	return Topology{Neighbors: withoutSelf(chunks[chunkIndex], self), AlwaysBroadcast: false}
}

func buildChunks(sorted []maelstrom.NodeID) [][]maelstrom.NodeID {
	const chunkCount = 5
	n := len(sorted)
	if n < chunkCount {
		chunks := make([][]maelstrom.NodeID, n)
		for i, id := range sorted {
			chunks[i] = []maelstrom.NodeID{id}
		}
		return chunks
	}

	chunkSize := n / chunkCount
	chunks := make([][]maelstrom.NodeID, chunkCount)
	for i := 0; i < chunkCount; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if i == chunkCount-1 {
			end = n
		}
		chunks[i] = sorted[start:end]
	}
	return chunks
}

func withoutSelf(ids []maelstrom.NodeID, self maelstrom.NodeID) []maelstrom.NodeID {
	out := make([]maelstrom.NodeID, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}
