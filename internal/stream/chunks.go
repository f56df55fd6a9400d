package stream

import "sort"

// chunk records one UDP datagram's contribution to a reassembled stream:
// its starting sequence, its length, and the reverse-direction sequence
// it acknowledged.
type chunk struct {
	start  Seq
	length uint32
	ack    Seq
}

// chunkSet is a sorted-by-start ordered map, standing in for the
// BTreeMap<Seq, (u32, Seq)> this is ported from. Entries are kept sorted
// so sweeps (count available bytes, consume on message completion) can
// walk them in key order without re-sorting.
type chunkSet struct {
	entries []chunk
}

// upsert inserts a new chunk at start, or merges into an existing one by
// taking the pointwise maximum of length and ack, matching the
// Entry::Vacant / Entry::Occupied merge in the source.
func (c *chunkSet) upsert(start Seq, length uint32, ack Seq) {
	i := sort.Search(len(c.entries), func(i int) bool {
		return !c.entries[i].start.Less(start)
	})
	if i < len(c.entries) && c.entries[i].start == start {
		if length > c.entries[i].length {
			c.entries[i].length = length
		}
		c.entries[i].ack = c.entries[i].ack.Max(ack)
		return
	}
	c.entries = append(c.entries, chunk{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = chunk{start: start, length: length, ack: ack}
}

// front returns the lowest-keyed chunk, or false if empty.
func (c *chunkSet) front() (chunk, bool) {
	if len(c.entries) == 0 {
		return chunk{}, false
	}
	return c.entries[0], true
}

// popFront removes the lowest-keyed chunk.
func (c *chunkSet) popFront() {
	c.entries = c.entries[1:]
}
