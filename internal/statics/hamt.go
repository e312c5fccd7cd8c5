package statics

import (
	"hash/fnv"
)

// Persistent Hash Array Mapped Trie (HAMT) implementation
// Keyed by binding name, holding cells. Put and Delete return new maps, so a
// staged store is just another root.

const (
	hamtBits = 5
	hamtSize = 1 << hamtBits // 32
	hamtMask = hamtSize - 1
)

// PersistentMap is an immutable hash map
type PersistentMap struct {
	root  *hamtNode
	count int
}

// hamtNode is a node in the HAMT
type hamtNode struct {
	bitmap   uint32        // which indices are populated
	contents []interface{} // stores *hamtEntry, *hamtNode or []*hamtEntry
}

// hamtEntry holds a key-value pair
type hamtEntry struct {
	hash  uint32
	key   string
	value *Cell
}

// EmptyMap returns an empty persistent map
func EmptyMap() *PersistentMap {
	return &PersistentMap{}
}

// Len returns the number of entries
func (m *PersistentMap) Len() int {
	return m.count
}

// Get returns the cell for a key, or nil if not found
func (m *PersistentMap) Get(key string) *Cell {
	if m.root == nil {
		return nil
	}
	return m.root.get(hashString(key), key, 0)
}

// Put returns a new map with the key-value pair added/updated
func (m *PersistentMap) Put(key string, value *Cell) *PersistentMap {
	hash := hashString(key)
	root := m.root
	if root == nil {
		root = &hamtNode{}
	}
	newRoot, added := root.put(hash, key, value, 0)
	count := m.count
	if added {
		count++
	}
	return &PersistentMap{root: newRoot, count: count}
}

// Delete returns a new map without key. The receiver is returned when the
// key is absent.
func (m *PersistentMap) Delete(key string) *PersistentMap {
	if m.root == nil {
		return m
	}
	newRoot, removed := m.root.remove(hashString(key), key, 0)
	if !removed {
		return m
	}
	return &PersistentMap{root: newRoot, count: m.count - 1}
}

// Range iterates over all entries
func (m *PersistentMap) Range(f func(key string, value *Cell) bool) {
	if m.root != nil {
		m.root.iterate(f)
	}
}

// --- hamtNode methods ---

func (n *hamtNode) get(hash uint32, key string, shift uint) *Cell {
	idx := (hash >> shift) & hamtMask
	bit := uint32(1) << idx

	if n.bitmap&bit == 0 {
		return nil
	}

	pos := popcount(n.bitmap & (bit - 1))
	switch v := n.contents[pos].(type) {
	case *hamtEntry:
		if v.hash == hash && v.key == key {
			return v.value
		}
		return nil
	case *hamtNode:
		return v.get(hash, key, shift+hamtBits)
	case []*hamtEntry: // Collision bucket
		for _, e := range v {
			if e.hash == hash && e.key == key {
				return e.value
			}
		}
	}
	return nil
}

func (n *hamtNode) clone() *hamtNode {
	out := &hamtNode{bitmap: n.bitmap, contents: make([]interface{}, len(n.contents))}
	copy(out.contents, n.contents)
	return out
}

func (n *hamtNode) put(hash uint32, key string, value *Cell, shift uint) (*hamtNode, bool) {
	idx := (hash >> shift) & hamtMask
	bit := uint32(1) << idx
	newNode := n.clone()

	if n.bitmap&bit == 0 {
		newNode.bitmap |= bit
		pos := popcount(newNode.bitmap & (bit - 1))
		newNode.contents = append(newNode.contents, nil)
		copy(newNode.contents[pos+1:], newNode.contents[pos:])
		newNode.contents[pos] = &hamtEntry{hash: hash, key: key, value: value}
		return newNode, true
	}

	pos := popcount(n.bitmap & (bit - 1))
	switch v := newNode.contents[pos].(type) {
	case *hamtEntry:
		if v.hash == hash && v.key == key {
			newNode.contents[pos] = &hamtEntry{hash: hash, key: key, value: value}
			return newNode, false
		}
		if shift >= 30 { // Max depth ~6 levels for 32-bit hash
			newNode.contents[pos] = []*hamtEntry{v, {hash: hash, key: key, value: value}}
			return newNode, true
		}
		child := &hamtNode{}
		child, _ = child.put(v.hash, v.key, v.value, shift+hamtBits)
		child, added := child.put(hash, key, value, shift+hamtBits)
		newNode.contents[pos] = child
		return newNode, added

	case *hamtNode:
		newChild, added := v.put(hash, key, value, shift+hamtBits)
		newNode.contents[pos] = newChild
		return newNode, added

	case []*hamtEntry:
		for i, e := range v {
			if e.hash == hash && e.key == key {
				bucket := make([]*hamtEntry, len(v))
				copy(bucket, v)
				bucket[i] = &hamtEntry{hash: hash, key: key, value: value}
				newNode.contents[pos] = bucket
				return newNode, false
			}
		}
		bucket := make([]*hamtEntry, len(v)+1)
		copy(bucket, v)
		bucket[len(v)] = &hamtEntry{hash: hash, key: key, value: value}
		newNode.contents[pos] = bucket
		return newNode, true
	}
	return newNode, false
}

func (n *hamtNode) remove(hash uint32, key string, shift uint) (*hamtNode, bool) {
	idx := (hash >> shift) & hamtMask
	bit := uint32(1) << idx

	if n.bitmap&bit == 0 {
		return n, false
	}

	pos := popcount(n.bitmap & (bit - 1))
	switch v := n.contents[pos].(type) {
	case *hamtEntry:
		if v.hash != hash || v.key != key {
			return n, false
		}
		return n.without(pos, bit), true

	case *hamtNode:
		child, removed := v.remove(hash, key, shift+hamtBits)
		if !removed {
			return n, false
		}
		if child.bitmap == 0 {
			return n.without(pos, bit), true
		}
		out := n.clone()
		out.contents[pos] = child
		return out, true

	case []*hamtEntry:
		for i, e := range v {
			if e.hash != hash || e.key != key {
				continue
			}
			if len(v) == 1 {
				return n.without(pos, bit), true
			}
			bucket := make([]*hamtEntry, 0, len(v)-1)
			bucket = append(bucket, v[:i]...)
			bucket = append(bucket, v[i+1:]...)
			out := n.clone()
			out.contents[pos] = bucket
			return out, true
		}
	}
	return n, false
}

// without returns a copy of n with the entry at pos dropped.
func (n *hamtNode) without(pos int, bit uint32) *hamtNode {
	out := &hamtNode{bitmap: n.bitmap &^ bit, contents: make([]interface{}, 0, len(n.contents)-1)}
	out.contents = append(out.contents, n.contents[:pos]...)
	out.contents = append(out.contents, n.contents[pos+1:]...)
	return out
}

func (n *hamtNode) iterate(f func(key string, value *Cell) bool) bool {
	for _, item := range n.contents {
		switch v := item.(type) {
		case *hamtEntry:
			if !f(v.key, v.value) {
				return false
			}
		case *hamtNode:
			if !v.iterate(f) {
				return false
			}
		case []*hamtEntry:
			for _, e := range v {
				if !f(e.key, e.value) {
					return false
				}
			}
		}
	}
	return true
}

// --- Helper functions ---

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func popcount(x uint32) int {
	x = x - ((x >> 1) & 0x55555555)
	x = (x & 0x33333333) + ((x >> 2) & 0x33333333)
	x = (x + (x >> 4)) & 0x0f0f0f0f
	x = x + (x >> 8)
	x = x + (x >> 16)
	return int(x & 0x3f)
}
