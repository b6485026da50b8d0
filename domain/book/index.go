package book

const (
	// leafCap and branchCap size the fixed arena blocks. Arrays carry
	// one slot of overflow so splits run after insertion.
	leafCap   = 16
	branchCap = 16
)

const nilNode = int32(-1)

// Key orders resident orders by (price, insertion sequence). Bid prices
// are stored bitwise-complemented so one ascending comparison yields
// best-first order on both sides.
type Key struct {
	Sort uint64
	Seq  uint64
}

func makeKey(side Side, price, seq uint64) Key {
	if side == Bid {
		return Key{Sort: ^price, Seq: seq}
	}
	return Key{Sort: price, Seq: seq}
}

func (k Key) Less(o Key) bool {
	if k.Sort != o.Sort {
		return k.Sort < o.Sort
	}
	return k.Seq < o.Seq
}

// Price recovers the order price from a side-encoded key.
func (k Key) Price(side Side) uint64 {
	if side == Bid {
		return ^k.Sort
	}
	return k.Sort
}

type entry struct {
	key Key
	ord *Order
}

// node is either a leaf block or a branch, addressed by arena index.
// A branch with n children holds n-1 separator keys; keys[j] is a
// lower bound for the subtree at kids[j+1].
type node struct {
	leaf   bool
	n      int
	parent int32

	// leaf
	ents [leafCap + 1]entry
	next int32
	prev int32

	// branch
	keys [branchCap]Key
	kids [branchCap + 1]int32
}

// Index is an ordered map over (price, sequence) keys for one side of
// a book. Nodes live in a slice-backed arena; leaves are chained for
// O(1) neighbor traversal. Removal frees empty nodes only, which keeps
// every ordering invariant intact without rebalancing.
type Index struct {
	arena []node
	free  []int32
	root  int32
	head  int32
	tail  int32
	size  int
}

func NewIndex() *Index {
	return &Index{root: nilNode, head: nilNode, tail: nilNode}
}

func (ix *Index) Size() int   { return ix.size }
func (ix *Index) Empty() bool { return ix.size == 0 }

// Min returns the best resident order, or nil.
func (ix *Index) Min() *Order {
	if ix.head == nilNode {
		return nil
	}
	return ix.arena[ix.head].ents[0].ord
}

// Insert adds o under its (price, seq) key. Keys are unique because
// sequence numbers are.
func (ix *Index) Insert(o *Order) {
	k := o.key()
	if ix.root == nilNode {
		id := ix.alloc(true)
		nd := ix.at(id)
		nd.ents[0] = entry{key: k, ord: o}
		nd.n = 1
		ix.root, ix.head, ix.tail = id, id, id
		ix.size++
		return
	}
	id := ix.findLeaf(k)
	nd := ix.at(id)
	pos := leafPos(nd, k)
	copy(nd.ents[pos+1:nd.n+1], nd.ents[pos:nd.n])
	nd.ents[pos] = entry{key: k, ord: o}
	nd.n++
	ix.size++
	if nd.n > leafCap {
		ix.splitLeaf(id)
	}
}

// Remove deletes the entry for k and returns its order, or nil if absent.
func (ix *Index) Remove(k Key) *Order {
	if ix.root == nilNode {
		return nil
	}
	id := ix.findLeaf(k)
	nd := ix.at(id)
	pos := leafPos(nd, k)
	if pos >= nd.n || nd.ents[pos].key != k {
		return nil
	}
	o := nd.ents[pos].ord
	copy(nd.ents[pos:nd.n-1], nd.ents[pos+1:nd.n])
	nd.ents[nd.n-1] = entry{}
	nd.n--
	ix.size--
	if nd.n == 0 {
		ix.dropNode(id)
	}
	return o
}

// ---- iteration ----

// Iterator walks entries in key order. It is read-only; any mutation of
// the index invalidates it.
type Iterator struct {
	ix   *Index
	node int32
	pos  int
}

// Begin positions at the best entry.
func (ix *Index) Begin() Iterator {
	return Iterator{ix: ix, node: ix.head}
}

// Seek positions at the first entry with key >= k.
func (ix *Index) Seek(k Key) Iterator {
	if ix.root == nilNode {
		return Iterator{ix: ix, node: nilNode}
	}
	id := ix.findLeaf(k)
	nd := ix.at(id)
	pos := leafPos(nd, k)
	it := Iterator{ix: ix, node: id, pos: pos}
	if pos >= nd.n {
		it.node = nd.next
		it.pos = 0
	}
	return it
}

func (it *Iterator) Valid() bool {
	return it.node != nilNode
}

func (it *Iterator) Key() Key {
	return it.ix.arena[it.node].ents[it.pos].key
}

func (it *Iterator) Order() *Order {
	return it.ix.arena[it.node].ents[it.pos].ord
}

func (it *Iterator) Next() {
	nd := &it.ix.arena[it.node]
	it.pos++
	if it.pos >= nd.n {
		it.node = nd.next
		it.pos = 0
	}
}

// ---- arena ----

func (ix *Index) at(id int32) *node {
	return &ix.arena[id]
}

func (ix *Index) alloc(leaf bool) int32 {
	var id int32
	if n := len(ix.free); n > 0 {
		id = ix.free[n-1]
		ix.free = ix.free[:n-1]
		ix.arena[id] = node{}
	} else {
		ix.arena = append(ix.arena, node{})
		id = int32(len(ix.arena) - 1)
	}
	nd := &ix.arena[id]
	nd.leaf = leaf
	nd.parent = nilNode
	nd.next = nilNode
	nd.prev = nilNode
	return id
}

func (ix *Index) release(id int32) {
	ix.arena[id] = node{}
	ix.free = append(ix.free, id)
}

// ---- descent ----

func (ix *Index) findLeaf(k Key) int32 {
	id := ix.root
	for {
		nd := ix.at(id)
		if nd.leaf {
			return id
		}
		j := 0
		for j < nd.n-1 && !k.Less(nd.keys[j]) {
			j++
		}
		id = nd.kids[j]
	}
}

// leafPos returns the first slot whose key is >= k. Leaves are small,
// a linear scan beats binary search here.
func leafPos(nd *node, k Key) int {
	i := 0
	for i < nd.n && nd.ents[i].key.Less(k) {
		i++
	}
	return i
}

// ---- splits ----

func (ix *Index) splitLeaf(id int32) {
	rid := ix.alloc(true)
	left := ix.at(id)
	right := ix.at(rid)

	mid := left.n / 2
	copy(right.ents[:], left.ents[mid:left.n])
	right.n = left.n - mid
	for i := mid; i < left.n; i++ {
		left.ents[i] = entry{}
	}
	left.n = mid

	right.next = left.next
	right.prev = id
	left.next = rid
	if right.next != nilNode {
		ix.at(right.next).prev = rid
	} else {
		ix.tail = rid
	}

	ix.insertParent(id, right.ents[0].key, rid)
}

func (ix *Index) splitBranch(id int32) {
	rid := ix.alloc(false)
	left := ix.at(id)
	right := ix.at(rid)

	n := left.n
	mid := n / 2
	sep := left.keys[mid-1]

	rn := n - mid
	copy(right.kids[:rn], left.kids[mid:n])
	copy(right.keys[:rn-1], left.keys[mid:n-1])
	right.n = rn
	for j := 0; j < rn; j++ {
		ix.at(right.kids[j]).parent = rid
	}
	left.n = mid

	ix.insertParent(id, sep, rid)
}

func (ix *Index) insertParent(leftID int32, sep Key, rightID int32) {
	pid := ix.at(leftID).parent
	if pid == nilNode {
		rootID := ix.alloc(false)
		root := ix.at(rootID)
		root.kids[0] = leftID
		root.kids[1] = rightID
		root.keys[0] = sep
		root.n = 2
		ix.at(leftID).parent = rootID
		ix.at(rightID).parent = rootID
		ix.root = rootID
		return
	}
	p := ix.at(pid)
	i := 0
	for p.kids[i] != leftID {
		i++
	}
	copy(p.keys[i+1:p.n], p.keys[i:p.n-1])
	copy(p.kids[i+2:p.n+1], p.kids[i+1:p.n])
	p.keys[i] = sep
	p.kids[i+1] = rightID
	p.n++
	ix.at(rightID).parent = pid
	if p.n > branchCap {
		ix.splitBranch(pid)
	}
}

// ---- removal of empty nodes ----

func (ix *Index) dropNode(id int32) {
	nd := ix.at(id)
	if nd.leaf {
		if nd.prev != nilNode {
			ix.at(nd.prev).next = nd.next
		} else {
			ix.head = nd.next
		}
		if nd.next != nilNode {
			ix.at(nd.next).prev = nd.prev
		} else {
			ix.tail = nd.prev
		}
	}
	pid := nd.parent
	ix.release(id)
	if pid == nilNode {
		ix.root, ix.head, ix.tail = nilNode, nilNode, nilNode
		return
	}

	p := ix.at(pid)
	if p.n == 1 {
		// id was the branch's only child, so the branch empties with it.
		p.n = 0
		ix.dropNode(pid)
		return
	}
	i := 0
	for p.kids[i] != id {
		i++
	}
	if i == 0 {
		copy(p.kids[0:p.n-1], p.kids[1:p.n])
		copy(p.keys[0:p.n-2], p.keys[1:p.n-1])
	} else {
		copy(p.kids[i:p.n-1], p.kids[i+1:p.n])
		copy(p.keys[i-1:p.n-2], p.keys[i:p.n-1])
	}
	p.n--

	switch {
	case p.n == 0:
		// Last child of a lazily thinned branch went away.
		ix.dropNode(pid)
	case p.n == 1 && p.parent == nilNode:
		only := p.kids[0]
		ix.root = only
		ix.at(only).parent = nilNode
		ix.release(pid)
	}
}
