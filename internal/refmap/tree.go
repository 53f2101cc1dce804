// Package refmap implements the shared, ordered address→reference map
// (C5): an in-memory red-black tree keyed by base address supporting exact
// and "largest base <= address" (FindLE) lookups, guarded by one lock
// shared by every per-thread consumer.
package refmap

import (
	"math"

	"github.com/tracecore/tracecore/pkg/safeconv"
)

// Item is the object stored in each tree node: a base address and the
// ReferenceID classified at that address.
type Item struct {
	Key   uint64
	Value uint64
}

// allocator manages node storage for one tree with gap reuse on delete.
type allocator struct {
	storage []node
	gaps    map[uint32]bool
}

func newAllocator() *allocator {
	return &allocator{storage: []node{}, gaps: map[uint32]bool{}}
}

func (a *allocator) malloc() uint32 {
	if len(a.gaps) > 0 {
		var key uint32

		for key = range a.gaps {
			break
		}

		delete(a.gaps, key)

		return key
	}

	nodeLen := len(a.storage)
	if nodeLen == 0 {
		// Zero is reserved as the nil-node sentinel.
		a.storage = append(a.storage, node{})
		nodeLen = 1
	}

	if nodeLen == negativeLimitNode-1 {
		panic("refmap: tree allocator exhausted uint32 node index space")
	}

	a.storage = append(a.storage, node{})

	return safeconv.MustIntToUint32(nodeLen)
}

func (a *allocator) free(nodeIdx uint32) {
	if nodeIdx == 0 {
		panic("refmap: node #0 is reserved and cannot be freed")
	}

	a.storage[nodeIdx] = node{}
	a.gaps[nodeIdx] = true
}

// tree is a red-black tree keyed by uint64 address, APIs modeled on
// C++ STL's std::map, adapted from a node-allocator-backed red-black tree
// used elsewhere in this codebase for ordered integer-keyed lookups.
//
// Credits for the rebalancing algorithm: Yaz Saito,
// http://en.literateprograms.org/Red-black_tree_(C).
type tree struct {
	allocator        *allocator
	root             uint32
	minNode, maxNode uint32
	count            int32
}

func newTree() *tree {
	return &tree{allocator: newAllocator()}
}

func (t *tree) storage() []node {
	return t.allocator.storage
}

func (t *tree) Len() int {
	return int(t.count)
}

// Get returns the Value stored at key, and whether an exact match existed.
func (t *tree) Get(key uint64) (uint64, bool) {
	nodeIdx, exact := t.findGE(key)
	if !exact {
		return 0, false
	}

	return t.storage()[nodeIdx].item.Value, true
}

// Min returns an iterator to the minimum item, or Limit() if empty.
func (t *tree) Min() iterator {
	return iterator{t, t.minNode}
}

// Limit returns an iterator pointing beyond the maximum item.
func (t *tree) Limit() iterator {
	return iterator{t, 0}
}

// NegativeLimit returns an iterator pointing before the minimum item.
func (t *tree) NegativeLimit() iterator {
	return iterator{t, negativeLimitNode}
}

// FindGE finds the smallest element N such that N.Key >= key.
func (t *tree) FindGE(key uint64) iterator {
	nodeIdx, _ := t.findGE(key)

	return iterator{t, nodeIdx}
}

// FindLE finds the largest element N such that N.Key <= key.
func (t *tree) FindLE(key uint64) iterator {
	nodeIdx, exact := t.findGE(key)
	if exact {
		return iterator{t, nodeIdx}
	}

	if nodeIdx != 0 {
		return iterator{t, doPrev(nodeIdx, t.storage())}
	}

	if t.maxNode == 0 {
		return iterator{t, negativeLimitNode}
	}

	return iterator{t, t.maxNode}
}

// Insert adds item to the tree. Returns false without modification if the
// key is already present.
//
//nolint:gocognit // RB-tree insertion with rebalancing is inherently complex.
func (t *tree) Insert(item Item) (bool, iterator) {
	nodeIdx := t.doInsert(item)
	if nodeIdx == 0 {
		return false, iterator{}
	}

	alloc := t.storage()
	insN := nodeIdx
	alloc[nodeIdx].color = red

	for {
		if alloc[nodeIdx].parent == 0 {
			alloc[nodeIdx].color = black

			break
		}

		if alloc[alloc[nodeIdx].parent].color {
			break
		}

		grandparent := alloc[alloc[nodeIdx].parent].parent

		var uncle uint32
		if isLeftChild(alloc[nodeIdx].parent, alloc) {
			uncle = alloc[grandparent].right
		} else {
			uncle = alloc[grandparent].left
		}

		if uncle != 0 && !alloc[uncle].color {
			alloc[alloc[nodeIdx].parent].color = black
			alloc[uncle].color = black
			alloc[grandparent].color = red
			nodeIdx = grandparent

			continue
		}

		if isRightChild(nodeIdx, alloc) && isLeftChild(alloc[nodeIdx].parent, alloc) {
			t.rotateLeft(alloc[nodeIdx].parent)
			nodeIdx = alloc[nodeIdx].left

			continue
		}

		if isLeftChild(nodeIdx, alloc) && isRightChild(alloc[nodeIdx].parent, alloc) {
			t.rotateRight(alloc[nodeIdx].parent)
			nodeIdx = alloc[nodeIdx].right

			continue
		}

		alloc[alloc[nodeIdx].parent].color = black
		alloc[grandparent].color = red

		if isLeftChild(nodeIdx, alloc) {
			t.rotateRight(grandparent)
		} else {
			t.rotateLeft(grandparent)
		}

		break
	}

	return true, iterator{t, insN}
}

// DeleteWithKey deletes the item with the given key, returning whether
// a matching item was found.
func (t *tree) DeleteWithKey(key uint64) bool {
	nodeIdx, exact := t.findGE(key)
	if exact {
		t.doDelete(nodeIdx)

		return true
	}

	return false
}

// iterator allows scanning tree elements in sort order. The invalidation
// rule matches C++ std::map<>'s: deleting the pointed-to element
// invalidates the iterator; other mutations do not.
type iterator struct {
	tree *tree
	node uint32
}

func (it iterator) Limit() bool { return it.node == 0 }

func (it iterator) NegativeLimit() bool { return it.node == negativeLimitNode }

// Item returns the current element, or nil at either limit.
func (it iterator) Item() *Item {
	if it.Limit() || it.NegativeLimit() {
		return nil
	}

	return &it.tree.storage()[it.node].item
}

// Next returns an iterator to the successor of the current element.
func (it iterator) Next() iterator {
	if it.NegativeLimit() {
		return iterator{it.tree, it.tree.minNode}
	}

	return iterator{it.tree, doNext(it.node, it.tree.storage())}
}

// Prev returns an iterator to the predecessor of the current element.
func (it iterator) Prev() iterator {
	if !it.Limit() {
		return iterator{it.tree, doPrev(it.node, it.tree.storage())}
	}

	if it.tree.maxNode == 0 {
		return iterator{it.tree, negativeLimitNode}
	}

	return iterator{it.tree, it.tree.maxNode}
}

const (
	red               = false
	black             = true
	negativeLimitNode = math.MaxUint32
)

type node struct {
	item                Item
	parent, left, right uint32
	color               bool
}

func getColor(nodeIdx uint32, alloc []node) bool {
	if nodeIdx == 0 {
		return black
	}

	return alloc[nodeIdx].color
}

func isLeftChild(nodeIdx uint32, alloc []node) bool {
	return nodeIdx == alloc[alloc[nodeIdx].parent].left
}

func isRightChild(nodeIdx uint32, alloc []node) bool {
	return nodeIdx == alloc[alloc[nodeIdx].parent].right
}

func sibling(nodeIdx uint32, alloc []node) uint32 {
	if isLeftChild(nodeIdx, alloc) {
		return alloc[alloc[nodeIdx].parent].right
	}

	return alloc[alloc[nodeIdx].parent].left
}

func doNext(nodeIdx uint32, alloc []node) uint32 {
	if alloc[nodeIdx].right != 0 {
		cursor := alloc[nodeIdx].right

		for alloc[cursor].left != 0 {
			cursor = alloc[cursor].left
		}

		return cursor
	}

	for nodeIdx != 0 {
		parentIdx := alloc[nodeIdx].parent
		if parentIdx == 0 {
			return 0
		}

		if isLeftChild(nodeIdx, alloc) {
			return parentIdx
		}

		nodeIdx = parentIdx
	}

	return 0
}

func doPrev(nodeIdx uint32, alloc []node) uint32 {
	if alloc[nodeIdx].left != 0 {
		return maxPredecessor(nodeIdx, alloc)
	}

	for nodeIdx != 0 {
		parentIdx := alloc[nodeIdx].parent
		if parentIdx == 0 {
			break
		}

		if isRightChild(nodeIdx, alloc) {
			return parentIdx
		}

		nodeIdx = parentIdx
	}

	return negativeLimitNode
}

func maxPredecessor(nodeIdx uint32, alloc []node) uint32 {
	cursor := alloc[nodeIdx].left

	for alloc[cursor].right != 0 {
		cursor = alloc[cursor].right
	}

	return cursor
}

func (t *tree) maybeSetMinNode(nodeIdx uint32) {
	alloc := t.storage()

	if t.minNode == 0 {
		t.minNode = nodeIdx
		t.maxNode = nodeIdx
	} else if alloc[nodeIdx].item.Key < alloc[t.minNode].item.Key {
		t.minNode = nodeIdx
	}
}

func (t *tree) maybeSetMaxNode(nodeIdx uint32) {
	alloc := t.storage()

	if t.maxNode == 0 {
		t.minNode = nodeIdx
		t.maxNode = nodeIdx
	} else if alloc[nodeIdx].item.Key > alloc[t.maxNode].item.Key {
		t.maxNode = nodeIdx
	}
}

func (t *tree) recomputeMinNode() {
	alloc := t.storage()
	t.minNode = t.root

	if t.minNode != 0 {
		for alloc[t.minNode].left != 0 {
			t.minNode = alloc[t.minNode].left
		}
	}
}

func (t *tree) recomputeMaxNode() {
	alloc := t.storage()
	t.maxNode = t.root

	if t.maxNode != 0 {
		for alloc[t.maxNode].right != 0 {
			t.maxNode = alloc[t.maxNode].right
		}
	}
}

func (t *tree) doInsert(item Item) uint32 {
	if t.root == 0 {
		nodeIdx := t.allocator.malloc()
		t.storage()[nodeIdx].item = item
		t.root = nodeIdx
		t.minNode = nodeIdx
		t.maxNode = nodeIdx
		t.count++

		return nodeIdx
	}

	parent := t.root
	storageSlice := t.storage()

	for {
		parentNode := storageSlice[parent]

		switch {
		case item.Key == parentNode.item.Key:
			return 0
		case item.Key < parentNode.item.Key:
			if parentNode.left == 0 {
				nodeIdx := t.allocator.malloc()
				storageSlice = t.storage()
				newNode := &storageSlice[nodeIdx]
				newNode.item = item
				newNode.parent = parent
				storageSlice[parent].left = nodeIdx
				t.count++
				t.maybeSetMinNode(nodeIdx)

				return nodeIdx
			}

			parent = parentNode.left
		default:
			if parentNode.right == 0 {
				nodeIdx := t.allocator.malloc()
				storageSlice = t.storage()
				newNode := &storageSlice[nodeIdx]
				newNode.item = item
				newNode.parent = parent
				storageSlice[parent].right = nodeIdx
				t.count++
				t.maybeSetMaxNode(nodeIdx)

				return nodeIdx
			}

			parent = parentNode.right
		}
	}
}

func (t *tree) findGE(key uint64) (uint32, bool) {
	alloc := t.storage()
	nodeIdx := t.root

	for {
		if nodeIdx == 0 {
			return 0, false
		}

		switch {
		case key == alloc[nodeIdx].item.Key:
			return nodeIdx, true
		case key < alloc[nodeIdx].item.Key:
			if alloc[nodeIdx].left == 0 {
				return nodeIdx, false
			}

			nodeIdx = alloc[nodeIdx].left
		default:
			if alloc[nodeIdx].right == 0 {
				succ := doNext(nodeIdx, alloc)
				if succ == 0 {
					return 0, false
				}

				return succ, key == alloc[succ].item.Key
			}

			nodeIdx = alloc[nodeIdx].right
		}
	}
}

func (t *tree) doDelete(nodeIdx uint32) {
	alloc := t.storage()

	if alloc[nodeIdx].left != 0 && alloc[nodeIdx].right != 0 {
		pred := maxPredecessor(nodeIdx, alloc)
		t.swapNodes(nodeIdx, pred)
	}

	child := alloc[nodeIdx].right
	if child == 0 {
		child = alloc[nodeIdx].left
	}

	if alloc[nodeIdx].color {
		alloc[nodeIdx].color = getColor(child, alloc)
		t.deleteCase1(nodeIdx)
	}

	t.replaceNode(nodeIdx, child)

	if alloc[nodeIdx].parent == 0 && child != 0 {
		alloc[child].color = black
	}

	t.allocator.free(nodeIdx)
	t.count--

	if t.count == 0 {
		t.minNode = 0
		t.maxNode = 0
	} else {
		if t.minNode == nodeIdx {
			t.recomputeMinNode()
		}

		if t.maxNode == nodeIdx {
			t.recomputeMaxNode()
		}
	}
}

//nolint:gocognit,nestif // RB-tree node swapping is inherently complex with many pointer adjustments.
func (t *tree) swapNodes(nodeIdx, pred uint32) {
	alloc := t.storage()
	isLeft := isLeftChild(pred, alloc)
	tmp := alloc[pred]

	t.replaceNode(nodeIdx, pred)
	alloc[pred].color = alloc[nodeIdx].color

	if tmp.parent == nodeIdx {
		if isLeft {
			alloc[pred].left = nodeIdx
			alloc[pred].right = alloc[nodeIdx].right

			if alloc[pred].right != 0 {
				alloc[alloc[pred].right].parent = pred
			}
		} else {
			alloc[pred].left = alloc[nodeIdx].left

			if alloc[pred].left != 0 {
				alloc[alloc[pred].left].parent = pred
			}

			alloc[pred].right = nodeIdx
		}

		alloc[nodeIdx].item = tmp.item
		alloc[nodeIdx].parent = pred

		alloc[nodeIdx].left = tmp.left
		if alloc[nodeIdx].left != 0 {
			alloc[alloc[nodeIdx].left].parent = nodeIdx
		}

		alloc[nodeIdx].right = tmp.right
		if alloc[nodeIdx].right != 0 {
			alloc[alloc[nodeIdx].right].parent = nodeIdx
		}
	} else {
		alloc[pred].left = alloc[nodeIdx].left

		if alloc[pred].left != 0 {
			alloc[alloc[pred].left].parent = pred
		}

		alloc[pred].right = alloc[nodeIdx].right

		if alloc[pred].right != 0 {
			alloc[alloc[pred].right].parent = pred
		}

		if isLeft {
			alloc[tmp.parent].left = nodeIdx
		} else {
			alloc[tmp.parent].right = nodeIdx
		}

		alloc[nodeIdx].item = tmp.item
		alloc[nodeIdx].parent = tmp.parent
		alloc[nodeIdx].left = tmp.left

		if alloc[nodeIdx].left != 0 {
			alloc[alloc[nodeIdx].left].parent = nodeIdx
		}

		alloc[nodeIdx].right = tmp.right

		if alloc[nodeIdx].right != 0 {
			alloc[alloc[nodeIdx].right].parent = nodeIdx
		}
	}

	alloc[nodeIdx].color = tmp.color
}

func (t *tree) deleteCase1(nodeIdx uint32) {
	alloc := t.storage()

	for alloc[nodeIdx].parent != 0 {
		if !getColor(sibling(nodeIdx, alloc), alloc) {
			alloc[alloc[nodeIdx].parent].color = red
			alloc[sibling(nodeIdx, alloc)].color = black

			if nodeIdx == alloc[alloc[nodeIdx].parent].left {
				t.rotateLeft(alloc[nodeIdx].parent)
			} else {
				t.rotateRight(alloc[nodeIdx].parent)
			}
		}

		if getColor(alloc[nodeIdx].parent, alloc) &&
			getColor(sibling(nodeIdx, alloc), alloc) &&
			getColor(alloc[sibling(nodeIdx, alloc)].left, alloc) &&
			getColor(alloc[sibling(nodeIdx, alloc)].right, alloc) {
			alloc[sibling(nodeIdx, alloc)].color = red
			nodeIdx = alloc[nodeIdx].parent

			continue
		}

		if !getColor(alloc[nodeIdx].parent, alloc) &&
			getColor(sibling(nodeIdx, alloc), alloc) &&
			getColor(alloc[sibling(nodeIdx, alloc)].left, alloc) &&
			getColor(alloc[sibling(nodeIdx, alloc)].right, alloc) {
			alloc[sibling(nodeIdx, alloc)].color = red
			alloc[alloc[nodeIdx].parent].color = black
		} else {
			t.deleteCase5(nodeIdx)
		}

		break
	}
}

func (t *tree) deleteCase5(nodeIdx uint32) {
	alloc := t.storage()

	if nodeIdx == alloc[alloc[nodeIdx].parent].left &&
		getColor(sibling(nodeIdx, alloc), alloc) &&
		!getColor(alloc[sibling(nodeIdx, alloc)].left, alloc) &&
		getColor(alloc[sibling(nodeIdx, alloc)].right, alloc) {
		alloc[sibling(nodeIdx, alloc)].color = red
		alloc[alloc[sibling(nodeIdx, alloc)].left].color = black
		t.rotateRight(sibling(nodeIdx, alloc))
	} else if nodeIdx == alloc[alloc[nodeIdx].parent].right &&
		getColor(sibling(nodeIdx, alloc), alloc) &&
		!getColor(alloc[sibling(nodeIdx, alloc)].right, alloc) &&
		getColor(alloc[sibling(nodeIdx, alloc)].left, alloc) {
		alloc[sibling(nodeIdx, alloc)].color = red
		alloc[alloc[sibling(nodeIdx, alloc)].right].color = black
		t.rotateLeft(sibling(nodeIdx, alloc))
	}

	alloc[sibling(nodeIdx, alloc)].color = getColor(alloc[nodeIdx].parent, alloc)
	alloc[alloc[nodeIdx].parent].color = black

	if nodeIdx == alloc[alloc[nodeIdx].parent].left {
		alloc[alloc[sibling(nodeIdx, alloc)].right].color = black
		t.rotateLeft(alloc[nodeIdx].parent)
	} else {
		alloc[alloc[sibling(nodeIdx, alloc)].left].color = black
		t.rotateRight(alloc[nodeIdx].parent)
	}
}

func (t *tree) replaceNode(oldn, newn uint32) {
	alloc := t.storage()

	if alloc[oldn].parent == 0 {
		t.root = newn
	} else {
		if oldn == alloc[alloc[oldn].parent].left {
			alloc[alloc[oldn].parent].left = newn
		} else {
			alloc[alloc[oldn].parent].right = newn
		}
	}

	if newn != 0 {
		alloc[newn].parent = alloc[oldn].parent
	}
}

func (t *tree) rotateDirection(pivot uint32, isLeft bool) {
	alloc := t.storage()

	var child uint32
	if isLeft {
		child = alloc[pivot].right
	} else {
		child = alloc[pivot].left
	}

	var innerSubtree uint32
	if isLeft {
		innerSubtree = alloc[child].left
		alloc[pivot].right = innerSubtree
	} else {
		innerSubtree = alloc[child].right
		alloc[pivot].left = innerSubtree
	}

	if innerSubtree != 0 {
		alloc[innerSubtree].parent = pivot
	}

	alloc[child].parent = alloc[pivot].parent

	if alloc[pivot].parent == 0 {
		t.root = child
	} else {
		if isLeftChild(pivot, alloc) {
			alloc[alloc[pivot].parent].left = child
		} else {
			alloc[alloc[pivot].parent].right = child
		}
	}

	if isLeft {
		alloc[child].left = pivot
	} else {
		alloc[child].right = pivot
	}

	alloc[pivot].parent = child
}

func (t *tree) rotateLeft(nodeIdx uint32) {
	t.rotateDirection(nodeIdx, true)
}

func (t *tree) rotateRight(nodeIdx uint32) {
	t.rotateDirection(nodeIdx, false)
}
