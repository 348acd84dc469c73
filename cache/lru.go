package cache

// lruNode is a node of an lruList. It keeps its key so the owning map
// entry can be deleted when the node is evicted.
type lruNode[K comparable] struct {
	key        K
	prev, next *lruNode[K]
}

// lruList is a doubly-linked recency list: head is the most recently
// used key, tail the least. Not safe for concurrent use.
type lruList[K comparable] struct {
	head, tail *lruNode[K]
	n          int
}

func (l *lruList[K]) Len() int { return l.n }

// PushFront inserts key as the most recently used entry.
func (l *lruList[K]) PushFront(key K) *lruNode[K] {
	node := &lruNode[K]{key: key}
	l.linkFront(node)
	return node
}

// MoveToFront marks node as most recently used.
func (l *lruList[K]) MoveToFront(node *lruNode[K]) {
	if node == nil || node == l.head {
		return
	}
	l.unlink(node)
	l.linkFront(node)
}

// Remove unlinks node. A nil node is ignored.
func (l *lruList[K]) Remove(node *lruNode[K]) {
	if node != nil {
		l.unlink(node)
	}
}

// RemoveOldest unlinks the least recently used node and returns its key.
func (l *lruList[K]) RemoveOldest() (K, bool) {
	if l.tail == nil {
		var zero K
		return zero, false
	}
	node := l.tail
	l.unlink(node)
	return node.key, true
}

// Clear drops every node.
func (l *lruList[K]) Clear() {
	l.head, l.tail, l.n = nil, nil, 0
}

func (l *lruList[K]) linkFront(node *lruNode[K]) {
	node.prev = nil
	node.next = l.head
	if l.head != nil {
		l.head.prev = node
	}
	l.head = node
	if l.tail == nil {
		l.tail = node
	}
	l.n++
}

func (l *lruList[K]) unlink(node *lruNode[K]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev, node.next = nil, nil
	l.n--
}
