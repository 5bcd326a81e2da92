package goal

// MetadataFallbackFor links a fallback task to the task it replaces.
const MetadataFallbackFor = "fallback_for"

// Tree is a decomposed goal. The decomposer owns the tree; executors only
// ever receive copies of its leaves and hand finished copies back via Replace.
type Tree struct {
	Root *TaskNode
}

func NewTree(root *TaskNode) *Tree {
	return &Tree{Root: root}
}

// Leaves returns the executable task nodes in depth-first order.
func (t *Tree) Leaves() []*TaskNode {
	var out []*TaskNode
	var walk func(n *TaskNode)
	walk = func(n *TaskNode) {
		if n == nil {
			return
		}
		if n.Type == NodeTask {
			out = append(out, n)
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return out
}

// Next returns the first pending leaf, or nil when nothing is left to run.
func (t *Tree) Next() *TaskNode {
	for _, l := range t.Leaves() {
		if l.TaskStatus == StatusPending || l.TaskStatus == "" {
			return l
		}
	}
	return nil
}

func (t *Tree) Find(id string) *TaskNode {
	n, _ := t.find(id)
	return n
}

func (t *Tree) find(id string) (node, parent *TaskNode) {
	var walk func(n, p *TaskNode) bool
	walk = func(n, p *TaskNode) bool {
		if n == nil {
			return false
		}
		if n.ID == id {
			node, parent = n, p
			return true
		}
		for _, c := range n.Children {
			if walk(c, n) {
				return true
			}
		}
		return false
	}
	walk(t.Root, nil)
	return node, parent
}

// Replace overwrites the node with the same ID, keeping its position and children.
func (t *Tree) Replace(n TaskNode) bool {
	existing := t.Find(n.ID)
	if existing == nil {
		return false
	}
	children := existing.Children
	*existing = n.Clone()
	existing.Children = children
	return true
}

// InsertAfter places n directly after the node with the given ID in the same
// parent. When the target is the root, the root is wrapped in a new goal node.
// It refuses a node whose ID is already in the tree.
func (t *Tree) InsertAfter(id string, n *TaskNode) bool {
	if n == nil || t.Find(n.ID) != nil {
		return false
	}
	target, parent := t.find(id)
	if target == nil {
		return false
	}
	if parent == nil {
		t.Root = &TaskNode{
			ID:          target.ID + "-group",
			Type:        NodeGoal,
			Description: target.Description,
			TaskStatus:  StatusActive,
			Children:    []*TaskNode{target, n},
		}
		return true
	}
	for i, c := range parent.Children {
		if c == target {
			parent.Children = append(parent.Children[:i+1], append([]*TaskNode{n}, parent.Children[i+1:]...)...)
			return true
		}
	}
	return false
}

// Status rolls the leaves up into one outcome. A failed leaf counts as
// resolved when a fallback for it completed.
func (t *Tree) Status() Status {
	leaves := t.Leaves()
	if len(leaves) == 0 {
		return StatusPending
	}

	fallbacks := make(map[string][]*TaskNode)
	for _, l := range leaves {
		if origin, ok := l.Metadata[MetadataFallbackFor].(string); ok {
			fallbacks[origin] = append(fallbacks[origin], l)
		}
	}

	var state func(n *TaskNode) Status
	state = func(n *TaskNode) Status {
		switch n.TaskStatus {
		case StatusCompleted:
			return StatusCompleted
		case StatusFailed:
			result := StatusFailed
			for _, fb := range fallbacks[n.ID] {
				switch state(fb) {
				case StatusCompleted:
					return StatusCompleted
				case StatusActive, StatusPending:
					result = StatusActive
				}
			}
			return result
		case StatusActive:
			return StatusActive
		default:
			return StatusPending
		}
	}

	completed, failed := 0, 0
	origins := 0
	for _, l := range leaves {
		if _, ok := l.Metadata[MetadataFallbackFor]; ok {
			continue
		}
		origins++
		switch state(l) {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	switch {
	case completed == origins:
		return StatusCompleted
	case completed+failed == origins:
		return StatusFailed
	case completed+failed == 0 && t.Next() == leaves[0]:
		return StatusPending
	default:
		return StatusActive
	}
}
