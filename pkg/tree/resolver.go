package tree

import (
	"slices"
	"sort"

	"github.com/m-mizutani/chatmig/pkg/model"
)

// Path is the linearized active thread of a conversation, oldest first. The
// synthetic root and nodes that never received a message are not part of it.
type Path struct {
	Nodes    []*model.Node
	Messages []*model.Message

	// Branches holds the non-root nodes off the active path in breadth-first
	// order. It is only filled when WithBranches is given.
	Branches []*model.Node
}

// Len returns the number of messages on the active path
func (p *Path) Len() int {
	return len(p.Nodes)
}

// Current returns the last node of the active path, or nil for an empty path
func (p *Path) Current() *model.Node {
	if len(p.Nodes) == 0 {
		return nil
	}
	return p.Nodes[len(p.Nodes)-1]
}

type options struct {
	branches bool
}

type Option func(*options)

// WithBranches collects nodes that are not on the active path
func WithBranches() Option {
	return func(o *options) {
		o.branches = true
	}
}

// Resolve validates the node graph of conv and returns the path from the root to
// the current node. Any returned error is a *model.TreeIntegrityError.
func Resolve(conv *model.Conversation, opts ...Option) (*Path, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if len(conv.Mapping) == 0 {
		return &Path{}, nil
	}

	root, err := validate(conv)
	if err != nil {
		return nil, err
	}

	nodes, err := walk(conv, root)
	if err != nil {
		return nil, err
	}

	path := &Path{Nodes: nodes}
	for _, n := range nodes {
		path.Messages = append(path.Messages, n.Message)
	}

	if o.branches {
		path.Branches = branches(conv, root, nodes)
	}

	return path, nil
}

func integrityError(conv *model.Conversation, nodeID string, kind model.TreeErrorKind) error {
	return &model.TreeIntegrityError{
		ConversationID: conv.ID,
		NodeID:         nodeID,
		Kind:           kind,
	}
}

// sortedIDs keeps error reporting stable across map iteration orders
func sortedIDs(mapping map[string]*model.Node) []string {
	ids := make([]string, 0, len(mapping))
	for id := range mapping {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validate(conv *model.Conversation) (*model.Node, error) {
	ids := sortedIDs(conv.Mapping)

	var root *model.Node
	for _, id := range ids {
		n := conv.Mapping[id]
		if !n.IsRoot() {
			continue
		}
		if root != nil {
			return nil, integrityError(conv, id, model.TreeMultipleRoots)
		}
		root = n
	}
	if root == nil {
		return nil, integrityError(conv, "", model.TreeNoRoot)
	}

	for _, id := range ids {
		n := conv.Mapping[id]

		if !n.IsRoot() {
			parent, ok := conv.Mapping[n.Parent]
			if !ok {
				return nil, integrityError(conv, id, model.TreeBrokenLink)
			}
			if !slices.Contains(parent.Children, id) {
				return nil, integrityError(conv, id, model.TreeReciprocity)
			}
		}

		// a listed child absent from the mapping was never populated
		for _, childID := range n.Children {
			child, ok := conv.Mapping[childID]
			if ok && child.Parent != id {
				return nil, integrityError(conv, childID, model.TreeReciprocity)
			}
		}
	}

	// every parent chain must end at the root
	const (
		unknown = iota
		visiting
		reaches
	)
	state := make(map[string]int, len(conv.Mapping))
	state[root.ID] = reaches
	for _, id := range ids {
		var chain []string
		cur := id
		for state[cur] != reaches {
			if state[cur] == visiting {
				return nil, integrityError(conv, cur, model.TreeCycle)
			}
			state[cur] = visiting
			chain = append(chain, cur)
			cur = conv.Mapping[cur].Parent
		}
		for _, c := range chain {
			state[c] = reaches
		}
	}

	return root, nil
}

func walk(conv *model.Conversation, root *model.Node) ([]*model.Node, error) {
	currentID := conv.CurrentNode
	if currentID == "" {
		currentID = firstChildLeaf(conv, root)
	}

	current, ok := conv.Mapping[currentID]
	if !ok {
		current, ok = listingParent(conv, currentID)
		if !ok {
			return nil, integrityError(conv, currentID, model.TreeUnreachable)
		}
	}

	var nodes []*model.Node
	visited := make(map[string]struct{})
	for n := current; !n.IsRoot(); {
		if _, seen := visited[n.ID]; seen {
			return nil, integrityError(conv, n.ID, model.TreeCycle)
		}
		visited[n.ID] = struct{}{}
		if n.Message != nil {
			nodes = append(nodes, n)
		}

		parent, ok := conv.Mapping[n.Parent]
		if !ok {
			return nil, integrityError(conv, n.ID, model.TreeBrokenLink)
		}
		n = parent
	}

	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	return nodes, nil
}

// listingParent returns the node that lists id as a child when id itself was
// never populated
func listingParent(conv *model.Conversation, id string) (*model.Node, bool) {
	if id == "" {
		return nil, false
	}
	for _, key := range sortedIDs(conv.Mapping) {
		n := conv.Mapping[key]
		if slices.Contains(n.Children, id) {
			return n, true
		}
	}
	return nil, false
}

// firstChildLeaf follows the first child of each node down from the root
func firstChildLeaf(conv *model.Conversation, root *model.Node) string {
	n := root
	for len(n.Children) > 0 {
		child, ok := conv.Mapping[n.Children[0]]
		if !ok {
			break
		}
		n = child
	}
	return n.ID
}

func branches(conv *model.Conversation, root *model.Node, path []*model.Node) []*model.Node {
	onPath := make(map[string]struct{}, len(path))
	for _, n := range path {
		onPath[n.ID] = struct{}{}
	}

	var result []*model.Node
	seen := make(map[string]struct{})
	queue := append([]string{}, root.Children...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		n, ok := conv.Mapping[id]
		if !ok {
			continue
		}
		if _, ok := onPath[id]; !ok && n.Message != nil {
			result = append(result, n)
		}
		queue = append(queue, n.Children...)
	}
	return result
}
