// Package track models the track network trains run on: nodes joined at
// their ends by (possibly switched) connections, and travellers that act as
// cursors over that network.
package track

import (
	"errors"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

// ErrUnknownNode is returned when a node ID is not present in the database.
var ErrUnknownNode = errors.New("unknown track node")

// End identifies one end of a node. StartEnd sits at offset 0, FinishEnd at
// offset Length.
type End uint8

const (
	StartEnd End = iota
	FinishEnd
)

func (e End) String() string {
	if e == StartEnd {
		return "start"
	}
	return "finish"
}

// Connection points at one end of a node.
type Connection struct {
	Node int
	End  End
}

// Junction lists what an end of a node connects to. More than one branch
// makes it a switch; Selected picks the branch in use.
type Junction struct {
	Branches []Connection
	Selected int
}

// Node is a single piece of track with a length in metres and an optional
// shape in route-local coordinates.
type Node struct {
	ID     int
	Length float64
	Shape  geom.LineString
	Ends   [2]Junction
}

// DB holds the track network.
type DB struct {
	nodes map[int]*Node
}

// NewDB creates an empty track database.
func NewDB() *DB {
	return &DB{nodes: make(map[int]*Node)}
}

// AddNode registers a node. Lengths must be positive and IDs unique.
func (db *DB) AddNode(n Node) error {
	if n.Length <= 0 {
		return fmt.Errorf("node %d: length must be positive, got %f", n.ID, n.Length)
	}
	if _, ok := db.nodes[n.ID]; ok {
		return fmt.Errorf("node %d: duplicate id", n.ID)
	}
	node := n
	db.nodes[n.ID] = &node
	return nil
}

// Node returns the node with the given ID.
func (db *DB) Node(id int) (*Node, bool) {
	n, ok := db.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (db *DB) Len() int {
	return len(db.nodes)
}

// Connect joins two node ends in both directions.
func (db *DB) Connect(a, b Connection) error {
	na, ok := db.nodes[a.Node]
	if !ok {
		return fmt.Errorf("connect %d: %w", a.Node, ErrUnknownNode)
	}
	nb, ok := db.nodes[b.Node]
	if !ok {
		return fmt.Errorf("connect %d: %w", b.Node, ErrUnknownNode)
	}
	na.Ends[a.End].Branches = append(na.Ends[a.End].Branches, b)
	nb.Ends[b.End].Branches = append(nb.Ends[b.End].Branches, a)
	return nil
}

// SetSwitch selects which branch leaves the given node end.
func (db *DB) SetSwitch(node int, end End, branch int) error {
	n, ok := db.nodes[node]
	if !ok {
		return fmt.Errorf("switch %d: %w", node, ErrUnknownNode)
	}
	j := &n.Ends[end]
	if branch < 0 || branch >= len(j.Branches) {
		return fmt.Errorf("switch %d/%s: branch %d out of range (%d branches)", node, end, branch, len(j.Branches))
	}
	j.Selected = branch
	return nil
}

// next returns the connection currently leaving the given node end.
func (db *DB) next(node int, end End) (Connection, bool) {
	n, ok := db.nodes[node]
	if !ok {
		return Connection{}, false
	}
	j := n.Ends[end]
	if len(j.Branches) == 0 {
		return Connection{}, false
	}
	sel := j.Selected
	if sel < 0 || sel >= len(j.Branches) {
		sel = 0
	}
	return j.Branches[sel], true
}
