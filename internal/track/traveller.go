package track

import (
	"fmt"
	"math"
)

// Direction is the heading of a traveller relative to its node's offsets.
type Direction int8

const (
	Forward  Direction = 1
	Backward Direction = -1
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	return -d
}

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Position is a point on the network.
type Position struct {
	Node   int
	Offset float64
}

// Traveller is a cursor over the network: a position plus a heading.
type Traveller struct {
	Node      int
	Offset    float64
	Direction Direction
}

// NewTraveller validates and returns a traveller at the given position.
func NewTraveller(db *DB, node int, offset float64, dir Direction) (Traveller, error) {
	n, ok := db.Node(node)
	if !ok {
		return Traveller{}, fmt.Errorf("traveller on %d: %w", node, ErrUnknownNode)
	}
	if offset < 0 || offset > n.Length {
		return Traveller{}, fmt.Errorf("traveller on %d: offset %.2f outside [0, %.2f]", node, offset, n.Length)
	}
	if dir != Forward && dir != Backward {
		dir = Forward
	}
	return Traveller{Node: node, Offset: offset, Direction: dir}, nil
}

// Position returns the traveller's point on the network.
func (t Traveller) Position() Position {
	return Position{Node: t.Node, Offset: t.Offset}
}

// Reversed returns a copy heading the other way.
func (t Traveller) Reversed() Traveller {
	t.Direction = t.Direction.Reverse()
	return t
}

// Move advances the traveller dist metres along its heading; a negative dist
// moves it backwards without changing the heading. It returns the distance
// that could not be covered because a dead end was reached.
func (t *Traveller) Move(db *DB, dist float64) float64 {
	if dist < 0 {
		r := t.Reversed()
		left := r.move(db, -dist)
		t.Node, t.Offset, t.Direction = r.Node, r.Offset, r.Direction.Reverse()
		return -left
	}
	return t.move(db, dist)
}

func (t *Traveller) move(db *DB, dist float64) float64 {
	for {
		n, ok := db.Node(t.Node)
		if !ok {
			return dist
		}
		room, exit := t.room(n)
		if dist <= room {
			t.Offset += float64(t.Direction) * dist
			return 0
		}
		dist -= room
		conn, ok := db.next(t.Node, exit)
		if !ok {
			if exit == FinishEnd {
				t.Offset = n.Length
			} else {
				t.Offset = 0
			}
			return dist
		}
		t.enter(db, conn)
	}
}

// room returns how far the traveller can go before leaving its node and the
// end it would leave through.
func (t Traveller) room(n *Node) (float64, End) {
	if t.Direction == Forward {
		return n.Length - t.Offset, FinishEnd
	}
	return t.Offset, StartEnd
}

func (t *Traveller) enter(db *DB, conn Connection) {
	t.Node = conn.Node
	if conn.End == StartEnd {
		t.Offset = 0
		t.Direction = Forward
		return
	}
	n, _ := db.Node(conn.Node)
	t.Offset = n.Length
	t.Direction = Backward
}

// DistanceTo walks along the traveller's heading looking for p and returns
// the distance to it. The search gives up after limit metres or at a dead
// end.
func (t Traveller) DistanceTo(db *DB, p Position, limit float64) (float64, bool) {
	cur := t
	acc := 0.0
	for acc <= limit {
		n, ok := db.Node(cur.Node)
		if !ok {
			return 0, false
		}
		if cur.Node == p.Node {
			delta := (p.Offset - cur.Offset) * float64(cur.Direction)
			if delta >= 0 {
				if acc+delta > limit {
					return 0, false
				}
				return acc + delta, true
			}
		}
		room, exit := cur.room(n)
		acc += room
		conn, ok := db.next(cur.Node, exit)
		if !ok {
			return 0, false
		}
		cur.enter(db, conn)
	}
	return 0, false
}

// OverlapDistance returns the signed gap between from, which must face away
// from its own train, and the position of to. A positive result is a
// separation, a negative one an overlap. Overlaps deeper than inwardLimit and
// gaps wider than outwardLimit are reported as +Inf.
func OverlapDistance(db *DB, from, to Traveller, inwardLimit, outwardLimit float64) float64 {
	if d, ok := from.DistanceTo(db, to.Position(), outwardLimit); ok {
		return d
	}
	if d, ok := from.Reversed().DistanceTo(db, to.Position(), inwardLimit); ok {
		return -d
	}
	return math.Inf(1)
}

// Span returns the IDs of the nodes covered by walking length metres from t,
// in walking order. The walk stops early at a dead end.
func (t Traveller) Span(db *DB, length float64) []int {
	var nodes []int
	cur := t
	for {
		n, ok := db.Node(cur.Node)
		if !ok {
			return nodes
		}
		if len(nodes) == 0 || nodes[len(nodes)-1] != cur.Node {
			nodes = append(nodes, cur.Node)
		}
		room, exit := cur.room(n)
		if length <= room {
			return nodes
		}
		length -= room
		conn, ok := db.next(cur.Node, exit)
		if !ok {
			return nodes
		}
		cur.enter(db, conn)
	}
}
