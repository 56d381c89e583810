package world

// Occupancy indexes which agents stand on which cell. Only agents block a
// cell; resources, terrain and the rest may share cells with agents.
// Built per snapshot and not safe for concurrent use.
type Occupancy struct {
	cells map[Position]map[string]struct{} // cell → set of agent ids
}

// NewOccupancy indexes every agent in s.
func NewOccupancy(s *State) *Occupancy {
	o := &Occupancy{cells: make(map[Position]map[string]struct{})}
	for i := range s.Entities {
		if s.Entities[i].IsAgent() {
			o.Add(s.Entities[i].ID, s.Entities[i].Position)
		}
	}
	return o
}

// Add places an agent into the index.
func (o *Occupancy) Add(id string, p Position) {
	cell := o.cells[p]
	if cell == nil {
		cell = make(map[string]struct{})
		o.cells[p] = cell
	}
	cell[id] = struct{}{}
}

// Remove takes an agent out of the index.
func (o *Occupancy) Remove(id string, p Position) {
	cell := o.cells[p]
	if cell != nil {
		delete(cell, id)
		if len(cell) == 0 {
			delete(o.cells, p)
		}
	}
}

// Move updates an agent's cell when its position changes.
func (o *Occupancy) Move(id string, from, to Position) {
	if from == to {
		return
	}
	o.Remove(id, from)
	o.Add(id, to)
}

// Blocked reports whether an agent other than self stands on p.
func (o *Occupancy) Blocked(p Position, self string) bool {
	for id := range o.cells[p] {
		if id != self {
			return true
		}
	}
	return false
}

// Direction deltas indexed by heading (0-7): N, NE, E, SE, S, SW, W, NW.
var (
	HeadingDX = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
	HeadingDY = [8]int{-1, -1, 0, 1, 1, 1, 0, -1}
)

// FreeNeighbor scans the 8 cells around target in heading order and
// returns the first one inside the grid that no other agent holds and
// that accept allows. ok is false when every neighbour is taken.
func (o *Occupancy) FreeNeighbor(g Grid, target Position, self string, accept func(Position) bool) (Position, bool) {
	for h := 0; h < 8; h++ {
		p := Position{X: target.X + HeadingDX[h], Y: target.Y + HeadingDY[h]}
		if !g.Contains(p) || o.Blocked(p, self) {
			continue
		}
		if accept != nil && !accept(p) {
			continue
		}
		return p, true
	}
	return Position{}, false
}
