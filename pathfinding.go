package main

// gridNeighborOffsets is the fixed expansion order of the search. Keeping it
// constant makes equal-cost paths come out the same every run.
var gridNeighborOffsets = [...]Point{
	{X: 1, Y: 0},
	{X: -1, Y: 0},
	{X: 0, Y: 1},
	{X: 0, Y: -1},
}

// passable reports whether mover may step onto (x,y). The mover's own cell
// counts as open.
func (a *Arena) passable(mover *Entity, x, y int) bool {
	if !a.InBounds(x, y) {
		return false
	}
	if mover != nil && a.Cells[a.index(x, y)].Occupant == mover.ID {
		return true
	}
	return a.IsFree(x, y)
}

// bfs runs a breadth-first search from start over cells mover can enter.
// It stops early when goal returns true and reports the index reached, or
// -1. dist holds -1 for unreached cells.
func (a *Arena) bfs(mover *Entity, start Point, goal func(x, y int) bool) (dist, parent []int, reached int) {
	n := a.Width * a.Height
	dist = make([]int, n)
	parent = make([]int, n)
	for i := range dist {
		dist[i] = -1
		parent[i] = -1
	}
	reached = -1
	if !a.InBounds(start.X, start.Y) {
		return dist, parent, reached
	}
	s := a.index(start.X, start.Y)
	dist[s] = 0
	queue := []int{s}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		cx, cy := cur%a.Width, cur/a.Width
		if goal != nil && goal(cx, cy) {
			return dist, parent, cur
		}
		for _, d := range gridNeighborOffsets {
			nx, ny := cx+d.X, cy+d.Y
			if !a.passable(mover, nx, ny) {
				continue
			}
			ni := a.index(nx, ny)
			if dist[ni] >= 0 {
				continue
			}
			dist[ni] = dist[cur] + 1
			parent[ni] = cur
			queue = append(queue, ni)
		}
	}
	return dist, parent, reached
}

func (a *Arena) unwind(parent []int, start, end int) []Point {
	var rev []Point
	for cur := end; cur != start && cur >= 0; cur = parent[cur] {
		rev = append(rev, Point{X: cur % a.Width, Y: cur / a.Width})
	}
	path := make([]Point, len(rev))
	for i := range rev {
		path[i] = rev[len(rev)-1-i]
	}
	return path
}

// FindPath returns the steps (start excluded) that take troop from
// (startX,startY) to (targetX,targetY). When the target cell is occupied
// by something else the path ends on a cell next to it. An empty result
// means no path exists and the troop should hold position.
func FindPath(a *Arena, troop *Entity, startX, startY, targetX, targetY int) []Point {
	if !a.InBounds(startX, startY) || !a.InBounds(targetX, targetY) {
		return nil
	}
	targetOpen := a.passable(troop, targetX, targetY)
	goal := func(x, y int) bool {
		if targetOpen {
			return x == targetX && y == targetY
		}
		return abs(x-targetX)+abs(y-targetY) == 1
	}
	start := Point{X: startX, Y: startY}
	_, parent, end := a.bfs(troop, start, goal)
	if end < 0 {
		return nil
	}
	return a.unwind(parent, a.index(startX, startY), end)
}

// FindClosestAttackPoint picks, among the free cells bordering target's
// footprint, the one troop reaches with the fewest steps. Ties go to the
// lowest x, then the lowest y.
func FindClosestAttackPoint(a *Arena, troop, target *Entity) (Point, bool) {
	dist, _, _ := a.bfs(troop, Point{X: troop.X, Y: troop.Y}, nil)

	best := Point{}
	bestDist := -1
	for _, p := range attackRing(target) {
		if !a.passable(troop, p.X, p.Y) {
			continue
		}
		d := dist[a.index(p.X, p.Y)]
		if d < 0 {
			continue
		}
		if bestDist < 0 || d < bestDist || (d == bestDist && (p.X < best.X || (p.X == best.X && p.Y < best.Y))) {
			best, bestDist = p, d
		}
	}
	return best, bestDist >= 0
}

// attackRing lists the cells 4-adjacent to the footprint of e
func attackRing(e *Entity) []Point {
	size := e.Size
	if size < 1 {
		size = 1
	}
	ring := make([]Point, 0, 4*size)
	for i := 0; i < size; i++ {
		ring = append(ring,
			Point{X: e.X + i, Y: e.Y - 1},
			Point{X: e.X + i, Y: e.Y + size},
			Point{X: e.X - 1, Y: e.Y + i},
			Point{X: e.X + size, Y: e.Y + i},
		)
	}
	return ring
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
