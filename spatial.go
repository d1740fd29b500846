package main

import (
	"fmt"
	"math"
	"sort"
)

// CalculateDistance returns the Euclidean distance in cells between the
// closest cells of the two footprints. Used for range and vision checks,
// not for pathing.
func CalculateDistance(a, b *Entity) float64 {
	dx := axisGap(a.X, a.Size, b.X, b.Size)
	dy := axisGap(a.Y, a.Size, b.Y, b.Size)
	return math.Sqrt(float64(dx*dx + dy*dy))
}

func axisGap(p1, s1, p2, s2 int) int {
	if s1 < 1 {
		s1 = 1
	}
	if s2 < 1 {
		s2 = 1
	}
	switch {
	case p2 > p1+s1-1:
		return p2 - (p1 + s1 - 1)
	case p1 > p2+s2-1:
		return p1 - (p2 + s2 - 1)
	}
	return 0
}

// InRange reports whether target is within the attacker's attack range
func InRange(attacker, target *Entity) bool {
	return CalculateDistance(attacker, target) <= attacker.Range
}

type rankedEntity struct {
	e    *Entity
	dist float64
}

func sortRanked(list []rankedEntity) []*Entity {
	sort.Slice(list, func(i, j int) bool {
		if list[i].dist != list[j].dist {
			return list[i].dist < list[j].dist
		}
		return list[i].e.ID < list[j].e.ID
	})
	out := make([]*Entity, len(list))
	for i, r := range list {
		out[i] = r.e
	}
	return out
}

// GetEnemiesInVision returns live enemy troops and buildings within the
// unit's vision radius, closest first, ties by lowest id.
func (a *Arena) GetEnemiesInVision(unit *Entity) []*Entity {
	return a.enemiesWithin(unit, unit.Vision, false)
}

// GetEnemyTroopsInRange returns live enemy troops within attack range,
// closest first. Towers and buildings shoot at these.
func (a *Arena) GetEnemyTroopsInRange(unit *Entity) []*Entity {
	return a.enemiesWithin(unit, unit.Range, true)
}

func (a *Arena) enemiesWithin(unit *Entity, radius float64, troopsOnly bool) []*Entity {
	var ranked []rankedEntity
	for _, e := range a.Entities {
		if e.OwnerID == unit.OwnerID || !e.Alive() {
			continue
		}
		if troopsOnly && e.Kind != KindTroop {
			continue
		}
		if d := CalculateDistance(unit, e); d <= radius {
			ranked = append(ranked, rankedEntity{e: e, dist: d})
		}
	}
	return sortRanked(ranked)
}

// GetNearestEnemyTower returns the living enemy tower closest to unit.
// Equal distances prefer the leader tower, then the lowest id.
func (a *Arena) GetNearestEnemyTower(unit *Entity) (*Entity, error) {
	var (
		best     *Entity
		bestDist float64
		found    bool
	)
	for owner, towers := range a.Towers {
		if owner == unit.OwnerID {
			continue
		}
		found = found || len(towers) > 0
		for _, t := range towers {
			if !t.Alive() {
				continue
			}
			d := CalculateDistance(unit, t)
			if best == nil || d < bestDist || (d == bestDist && towerBeats(t, best)) {
				best, bestDist = t, d
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("no enemy towers for %s: %w", unit.OwnerID, ErrTowersNotFound)
	}
	return best, nil
}

func towerBeats(t, other *Entity) bool {
	if t.IsLeader() != other.IsLeader() {
		return t.IsLeader()
	}
	return t.ID < other.ID
}
