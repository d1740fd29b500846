package main

// resolveCombat runs one tick of behaviour for every unit, troops and
// buildings by ascending id, then towers. Resolution stops as soon as the
// game ends.
func (g *Game) resolveCombat(ev *Events) {
	for _, e := range g.Arena.SortedEntities() {
		if g.Ended() {
			return
		}
		if !e.Alive() {
			continue
		}
		switch e.Kind {
		case KindTroop:
			g.stepTroop(e, ev)
		case KindBuilding:
			g.stepBuilding(e, ev)
		}
	}
	for _, t := range g.Arena.SortedTowers() {
		if g.Ended() {
			return
		}
		if t.Alive() {
			g.shoot(t, ev)
		}
	}
}

// acquireTarget picks what a troop goes after: the closest enemy unit it
// can see, else the nearest standing enemy tower.
func (g *Game) acquireTarget(troop *Entity) *Entity {
	if seen := g.Arena.GetEnemiesInVision(troop); len(seen) > 0 {
		return seen[0]
	}
	tower, err := g.Arena.GetNearestEnemyTower(troop)
	if err != nil {
		return nil
	}
	return tower
}

func (g *Game) stepTroop(troop *Entity, ev *Events) {
	if troop.Cooldown > 0 {
		troop.Cooldown--
	}
	target := g.acquireTarget(troop)
	if target == nil {
		troop.State = StateIdle
		troop.TargetID = 0
		troop.Path = nil
		return
	}

	if InRange(troop, target) {
		troop.State = StateAttacking
		troop.TargetID = target.ID
		troop.TargetX, troop.TargetY = target.X, target.Y
		troop.Path = nil
		if troop.Cooldown == 0 {
			g.ApplyDamage(troop, target, ev)
			troop.Cooldown = troop.HitSpeed
		}
		return
	}

	if g.needsReplan(troop, target) {
		troop.Path = g.planPath(troop, target)
	}
	troop.TargetID = target.ID
	troop.TargetX, troop.TargetY = target.X, target.Y
	if len(troop.Path) == 0 {
		// Nowhere to go this tick; hold position.
		troop.State = StateIdle
		return
	}

	next := troop.Path[0]
	if err := g.Arena.MoveEntity(troop, next.X, next.Y); err != nil {
		troop.Path = nil
		troop.State = StateIdle
		return
	}
	troop.Path = troop.Path[1:]
	troop.State = StateMoving
	ev.Group(EvtTroopMoved, TroopMovedMsg{
		TroopID:  troop.ID,
		PlayerID: troop.OwnerID,
		CardID:   troop.CardID,
		X:        troop.X,
		Y:        troop.Y,
		State:    troop.State,
	})
}

// needsReplan reports whether the cached path is stale: no path, a new
// target, a target that moved, or a blocked next step.
func (g *Game) needsReplan(troop, target *Entity) bool {
	if len(troop.Path) == 0 {
		return true
	}
	if troop.TargetID != target.ID || troop.TargetX != target.X || troop.TargetY != target.Y {
		return true
	}
	next := troop.Path[0]
	return !g.Arena.IsFree(next.X, next.Y)
}

func (g *Game) planPath(troop, target *Entity) []Point {
	if target.Kind == KindTower || target.Size > 1 {
		p, ok := FindClosestAttackPoint(g.Arena, troop, target)
		if !ok {
			return nil
		}
		return FindPath(g.Arena, troop, troop.X, troop.Y, p.X, p.Y)
	}
	return FindPath(g.Arena, troop, troop.X, troop.Y, target.X, target.Y)
}

// stepBuilding ages a building and lets it fire. A building whose lifetime
// hits zero expires before shooting.
func (g *Game) stepBuilding(b *Entity, ev *Events) {
	if b.Lifetime > 0 {
		b.Lifetime--
		if b.Lifetime == 0 {
			g.expire(b, ev)
			return
		}
	}
	g.shoot(b, ev)
}
