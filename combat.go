package main

// ApplyDamage lets attacker hit target once. Both must be alive before the
// hit; the kill is handled when the hit drops the target to zero.
func (g *Game) ApplyDamage(attacker, target *Entity, ev *Events) bool {
	if !attacker.Alive() || !target.Alive() {
		return false
	}
	dealt, died := target.TakeDamage(attacker.Damage)
	if dealt == 0 {
		return false
	}
	ev.Group(EvtUnitDamaged, UnitDamagedMsg{
		AttackerID: attacker.ID,
		TargetID:   target.ID,
		Damage:     dealt,
		Health:     target.Health,
		MaxHealth:  target.MaxHealth,
	})
	if died {
		g.kill(target, attacker.OwnerID, ev)
	}
	return died
}

// kill takes a dead entity out of play. A fallen leader tower ends the game
// in favour of the killer's owner.
func (g *Game) kill(e *Entity, killerOwner string, ev *Events) {
	e.State = StateDead
	e.Path = nil
	g.Arena.RemoveEntity(e)
	ev.Group(EvtUnitKilled, UnitKilledMsg{UnitID: e.ID})
	if e.Kind != KindTower {
		return
	}
	ev.Group(EvtTowerDestroyed, TowerDestroyedMsg{TowerID: e.ID, OwnerID: e.OwnerID, Type: e.TowerType})
	if e.IsLeader() {
		winner := killerOwner
		if opp := g.Opponent(e.OwnerID); opp != nil {
			winner = opp.UserID
		}
		g.endGame(winner, ReasonLeaderDestroyed, ev)
	}
}

// expire removes a building whose lifetime ran out
func (g *Game) expire(e *Entity, ev *Events) {
	e.State = StateDead
	g.Arena.RemoveEntity(e)
	ev.Group(EvtUnitExpired, UnitExpiredMsg{UnitID: e.ID})
}

// shoot makes a stationary attacker (building or tower) fire at the closest
// enemy troop in range when its cooldown allows.
func (g *Game) shoot(e *Entity, ev *Events) {
	if e.Cooldown > 0 {
		e.Cooldown--
	}
	targets := g.Arena.GetEnemyTroopsInRange(e)
	if len(targets) == 0 {
		e.State = StateIdle
		e.TargetID = 0
		return
	}
	target := targets[0]
	e.State = StateAttacking
	e.TargetID = target.ID
	e.TargetX, e.TargetY = target.X, target.Y
	if e.Cooldown == 0 {
		g.ApplyDamage(e, target, ev)
		e.Cooldown = e.HitSpeed
	}
}
