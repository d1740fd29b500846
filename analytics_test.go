package main

import "testing"

func TestAnalyticsFlushOnStop(t *testing.T) {
	db := openTestDB(t)
	a := NewAnalytics(db)

	a.Track(TrackCardPlayed, "alice", "s1", map[string]string{"card": "knight"})
	a.Track(TrackCardPlayed, "bob", "s1", map[string]string{"card": "knight"})
	a.Track(TrackCardPlayed, "bob", "s1", map[string]string{"card": "goblin"})
	a.Track(TrackMatchEnd, "alice", "s1", map[string]interface{}{"reason": ReasonForfeit, "ticks": 40})
	a.Stop()

	counts, err := a.EventCounts(7)
	if err != nil {
		t.Fatal(err)
	}
	if counts[TrackCardPlayed] != 3 || counts[TrackMatchEnd] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	cards, err := a.PopularCards(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 2 || cards[0].CardID != "knight" || cards[0].Count != 2 {
		t.Errorf("unexpected popular cards %+v", cards)
	}

	reasons, err := a.EndReasonStats(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(reasons) != 1 || reasons[0].Reason != ReasonForfeit || reasons[0].AvgTicks != 40 {
		t.Errorf("unexpected end reasons %+v", reasons)
	}
}

func TestAnalyticsLiveMetrics(t *testing.T) {
	a := NewAnalytics(nil)
	defer a.Stop()

	a.SetActiveSessions(2)
	a.SetQueuedPlayers(3)
	a.SetConcurrentPeers(7)
	a.Track(TrackQueued, "alice", "", nil)

	m := a.GetLiveMetrics()
	if m.Sessions != 2 || m.Queued != 3 || m.Peers != 7 {
		t.Errorf("unexpected live metrics %+v", m)
	}
	if counts, err := a.EventCounts(1); counts != nil || err != nil {
		t.Errorf("without a database nothing is stored, got %v (%v)", counts, err)
	}

	var none *Analytics
	none.Track(TrackQueued, "alice", "", nil)
	none.SetActiveSessions(1)
}
