package battle

import (
	"errors"
	"testing"

	"battleground/internal/constants"
)

func TestEnqueueRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, b *Battle)
		err   error
	}{
		{
			name:  "internal battle",
			setup: func(f *fixture, b *Battle) { b.Close() },
			err:   ErrNotOpen,
		},
		{
			name:  "invites disallowed",
			setup: func(f *fixture, b *Battle) { b.Options.AllowInvites = false },
			err:   ErrInvitesDisabled,
		},
		{
			name:  "offline player",
			setup: func(f *fixture, b *Battle) { f.presence.offline["alice"] = true },
			err:   ErrOffline,
		},
		{
			name:  "player in combat",
			setup: func(f *fixture, b *Battle) { f.presence.combat["alice"] = true },
			err:   ErrInCombat,
		},
		{
			name: "already queued",
			setup: func(f *fixture, b *Battle) {
				if err := b.Enqueue("alice", ""); err != nil {
					t.Fatalf("seed enqueue: %v", err)
				}
			},
			err: ErrAlreadyQueued,
		},
		{
			name:  "already a participant",
			setup: func(f *fixture, b *Battle) { join(t, b, "alice", "Red") },
			err:   ErrAlreadyJoined,
		},
		{
			name:  "in another battle",
			setup: func(f *fixture, b *Battle) { f.roster.elsewhere["alice"] = true },
			err:   ErrOtherBattle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			b := newTestBattle(t, f)
			tt.setup(f, b)
			if err := b.Enqueue("alice", ""); !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
		})
	}
}

func TestEnqueueRejectsRecentDeserter(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	join(t, b, "alice", "Red")
	join(t, b, "bob", "Blue")
	advanceTo(t, b, f, StateRunning)

	b.Quit("alice")
	if err := b.Enqueue("alice", ""); !errors.Is(err, ErrDeserter) {
		t.Fatalf("expected ErrDeserter, got %v", err)
	}

	// The flag is temporary: after the cooldown the player may requeue.
	f.clock.Advance(constants.DeserterCooldown)
	if err := b.Enqueue("alice", ""); err != nil {
		t.Fatalf("expected requeue after cooldown, got %v", err)
	}
}

func TestEnqueueDequeueRestoresQueueExactly(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	if err := b.Enqueue("zed", "Blue"); err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}

	if err := b.Enqueue("alice", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	b.Dequeue("alice")

	if b.QueueLen() != 1 || b.Queued("alice") {
		t.Fatalf("expected pre-enqueue queue restored, len=%d", b.QueueLen())
	}
	if pref := b.Queue["zed"]; pref != "Blue" {
		t.Fatalf("expected unrelated entry untouched, got %q", pref)
	}
}

func TestDequeueIsIdempotent(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)

	b.Dequeue("nobody")
	b.Dequeue("nobody")
	if b.QueueLen() != 0 {
		t.Fatalf("expected empty queue, len=%d", b.QueueLen())
	}
}

func TestEnqueueCascadesToParty(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	f.presence.parties["alice"] = []PlayerID{"alice", "bob", "carol"}
	f.presence.offline["carol"] = true

	if err := b.Enqueue("alice", "Red"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if !b.Queued("alice") || !b.Queued("bob") {
		t.Fatal("expected party members queued")
	}
	if b.Queued("carol") {
		t.Fatal("expected offline party member skipped")
	}
	if pref := b.Queue["bob"]; pref != "Red" {
		t.Fatalf("expected party member inherits preference, got %q", pref)
	}
}

func TestAcceptInviteHonorsPreselection(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	join(t, b, "alice", "Blue")

	if team := b.TeamFor("alice"); team == nil || team.Name != "Blue" {
		t.Fatalf("expected alice on Blue, got %v", team)
	}
	if b.Queued("alice") {
		t.Fatal("queue and team membership must be mutually exclusive")
	}
}

func TestAcceptInviteAutoBalancesTeams(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)

	join(t, b, "alice", "")
	join(t, b, "bob", "")

	first := b.TeamFor("alice")
	second := b.TeamFor("bob")
	if first == nil || second == nil {
		t.Fatal("expected both players placed")
	}
	if first == second {
		t.Fatalf("expected auto-balance onto different teams, both on %s", first.Name)
	}
	if got := b.CurrentCapacity(); got != 2 {
		t.Fatalf("expected capacity 2, got %d", got)
	}
}

func TestAcceptInvitePrefersLowestLoadedTeam(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	f.presence.skills["alice"] = 100
	f.presence.stats["alice"] = 225
	join(t, b, "alice", "Red")
	join(t, b, "bob", "Blue")

	f.presence.skills["carol"] = 1
	f.presence.stats["carol"] = 1
	join(t, b, "carol", "")

	// Red carries the heavy load; the heuristic must send carol to Blue.
	if team := b.TeamFor("carol"); team == nil || team.Name != "Blue" {
		t.Fatalf("expected carol on Blue, got %v", team)
	}
}

func TestAcceptInviteFailsBackToQueueWhenFull(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	for _, team := range b.Teams {
		team.MaxCapacity = 1
	}
	join(t, b, "alice", "")
	join(t, b, "bob", "")

	if err := b.Enqueue("carol", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	err := b.AcceptInvite("carol")
	if !errors.Is(err, ErrNoTeam) && !errors.Is(err, ErrTeamFull) {
		t.Fatalf("expected graceful failure, got %v", err)
	}
	if !b.Queued("carol") {
		t.Fatal("expected carol to stay queued")
	}
	if len(f.notify.notes["carol"]) == 0 {
		t.Fatal("expected carol told no team can take her")
	}
}

func TestAcceptInviteRequiresQueueMembership(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	if err := b.AcceptInvite("ghost"); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("expected ErrNotQueued, got %v", err)
	}
}

func TestSendInvitesKeepsOneOutstandingPerPlayer(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	if err := b.Enqueue("alice", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	b.SendInvites()
	first := b.invites["alice"]
	if first == nil {
		t.Fatal("expected an invite dispatched")
	}
	b.SendInvites()
	if b.invites["alice"] != first {
		t.Fatal("expected the outstanding invite kept, not reissued")
	}

	// A stale invite referencing this battle is closed and reissued.
	f.clock.Advance(constants.InviteTTL)
	b.SendInvites()
	second := b.invites["alice"]
	if second == nil || second.ID == first.ID {
		t.Fatal("expected stale invite replaced")
	}
}

func TestSendInvitesDropsIneligiblePlayers(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	if err := b.Enqueue("alice", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	f.presence.offline["alice"] = true

	b.SendInvites()

	if b.Queued("alice") {
		t.Fatal("expected offline player dropped from queue")
	}
}

func TestSendInvitesOnlyWhileAcceptingVolunteers(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	join(t, b, "alice", "Red")
	join(t, b, "bob", "Blue")
	advanceTo(t, b, f, StateRunning)

	if err := b.Enqueue("carol", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	b.SendInvites()
	if b.invites["carol"] != nil {
		t.Fatal("expected no invites while running without mid-match invites")
	}

	b.Options.InviteWhileRunning = true
	b.SendInvites()
	if b.invites["carol"] == nil {
		t.Fatal("expected invite once mid-match invites are allowed")
	}
}
