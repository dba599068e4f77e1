package usecase_watch

import (
	"testing"

	"github.com/rankparty/core/internal/model"
	"github.com/stretchr/testify/assert"
)

func roomWithEpoch(epoch int64) model.Room {
	return model.Room{
		Status:      model.StatusLobby,
		RestartedAt: epoch,
		Players: map[string]model.Participant{
			"p1": {Name: "Ann"},
		},
	}
}

func roomAllSubmitted(n int) model.Room {
	players := make(map[string]model.Participant, n)
	for i := 0; i < n; i++ {
		players[string(rune('a'+i))] = model.Participant{Submitted: true, Ranking: []int{1}}
	}
	return model.Room{Players: players}
}

func TestAllSubmittedFiresExactlyOnce(t *testing.T) {
	fired := 0
	w := New(OnAllSubmitted(func(model.Room) { fired++ }))

	w.Observe(roomAllSubmitted(2))
	w.Observe(roomAllSubmitted(2)) // redelivered unchanged
	w.Observe(roomAllSubmitted(2))

	assert.Equal(t, 1, fired)
}

func TestAllSubmittedRequiresPlayers(t *testing.T) {
	fired := 0
	w := New(OnAllSubmitted(func(model.Room) { fired++ }))

	w.Observe(model.Room{Players: map[string]model.Participant{}})
	w.Observe(model.Room{})

	assert.Zero(t, fired, "a room with zero participants never completes")
}

func TestAllSubmittedNotFiredWhileWaiting(t *testing.T) {
	fired := 0
	w := New(OnAllSubmitted(func(model.Room) { fired++ }))

	room := roomAllSubmitted(3)
	p := room.Players["a"]
	p.Submitted = false
	room.Players["a"] = p

	w.Observe(room)
	assert.Zero(t, fired)

	p.Submitted = true
	room.Players["a"] = p
	w.Observe(room)
	assert.Equal(t, 1, fired)
}

func TestRestartIgnoredOnRedelivery(t *testing.T) {
	fired := 0
	w := New(OnRestart(func(model.Room) { fired++ }))

	w.Observe(roomWithEpoch(100)) // baseline
	w.Observe(roomWithEpoch(200)) // restart
	w.Observe(roomWithEpoch(200)) // same payload, redelivered
	w.Observe(roomWithEpoch(200))

	assert.Equal(t, 1, fired)
}

func TestSecondRestartStillDetected(t *testing.T) {
	var epochs []int64
	w := New(OnRestart(func(room model.Room) { epochs = append(epochs, room.RestartedAt) }))

	w.Observe(roomWithEpoch(100))
	w.Observe(roomWithEpoch(200))
	w.Observe(roomWithEpoch(300))

	assert.Equal(t, []int64{200, 300}, epochs)
}

func TestFirstSnapshotNeverCountsAsRestart(t *testing.T) {
	fired := 0
	w := New(OnRestart(func(model.Room) { fired++ }))

	w.Observe(roomWithEpoch(500))
	assert.Zero(t, fired, "an already-restarted room is the baseline for a fresh subscriber")
}

func TestSeedIsFirstObservedWins(t *testing.T) {
	fired := 0
	w := New(OnRestart(func(model.Room) { fired++ }))

	w.Seed(roomWithEpoch(100))
	w.Seed(roomWithEpoch(999)) // late second seed is ignored
	w.Observe(roomWithEpoch(100))
	assert.Zero(t, fired)

	w.Observe(roomWithEpoch(200))
	assert.Equal(t, 1, fired)
}

func TestSnapshotBeforeSeedWins(t *testing.T) {
	fired := 0
	w := New(OnRestart(func(model.Room) { fired++ }))

	// The push got there first; the one-shot read carries an older epoch
	// from before a restart. The baseline must stay at the first-observed
	// value or the restart would be double-reported.
	w.Observe(roomWithEpoch(200))
	w.Seed(roomWithEpoch(100))

	w.Observe(roomWithEpoch(200))
	assert.Zero(t, fired)
}

func TestRestartFromAbsentEpoch(t *testing.T) {
	fired := 0
	w := New(OnRestart(func(model.Room) { fired++ }))

	w.Observe(roomWithEpoch(0)) // never restarted yet
	w.Observe(roomWithEpoch(0))
	assert.Zero(t, fired)

	w.Observe(roomWithEpoch(100))
	assert.Equal(t, 1, fired)
}

func TestRestartRearmsCompletionLatch(t *testing.T) {
	completed := 0
	w := New(OnAllSubmitted(func(model.Room) { completed++ }))

	round1 := roomAllSubmitted(2)
	w.Observe(round1)
	assert.Equal(t, 1, completed)

	// Restart resets submissions; the next full round is a new waiting
	// session for this long-lived subscription.
	restarted := roomWithEpoch(100)
	w.Observe(restarted)

	round2 := roomAllSubmitted(2)
	round2.RestartedAt = 100
	w.Observe(round2)
	assert.Equal(t, 2, completed)
}

func TestCloseStopsCallbacks(t *testing.T) {
	fired := 0
	released := 0
	w := New(
		OnAllSubmitted(func(model.Room) { fired++ }),
		OnRestart(func(model.Room) { fired++ }),
	)
	w.Bind(func() { released++ })

	w.Observe(roomWithEpoch(100))
	w.Close()
	w.Close() // idempotent

	w.Observe(roomAllSubmitted(2))
	w.Observe(roomWithEpoch(200))

	assert.Zero(t, fired, "a handler fired after unsubscription is a no-op")
	assert.Equal(t, 1, released)
}

func TestBindAfterCloseReleasesImmediately(t *testing.T) {
	released := 0
	w := New()

	w.Close()
	w.Bind(func() { released++ })

	assert.Equal(t, 1, released, "late bind must not leak the subscription")
}

func TestSnapshotCallbackSeesEveryDelivery(t *testing.T) {
	snapshots := 0
	w := New(OnSnapshot(func(model.Room) { snapshots++ }))

	w.Observe(roomWithEpoch(0))
	w.Observe(roomWithEpoch(0))
	w.Observe(roomWithEpoch(100))

	assert.Equal(t, 3, snapshots)
}
