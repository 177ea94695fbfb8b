package engine

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"roomsync/internal/model"
	"roomsync/internal/store"
)

// DefaultStabilizationWindow is how long a previously valid player list
// outlives a structurally suspicious snapshot.
const DefaultStabilizationWindow = 400 * time.Millisecond

// Normalizer repairs malformed snapshots and suppresses read-after-write
// flicker. It is stateful per subscription: it remembers the most recent
// snapshot that carried at least two valid players and substitutes it when
// a near-simultaneous snapshot loses them. Normalize never fails.
type Normalizer struct {
	window time.Duration
	clock  clock.Clock
	log    *zap.Logger

	lastValid   []model.Player
	lastValidTs time.Time
}

// NewNormalizer creates a normalizer with the given stabilization window.
func NewNormalizer(window time.Duration, clk clock.Clock, log *zap.Logger) *Normalizer {
	if window <= 0 {
		window = DefaultStabilizationWindow
	}
	return &Normalizer{
		window: window,
		clock:  clk,
		log:    log,
	}
}

// Normalize converts a raw snapshot into a structurally valid Room.
// ok is false when the document has never been written (no state yet);
// repaired reports that the players field needed shape repair.
func (n *Normalizer) Normalize(doc store.Document) (room *model.Room, repaired bool, ok bool) {
	if len(doc) == 0 {
		return nil, false, false
	}

	room, repaired = DecodeRoom(doc)
	if repaired {
		n.log.Info("repaired malformed players field",
			zap.String("room", room.Code),
			zap.Int("players", len(room.Players)))
	}

	now := n.clock.Now()
	if room.ValidPlayerCount() >= 2 {
		n.lastValid = append([]model.Player(nil), room.Players...)
		n.lastValidTs = now
		return room, repaired, true
	}

	// A snapshot that just dropped below two valid players inside the
	// stabilization window is read-after-write flicker, not truth.
	if n.lastValid != nil && now.Sub(n.lastValidTs) < n.window {
		room.Players = append([]model.Player(nil), n.lastValid...)
	}
	return room, repaired, true
}
