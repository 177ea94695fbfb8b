package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomsync/internal/cache"
	"roomsync/internal/engine"
	"roomsync/internal/model"
	"roomsync/internal/store"
)

// WritePolicy selects how room mutations acknowledge.
type WritePolicy int

const (
	// WaitForAck returns only after the store confirms the write.
	WaitForAck WritePolicy = iota
	// FireAndForget returns after a fixed grace delay; background write
	// failures are logged, never surfaced.
	FireAndForget
)

const (
	defaultGraceDelay        = 500 * time.Millisecond
	defaultStaleAfter        = 30 * time.Minute
	defaultStartRecheckDelay = time.Second
	defaultCodeAttempts      = 5
	roomCodeLen              = 6
	roomCodeChars            = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Options tunes a RoomService. Zero values fall back to the defaults.
type Options struct {
	Policy            WritePolicy
	GraceDelay        time.Duration
	StaleAfter        time.Duration
	StartRecheckDelay time.Duration
	CodeAttempts      int
}

func (o Options) withDefaults() Options {
	if o.GraceDelay <= 0 {
		o.GraceDelay = defaultGraceDelay
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultStaleAfter
	}
	if o.StartRecheckDelay <= 0 {
		o.StartRecheckDelay = defaultStartRecheckDelay
	}
	if o.CodeAttempts <= 0 {
		o.CodeAttempts = defaultCodeAttempts
	}
	return o
}

// RoomService is the room lifecycle controller: the only component that
// issues mutations against the store. Reads flow back to callers through
// SubscribeRoom and the engine's normalizer/coalescer pipeline.
type RoomService struct {
	store   store.Store
	cache   cache.RoomCache
	access  AccessChecker
	authSvc *AuthService
	subs    *engine.Subscriber
	clock   clock.Clock
	log     *zap.Logger
	opts    Options
}

// NewRoomService creates a new room service
func NewRoomService(
	st store.Store,
	roomCache cache.RoomCache,
	access AccessChecker,
	authSvc *AuthService,
	subs *engine.Subscriber,
	clk clock.Clock,
	log *zap.Logger,
	opts Options,
) *RoomService {
	return &RoomService{
		store:   st,
		cache:   roomCache,
		access:  access,
		authSvc: authSvc,
		subs:    subs,
		clock:   clk,
		log:     log,
		opts:    opts.withDefaults(),
	}
}

// CreateRoom creates a room with the given host as its first player. An
// explicit name is sanitized into the room code; otherwise a short random
// code is generated. A stale or empty room occupying the code is
// reclaimed.
func (s *RoomService) CreateRoom(ctx context.Context, hostName string, maxPlayers, aiCount int, name string) (*model.CreateRoomResult, error) {
	if err := s.checkAccess(ctx); err != nil {
		return nil, err
	}
	if hostName == "" {
		return nil, fmt.Errorf("host name is required")
	}
	if maxPlayers < 2 {
		maxPlayers = 2
	}

	code, err := s.claimRoomCode(ctx, name)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	hostUserID := newUserID()
	room := &model.Room{
		Code:         code,
		Name:         name,
		Status:       model.RoomWaiting,
		MaxPlayers:   maxPlayers,
		MinPlayers:   2,
		AIBotCount:   aiCount,
		HostUserID:   hostUserID,
		CreatedAt:    now,
		LastActivity: now,
		Players: []model.Player{{
			UserID:      hostUserID,
			DisplayName: hostName,
			IsHost:      true,
			TokenIndex:  0,
			JoinedAt:    now,
		}},
	}

	if err := s.writeRoom(ctx, room); err != nil {
		return nil, err
	}
	s.cacheMeta(ctx, room)

	s.log.Info("room created",
		zap.String("room", code),
		zap.String("host", hostUserID),
		zap.Int("maxPlayers", maxPlayers),
		zap.Int("aiBots", aiCount))

	return &model.CreateRoomResult{RoomCode: code, HostUserID: hostUserID}, nil
}

// JoinRoom adds a player to a room, or reconnects an existing one once
// the game has started. Display-name collisions among new players are
// resolved by suffixing; reconnection is idempotent.
func (s *RoomService) JoinRoom(ctx context.Context, roomCode, displayName string) (*model.JoinRoomResult, error) {
	if err := s.checkAccess(ctx); err != nil {
		return nil, err
	}
	if displayName == "" {
		return nil, fmt.Errorf("display name is required")
	}

	doc, err := s.store.Get(ctx, roomCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to read room: %w", err)
	}
	room, _ := engine.DecodeRoom(doc)
	now := s.clock.Now()

	if room.Status == model.RoomClosed || room.Status == model.RoomStale {
		return nil, ErrRoomClosed
	}

	if room.Status == model.RoomStarted {
		player := findReturningPlayer(room.Players, displayName)
		if player == nil {
			return nil, ErrGameStarted
		}
		return s.reconnect(ctx, room, player, displayName, now)
	}

	if len(room.Players) >= room.MaxPlayers {
		return nil, ErrRoomFull
	}

	finalName := uniqueDisplayName(room.Players, displayName)
	player := model.Player{
		UserID:      newUserID(),
		DisplayName: finalName,
		TokenIndex:  nextTokenIndex(room.Players),
		JoinedAt:    now,
	}
	room.Players = append(room.Players, player)
	room.LastActivity = now

	err = s.store.Update(ctx, roomCode, store.Document{
		"players":      engine.EncodePlayers(room.Players),
		"lastActivity": now.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Touch(ctx, roomCode, now); err != nil {
			s.log.Warn("cache touch failed", zap.String("room", roomCode), zap.Error(err))
		}
	}

	s.evaluateAutoStart(ctx, room)
	s.scheduleStartRecheck(roomCode)

	token, err := s.authSvc.GeneratePlayerToken(roomCode, player.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Info("player joined",
		zap.String("room", roomCode),
		zap.String("user", player.UserID),
		zap.Int("token", player.TokenIndex))

	return &model.JoinRoomResult{
		UserID:      player.UserID,
		DisplayName: finalName,
		NameChanged: finalName != displayName,
		Token:       token,
	}, nil
}

// reconnect bumps activity for a returning player without duplicating the
// entry.
func (s *RoomService) reconnect(ctx context.Context, room *model.Room, player *model.Player, inputName string, now time.Time) (*model.JoinRoomResult, error) {
	err := s.store.Update(ctx, room.Code, store.Document{
		"lastActivity": now.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rejoin room: %w", err)
	}

	token, err := s.authSvc.GeneratePlayerToken(room.Code, player.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Info("player reconnected",
		zap.String("room", room.Code),
		zap.String("user", player.UserID))

	return &model.JoinRoomResult{
		UserID:      player.UserID,
		DisplayName: player.DisplayName,
		NameChanged: player.DisplayName != inputName,
		Token:       token,
	}, nil
}

// LeaveRoom removes the player matching the (displayName, userId) pair.
// Removing the last player closes the room.
func (s *RoomService) LeaveRoom(ctx context.Context, roomCode, displayName, userID string) error {
	doc, err := s.store.Get(ctx, roomCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("failed to read room: %w", err)
	}
	room, _ := engine.DecodeRoom(doc)

	remaining := room.Players[:0:0]
	for _, p := range room.Players {
		if p.UserID == userID && p.DisplayName == displayName {
			continue
		}
		remaining = append(remaining, p)
	}
	if len(remaining) == len(room.Players) {
		return nil // player already gone
	}

	now := s.clock.Now()
	fields := store.Document{
		"players":      engine.EncodePlayers(remaining),
		"lastActivity": now.UnixMilli(),
	}
	if len(remaining) == 0 {
		fields["status"] = string(model.RoomClosed)
	}
	if err := s.store.Update(ctx, roomCode, fields); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}

	if s.cache != nil {
		if len(remaining) == 0 {
			if err := s.cache.SetStatus(ctx, roomCode, model.RoomClosed); err != nil {
				s.log.Warn("cache status update failed", zap.String("room", roomCode), zap.Error(err))
			}
		} else if err := s.cache.Touch(ctx, roomCode, now); err != nil {
			s.log.Warn("cache touch failed", zap.String("room", roomCode), zap.Error(err))
		}
	}

	s.log.Info("player left",
		zap.String("room", roomCode),
		zap.String("user", userID),
		zap.Int("remaining", len(remaining)))
	return nil
}

// DisconnectAndRemovePlayer is the best-effort variant of LeaveRoom hooked
// to page-lifecycle signals. It is a courtesy cleanup: the staleness sweep
// is the correctness mechanism.
func (s *RoomService) DisconnectAndRemovePlayer(roomCode, displayName, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.LeaveRoom(ctx, roomCode, displayName, userID); err != nil {
		s.log.Warn("best-effort leave failed",
			zap.String("room", roomCode),
			zap.String("user", userID),
			zap.Error(err))
	}
}

// SubscribeRoom streams normalized, coalesced room snapshots to onRoom
// until the returned function is called. Each call is an independent
// session handle; there is no shared current-room state.
func (s *RoomService) SubscribeRoom(roomCode string, onRoom func(*model.Room), onFatal func(error)) func() {
	return s.subs.Subscribe(roomCode, onRoom, onFatal)
}

// ListOpenRooms returns waiting rooms with activity inside recencyWindow,
// sweeping stale rooms first.
func (s *RoomService) ListOpenRooms(ctx context.Context, recencyWindow time.Duration) ([]model.Room, error) {
	s.sweepStale(ctx)

	cutoff := s.clock.Now().Add(-recencyWindow)
	docs, err := s.store.Query(ctx, "lastActivity", ">=", cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	var rooms []model.Room
	for _, doc := range docs {
		room, _ := engine.DecodeRoom(doc)
		if room.Status != model.RoomWaiting {
			continue
		}
		rooms = append(rooms, *room)
	}
	return rooms, nil
}

// sweepStale deletes empty stale rooms and marks lingering non-empty ones
// stale. Best effort: failures are logged, listing proceeds.
func (s *RoomService) sweepStale(ctx context.Context) {
	cutoff := s.clock.Now().Add(-s.opts.StaleAfter)
	docs, err := s.store.Query(ctx, "lastActivity", "<", cutoff.UnixMilli())
	if err != nil {
		s.log.Warn("stale sweep query failed", zap.Error(err))
		return
	}

	for _, doc := range docs {
		room, _ := engine.DecodeRoom(doc)
		if room.Code == "" {
			continue
		}
		if len(room.Players) == 0 {
			if err := s.store.Delete(ctx, room.Code); err != nil {
				s.log.Warn("stale room delete failed", zap.String("room", room.Code), zap.Error(err))
				continue
			}
			if s.cache != nil {
				_ = s.cache.Delete(ctx, room.Code)
			}
			s.log.Info("deleted empty stale room", zap.String("room", room.Code))
			continue
		}
		if room.Status != model.RoomStale && room.Status != model.RoomClosed {
			err := s.store.Update(ctx, room.Code, store.Document{"status": string(model.RoomStale)})
			if err != nil {
				s.log.Warn("stale room mark failed", zap.String("room", room.Code), zap.Error(err))
				continue
			}
			if s.cache != nil {
				_ = s.cache.SetStatus(ctx, room.Code, model.RoomStale)
			}
		}
	}
}

func (s *RoomService) checkAccess(ctx context.Context) error {
	ok, err := s.access.HasAccess(ctx)
	if err != nil {
		return fmt.Errorf("access check failed: %w", err)
	}
	if !ok {
		return ErrAccessRequired
	}
	return nil
}

// claimRoomCode derives or generates a room code and frees a stale or
// empty room occupying it. Active collisions regenerate up to the attempt
// budget, then fall back to a long crypto-random code.
func (s *RoomService) claimRoomCode(ctx context.Context, name string) (string, error) {
	candidate := deriveRoomCode(name)
	if candidate == "" {
		var err error
		if candidate, err = randomRoomCode(); err != nil {
			return "", err
		}
	}

	for attempt := 0; attempt < s.opts.CodeAttempts; attempt++ {
		if attempt > 0 {
			var err error
			if candidate, err = randomRoomCode(); err != nil {
				return "", err
			}
		}

		// Fast path: a cache hit on a fresh room is an active collision,
		// no store read needed. Stale or closed entries fall through to
		// the authoritative store read so the code can be reclaimed.
		if s.cache != nil {
			exists, cerr := s.cache.Exists(ctx, candidate)
			if cerr == nil && exists {
				meta, merr := s.cache.GetMeta(ctx, candidate)
				if merr == nil && meta != nil && meta.Status != model.RoomClosed &&
					s.clock.Now().Sub(meta.LastActivity) <= s.opts.StaleAfter {
					continue
				}
			}
		}

		doc, err := s.store.Get(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to probe room code: %w", err)
		}

		existing, _ := engine.DecodeRoom(doc)
		if len(existing.Players) == 0 || s.isStale(existing) {
			if err := s.store.Delete(ctx, candidate); err != nil {
				return "", fmt.Errorf("failed to reclaim room %s: %w", candidate, err)
			}
			if s.cache != nil {
				_ = s.cache.Delete(ctx, candidate)
			}
			s.log.Info("reclaimed room code", zap.String("room", candidate))
			return candidate, nil
		}
	}

	fallback := make([]byte, 6)
	if _, err := rand.Read(fallback); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(fallback)), nil
}

func (s *RoomService) isStale(room *model.Room) bool {
	return s.clock.Now().Sub(room.LastActivity) > s.opts.StaleAfter
}

// writeRoom persists the full room document under the configured write
// policy.
func (s *RoomService) writeRoom(ctx context.Context, room *model.Room) error {
	doc := engine.EncodeRoom(room)

	if s.opts.Policy == WaitForAck {
		if err := s.store.Create(ctx, room.Code, doc); err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
		return nil
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.Create(writeCtx, room.Code, doc); err != nil {
			s.log.Error("background room write failed",
				zap.String("room", room.Code),
				zap.Error(err))
		}
	}()
	s.clock.Sleep(s.opts.GraceDelay)
	return nil
}

func (s *RoomService) cacheMeta(ctx context.Context, room *model.Room) {
	if s.cache == nil {
		return
	}
	meta := &model.RoomMeta{
		Code:         room.Code,
		Name:         room.Name,
		Status:       room.Status,
		HostUserID:   room.HostUserID,
		MaxPlayers:   room.MaxPlayers,
		PlayerCount:  len(room.Players),
		CreatedAt:    room.CreatedAt,
		LastActivity: room.LastActivity,
	}
	if err := s.cache.SetMeta(ctx, room.Code, meta); err != nil {
		s.log.Warn("failed to cache room meta", zap.String("room", room.Code), zap.Error(err))
	}
}

// evaluateAutoStart transitions a room to started when it is full, or
// when it was created with AI bots and holds at least one human.
func (s *RoomService) evaluateAutoStart(ctx context.Context, room *model.Room) {
	if room.Status != model.RoomWaiting || !shouldStart(room) {
		return
	}
	err := s.store.Update(ctx, room.Code, store.Document{"status": string(model.RoomStarted)})
	if err != nil {
		s.log.Warn("auto-start write failed", zap.String("room", room.Code), zap.Error(err))
		return
	}
	if s.cache != nil {
		_ = s.cache.SetStatus(ctx, room.Code, model.RoomStarted)
	}
	s.log.Info("room auto-started",
		zap.String("room", room.Code),
		zap.Int("players", len(room.Players)))
}

// scheduleStartRecheck re-runs the auto-start decision after a short
// delay, absorbing store write-propagation lag behind the join that
// triggered it.
func (s *RoomService) scheduleStartRecheck(roomCode string) {
	s.clock.AfterFunc(s.opts.StartRecheckDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		doc, err := s.store.Get(ctx, roomCode)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.log.Warn("start recheck read failed", zap.String("room", roomCode), zap.Error(err))
			}
			return
		}
		room, _ := engine.DecodeRoom(doc)
		s.evaluateAutoStart(ctx, room)
	})
}

func shouldStart(room *model.Room) bool {
	if len(room.Players) >= room.MaxPlayers {
		return true
	}
	return room.AIBotCount > 0 && room.HumanCount() >= 1
}

// findReturningPlayer resolves a join against a started room: an exact
// case-insensitive name match, else the first fuzzy reconnection match.
func findReturningPlayer(players []model.Player, displayName string) *model.Player {
	for i := range players {
		if strings.EqualFold(players[i].DisplayName, displayName) {
			return &players[i]
		}
	}
	for i := range players {
		if fuzzyNameMatch(players[i].DisplayName, displayName) {
			return &players[i]
		}
	}
	return nil
}

// fuzzyNameMatch accepts a reconnection under either rule: containment
// with a length gap of at most 3, or positional character overlap of at
// least 0.70 with a length gap of at most 4. Lengths and positions are
// counted in runes so multi-byte names compare fairly.
func fuzzyNameMatch(existing, candidate string) bool {
	a := strings.ToLower(existing)
	b := strings.ToLower(candidate)
	ra := []rune(a)
	rb := []rune(b)
	gap := len(ra) - len(rb)
	if gap < 0 {
		gap = -gap
	}

	if gap <= 3 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return true
	}
	return gap <= 4 && positionalSimilarity(ra, rb) >= 0.70
}

// positionalSimilarity is the count of equal runes at equal indexes over
// the shorter length, divided by the longer length.
func positionalSimilarity(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	short, long := len(a), len(b)
	if short > long {
		short, long = long, short
	}
	equal := 0
	for i := 0; i < short; i++ {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(long)
}

// uniqueDisplayName appends " (2)", " (3)", … until the name collides
// with no current player.
func uniqueDisplayName(players []model.Player, name string) string {
	taken := make(map[string]bool, len(players))
	for i := range players {
		taken[strings.ToLower(players[i].DisplayName)] = true
	}

	candidate := name
	for n := 2; taken[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s (%d)", name, n)
	}
	return candidate
}

// nextTokenIndex picks the smallest free token index, falling back to 0
// when every index is held.
func nextTokenIndex(players []model.Player) int {
	held := make(map[int]bool, len(players))
	for i := range players {
		held[players[i].TokenIndex] = true
	}
	for i := 0; i < model.TokenCount; i++ {
		if !held[i] {
			return i
		}
	}
	return 0
}

// deriveRoomCode sanitizes an explicit room name into a code: non
// alphanumerics stripped, whitespace collapsed to underscores, uppercased.
func deriveRoomCode(name string) string {
	var words []string
	for _, field := range strings.Fields(name) {
		var b strings.Builder
		for _, r := range field {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			words = append(words, b.String())
		}
	}
	return strings.ToUpper(strings.Join(words, "_"))
}

// randomRoomCode creates a 6-char code over an unambiguous alphabet.
func randomRoomCode() (string, error) {
	b := make([]byte, roomCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	code := make([]byte, roomCodeLen)
	for i := range code {
		code[i] = roomCodeChars[int(b[i])%len(roomCodeChars)]
	}
	return string(code), nil
}

func newUserID() string {
	return "u_" + uuid.New().String()[:8]
}
