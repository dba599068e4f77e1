package usecase_room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rankparty/core/internal/model"
	"github.com/rankparty/core/internal/store"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomEnded         = errors.New("room has already ended")
	ErrCapacityExhausted = errors.New("no free room code found")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLen         = 4
	maxCodeAttempts = 10
)

type Usecase struct {
	store  store.Store
	clock  clockwork.Clock
	logger *slog.Logger
}

type UsecaseOption func(*Usecase)

func WithClock(clock clockwork.Clock) UsecaseOption {
	return func(u *Usecase) {
		u.clock = clock
	}
}

func WithLogger(logger *slog.Logger) UsecaseOption {
	return func(u *Usecase) {
		u.logger = logger
	}
}

func New(st store.Store, opts ...UsecaseOption) *Usecase {
	u := &Usecase{
		store:  st,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// CreateRoom writes a fully formed room with the creator as its only
// participant and host. Codes can collide, so generation is an existence
// check followed by a create, bounded to keep a crowded keyspace from
// turning into a livelock.
func (u *Usecase) CreateRoom(ctx context.Context, prompt string, itemCount int, items []model.Item, hostName string) (model.RoomCode, string, error) {
	if hostName == "" {
		hostName = "Host"
	}
	playerID := u.buildPlayerID()
	now := u.clock.Now().UnixMilli()

	room := model.Room{
		Prompt:    prompt,
		ItemCount: itemCount,
		Items:     items,
		Status:    model.StatusWaiting,
		HostID:    playerID,
		CreatedAt: now,
		Players: map[string]model.Participant{
			playerID: {
				Name:     hostName,
				IsHost:   true,
				JoinedAt: now,
			},
		},
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := u.buildRoomCode()

		_, err := u.store.Get(ctx, roomKey(code))
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.EmptyRoomCode, "", errors.Join(ErrStoreUnavailable, err)
		}

		if err := u.store.Set(ctx, roomKey(code), room); err != nil {
			return model.EmptyRoomCode, "", errors.Join(ErrStoreUnavailable, err)
		}
		return code, playerID, nil
	}

	return model.EmptyRoomCode, "", ErrCapacityExhausted
}

// JoinRoom adds a new participant and returns the room snapshot so the
// joining client can render without waiting for the first push.
func (u *Usecase) JoinRoom(ctx context.Context, code model.RoomCode, name string) (string, model.Room, error) {
	if name == "" {
		name = "Player"
	}
	code = NormalizeCode(code)

	room, err := u.Room(ctx, code)
	if err != nil {
		return "", model.Room{}, err
	}
	if room.Status == model.StatusCompleted {
		return "", model.Room{}, ErrRoomEnded
	}

	playerID := u.buildPlayerID()
	participant := model.Participant{
		Name:     name,
		JoinedAt: u.clock.Now().UnixMilli(),
	}

	err = u.store.Update(ctx, roomKey(code), map[string]any{
		"players/" + playerID: participant,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", model.Room{}, ErrRoomNotFound
		}
		return "", model.Room{}, errors.Join(ErrStoreUnavailable, err)
	}

	if room.Players == nil {
		room.Players = map[string]model.Participant{}
	}
	room.Players[playerID] = participant
	return playerID, room, nil
}

// SubmitRanking merges only the one participant's fields, so concurrent
// submissions by different players never clobber each other. Re-submission
// overwrites the prior ranking.
func (u *Usecase) SubmitRanking(ctx context.Context, code model.RoomCode, playerID string, itemIDs []int) error {
	code = NormalizeCode(code)
	prefix := "players/" + playerID + "/"

	err := u.store.Update(ctx, roomKey(code), map[string]any{
		prefix + "ranking":     itemIDs,
		prefix + "submitted":   true,
		prefix + "submittedAt": u.clock.Now().UnixMilli(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// RestartRoom reuses the room code for a new round: every participant is
// retained with ranking and submission reset, the item set is replaced
// wholesale, and restartedAt moves to a value strictly different from the
// previous one so observers can tell a restart from a submission change.
func (u *Usecase) RestartRoom(ctx context.Context, code model.RoomCode, prompt string, itemCount int, items []model.Item) error {
	code = NormalizeCode(code)

	room, err := u.Room(ctx, code)
	if err != nil {
		return err
	}

	resetPlayers := make(map[string]model.Participant, len(room.Players))
	for id, p := range room.Players {
		p.Ranking = nil
		p.Submitted = false
		p.SubmittedAt = 0
		resetPlayers[id] = p
	}

	epoch := u.clock.Now().UnixMilli()
	if epoch <= room.RestartedAt {
		epoch = room.RestartedAt + 1
	}

	err = u.store.Update(ctx, roomKey(code), map[string]any{
		"prompt":      prompt,
		"itemCount":   itemCount,
		"items":       items,
		"status":      model.StatusLobby,
		"players":     resetPlayers,
		"restartedAt": epoch,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Room reads the current snapshot once.
func (u *Usecase) Room(ctx context.Context, code model.RoomCode) (model.Room, error) {
	code = NormalizeCode(code)

	raw, err := u.store.Get(ctx, roomKey(code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Room{}, ErrRoomNotFound
		}
		return model.Room{}, errors.Join(ErrStoreUnavailable, err)
	}
	return decodeRoom(code, raw)
}

// SetStatus writes the advisory status field. Derived states never depend
// on it; it exists for clients that want a cheap phase hint.
func (u *Usecase) SetStatus(ctx context.Context, code model.RoomCode, status model.RoomStatus) error {
	code = NormalizeCode(code)

	err := u.store.Update(ctx, roomKey(code), map[string]any{"status": status})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Watch subscribes fn to decoded room snapshots. Undecodable payloads are
// dropped rather than delivered broken.
func (u *Usecase) Watch(code model.RoomCode, fn func(model.Room)) (func(), error) {
	code = NormalizeCode(code)

	return u.store.Subscribe(roomKey(code), func(doc []byte) {
		room, err := decodeRoom(code, doc)
		if err != nil {
			u.logger.Error("dropping undecodable room snapshot",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
			return
		}
		fn(room)
	})
}

func NormalizeCode(code model.RoomCode) model.RoomCode {
	return strings.ToUpper(strings.TrimSpace(code))
}

func decodeRoom(code model.RoomCode, raw []byte) (model.Room, error) {
	var room model.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return model.Room{}, err
	}
	room.Code = code
	return room, nil
}

func roomKey(code model.RoomCode) string {
	return "rooms/" + code
}

func (u *Usecase) buildRoomCode() model.RoomCode {
	var builder strings.Builder
	builder.Grow(codeLen)

	for i := 0; i < codeLen; i++ {
		builder.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}

	return builder.String()
}

func (u *Usecase) buildPlayerID() string {
	return "player_" + uuid.NewString()
}
