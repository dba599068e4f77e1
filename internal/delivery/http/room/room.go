package http_room

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	ws_room "github.com/rankparty/core/internal/delivery/ws/room"
	"github.com/rankparty/core/internal/model"
	"github.com/rankparty/core/internal/ranking"
	usecase_room "github.com/rankparty/core/internal/usecase/room"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ItemGenerator is the text-generation collaborator. Its failures are
// opaque to clients; the UI just offers a retry.
type ItemGenerator interface {
	GenerateItems(ctx context.Context, prompt string, count int) ([]model.Item, error)
}

type Controller struct {
	uc  *usecase_room.Usecase
	gen ItemGenerator
	hub *ws_room.Hub

	logger *slog.Logger
}

type ControllerOption func(*Controller)

func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

func New(uc *usecase_room.Usecase,
	gen ItemGenerator,
	hub *ws_room.Hub,
	opts ...ControllerOption) *Controller {
	c := &Controller{
		uc:     uc,
		gen:    gen,
		hub:    hub,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) RegisterRoutes(router *gin.RouterGroup) {
	rooms := router.Group("/rooms")
	rooms.POST("", c.createRoom)

	room := router.Group("rooms/:room_code")
	room.GET("", c.room)
	room.GET("/ws", c.roomWS)
	room.POST("/join", c.join)
	room.POST("/ranking", c.submitRanking)
	room.POST("/restart", c.restart)
	room.PUT("/status", c.setStatus)
	room.GET("/players/:player_id/results", c.results)
}

type CreateRoomRequest struct {
	Prompt     string `json:"prompt" binding:"required"`
	ItemCount  int    `json:"item_count"`
	PlayerName string `json:"player_name"`
}

type CreateRoomResponse struct {
	RoomCode string     `json:"room_code"`
	PlayerID string     `json:"player_id"`
	Room     model.Room `json:"room"`
}

func (c *Controller) createRoom(ctx *gin.Context) {
	var req CreateRoomRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "incorrect request"})
		return
	}

	count := model.ClampItemCount(req.ItemCount)
	items, err := c.gen.GenerateItems(ctx.Request.Context(), req.Prompt, count)
	if err != nil {
		c.logger.Error("failed to generate items",
			slog.String("error", err.Error()),
		)
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "failed to generate game", "retryable": true})
		return
	}

	code, playerID, err := c.uc.CreateRoom(ctx.Request.Context(), req.Prompt, count, items, req.PlayerName)
	if err != nil {
		c.logger.Error("failed to create room",
			slog.String("error", err.Error()),
		)
		if errors.Is(err, usecase_room.ErrCapacityExhausted) {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "no free room code"})
			return
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	room, err := c.uc.Room(ctx.Request.Context(), code)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ctx.JSON(http.StatusCreated, CreateRoomResponse{
		RoomCode: code,
		PlayerID: playerID,
		Room:     room,
	})
}

type JoinRequest struct {
	Name string `json:"name"`
}

type JoinResponse struct {
	PlayerID string     `json:"player_id"`
	Room     model.Room `json:"room"`
}

func (c *Controller) join(ctx *gin.Context) {
	code := ctx.Param("room_code")

	var req JoinRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "incorrect request"})
		return
	}

	playerID, room, err := c.uc.JoinRoom(ctx.Request.Context(), code, req.Name)
	if err != nil {
		c.respondRoomError(ctx, err, "failed to join room")
		return
	}

	ctx.JSON(http.StatusOK, JoinResponse{
		PlayerID: playerID,
		Room:     room,
	})
}

type SubmitRankingRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	ItemIDs  []int  `json:"item_ids" binding:"required"`
}

func (c *Controller) submitRanking(ctx *gin.Context) {
	code := ctx.Param("room_code")

	var req SubmitRankingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "incorrect request"})
		return
	}

	if err := c.uc.SubmitRanking(ctx.Request.Context(), code, req.PlayerID, req.ItemIDs); err != nil {
		c.respondRoomError(ctx, err, "failed to submit ranking")
		return
	}

	ctx.Status(http.StatusNoContent)
}

type RestartRequest struct {
	Prompt    string `json:"prompt" binding:"required"`
	ItemCount int    `json:"item_count"`
}

func (c *Controller) restart(ctx *gin.Context) {
	code := ctx.Param("room_code")

	var req RestartRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "incorrect request"})
		return
	}

	count := model.ClampItemCount(req.ItemCount)
	items, err := c.gen.GenerateItems(ctx.Request.Context(), req.Prompt, count)
	if err != nil {
		c.logger.Error("failed to generate items",
			slog.String("error", err.Error()),
		)
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "failed to generate game", "retryable": true})
		return
	}

	if err := c.uc.RestartRoom(ctx.Request.Context(), code, req.Prompt, count, items); err != nil {
		c.respondRoomError(ctx, err, "failed to restart room")
		return
	}

	room, err := c.uc.Room(ctx.Request.Context(), code)
	if err != nil {
		c.respondRoomError(ctx, err, "failed to read restarted room")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"room": room})
}

func (c *Controller) room(ctx *gin.Context) {
	code := ctx.Param("room_code")

	room, err := c.uc.Room(ctx.Request.Context(), code)
	if err != nil {
		c.respondRoomError(ctx, err, "failed to read room")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"room": room})
}

type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (c *Controller) setStatus(ctx *gin.Context) {
	code := ctx.Param("room_code")

	var req SetStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "incorrect request"})
		return
	}

	switch req.Status {
	case model.StatusWaiting, model.StatusLobby, model.StatusRanking, model.StatusCompleted:
	default:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	if err := c.uc.SetStatus(ctx.Request.Context(), code, req.Status); err != nil {
		c.respondRoomError(ctx, err, "failed to set status")
		return
	}

	ctx.Status(http.StatusNoContent)
}

type ResultsResponse struct {
	Rows           []ranking.Row                `json:"rows"`
	MatchCount     int                          `json:"match_count"`
	PerfectMatch   bool                         `json:"perfect_match"`
	ReferenceOrder []model.Item                 `json:"reference_order"`
	Insights       []ranking.Row                `json:"insights"`
	Consensus      ranking.Table                `json:"consensus"`
	Players        map[string]model.Participant `json:"players"`
}

func (c *Controller) results(ctx *gin.Context) {
	code := ctx.Param("room_code")
	playerID := ctx.Param("player_id")

	room, err := c.uc.Room(ctx.Request.Context(), code)
	if err != nil {
		c.respondRoomError(ctx, err, "failed to read room")
		return
	}

	player, ok := room.Players[playerID]
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}
	if !player.Submitted {
		ctx.JSON(http.StatusConflict, gin.H{"error": "ranking not submitted yet"})
		return
	}

	byID := make(map[int]model.Item, len(room.Items))
	for _, item := range room.Items {
		byID[item.ID] = item
	}
	userOrder := make([]model.Item, 0, len(player.Ranking))
	for _, id := range player.Ranking {
		if item, ok := byID[id]; ok {
			userOrder = append(userOrder, item)
		}
	}

	rows := ranking.Compare(userOrder)
	ctx.JSON(http.StatusOK, ResultsResponse{
		Rows:           rows,
		MatchCount:     ranking.MatchCount(rows),
		PerfectMatch:   ranking.PerfectMatch(rows),
		ReferenceOrder: ranking.ReferenceOrder(room.Items),
		Insights:       ranking.NotableDivergences(rows, 0, 0),
		Consensus:      ranking.ConsensusTable(room.Items, room.Players),
		Players:        room.Players,
	})
}

func (c *Controller) roomWS(ctx *gin.Context) {
	code := usecase_room.NormalizeCode(ctx.Param("room_code"))

	if _, err := c.uc.Room(ctx.Request.Context(), code); err != nil {
		c.respondRoomError(ctx, err, "failed to open room stream")
		return
	}

	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.logger.Error("failed to upgrade to websocket",
			slog.String("error", err.Error()),
		)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	client := &ws_room.Client{
		Hub:      c.hub,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		RoomCode: code,
	}

	if err := c.hub.RegisterClient(client); err != nil {
		c.logger.Error("failed to register client",
			slog.String("error", err.Error()),
		)
		conn.Close()
		return
	}

	go c.hub.StartClientReading(client)
	go c.hub.StartClientWriting(client)
}

// respondRoomError maps the repository error taxonomy onto statuses the
// client can distinguish: a missing room and an ended room call for
// different recovery actions.
func (c *Controller) respondRoomError(ctx *gin.Context, err error, msg string) {
	c.logger.Error(msg, slog.String("error", err.Error()))

	switch {
	case errors.Is(err, usecase_room.ErrRoomNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, usecase_room.ErrRoomEnded):
		ctx.JSON(http.StatusGone, gin.H{"error": "this game has already ended"})
	case errors.Is(err, usecase_room.ErrStoreUnavailable):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable", "retryable": true})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
