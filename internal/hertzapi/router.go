package hertzapi

import (
	"context"
	"errors"
	"strings"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"watchparty/internal/hertzws"
	"watchparty/internal/protocol"
	"watchparty/internal/rooms"
)

// NewRouter 初始化Hertz路由
func NewRouter(h *server.Hertz, roomManager *rooms.Manager) *server.Hertz {
	wsHandler := hertzws.NewHandler(roomManager)

	h.Use(recoveryMiddleware())
	h.Use(loggerMiddleware())

	// 健康检查接口
	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	api := h.Group("/api")
	{
		roomsGroup := api.Group("/rooms")
		{
			roomsGroup.POST("", handleCreateRoom(roomManager))
			roomsGroup.POST("/:roomId/join", handleJoinRoom(roomManager))
			roomsGroup.POST("/:roomId/close", handleCloseRoom(roomManager))
			roomsGroup.GET("/:roomId", handleGetRoom(roomManager))
		}
	}

	// WebSocket路由
	h.GET("/ws/rooms/:roomId", wsHandler.HandleWebSocket)

	return h
}

// recoveryMiddleware 恢复中间件
func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				ilog.EventInfo(c, "panic_recovered", "path", string(ctx.Path()), "error", err)
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}

// loggerMiddleware 日志中间件
func loggerMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.Next(c)
		ilog.EventInfo(c, "http_request",
			"method", string(ctx.Method()),
			"path", string(ctx.Path()),
			"status", ctx.Response.StatusCode())
	}
}

// handleCreateRoom 创建房间处理函数
func handleCreateRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var payload createRoomRequest
		if err := ctx.Bind(&payload); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}

		if payload.DisplayName == "" || payload.VideoID == "" {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "displayName and videoId are required")
			return
		}

		session, err := roomManager.CreateRoom(c, payload.DisplayName, payload.VideoID)
		if err != nil {
			respondError(ctx, consts.StatusInternalServerError, "create_failed", err.Error())
			return
		}

		ctx.JSON(consts.StatusCreated, session)
	}
}

// handleJoinRoom 加入房间处理函数
func handleJoinRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		var payload joinRoomRequest
		if err := ctx.Bind(&payload); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}

		if payload.DisplayName == "" {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "displayName is required")
			return
		}

		session, err := roomManager.JoinRoom(c, roomID, payload.DisplayName)
		switch {
		case errors.Is(err, rooms.ErrRoomNotFound):
			respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
			return
		case errors.Is(err, rooms.ErrRoomClosed):
			respondError(ctx, consts.StatusGone, "room_closed", err.Error())
			return
		case err != nil:
			respondError(ctx, consts.StatusInternalServerError, "join_failed", err.Error())
			return
		}

		ctx.JSON(consts.StatusOK, session)
	}
}

// handleCloseRoom 房主关闭房间，token取自Authorization或query
func handleCloseRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		token := ctx.Query("token")
		if auth := string(ctx.GetHeader("Authorization")); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			respondError(ctx, consts.StatusUnauthorized, "invalid_token", "missing token")
			return
		}

		state, err := roomManager.CloseRoom(c, ctx.Param("roomId"), token)
		switch {
		case errors.Is(err, rooms.ErrRoomNotFound):
			respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
			return
		case errors.Is(err, rooms.ErrInvalidToken), errors.Is(err, rooms.ErrParticipantNotFound):
			respondError(ctx, consts.StatusUnauthorized, "invalid_token", err.Error())
			return
		case errors.Is(err, rooms.ErrUnauthorizedControl):
			respondError(ctx, consts.StatusForbidden, "not_host", err.Error())
			return
		case err != nil:
			respondError(ctx, consts.StatusInternalServerError, "close_failed", err.Error())
			return
		}

		ctx.JSON(consts.StatusOK, state)
	}
}

// handleGetRoom 获取房间状态处理函数
func handleGetRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		state, err := roomManager.GetState(c, roomID)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "state_fetch_failed", err.Error())
			return
		}

		ctx.JSON(consts.StatusOK, state)
	}
}

type createRoomRequest struct {
	DisplayName string `json:"displayName"`
	VideoID     string `json:"videoId"`
}

type joinRoomRequest struct {
	DisplayName string `json:"displayName"`
}

// respondError 返回错误响应
func respondError(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, protocol.Envelope{
		Kind: protocol.KindError,
		Data: protocol.ErrorPayload{Code: code, Message: message},
	})
}
