package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"watchparty/internal/protocol"
	"watchparty/internal/rooms"
	"watchparty/internal/ws"
)

// Server is the relay's REST and websocket surface on echo.
type Server struct {
	rooms  *rooms.Manager
	ws     *ws.Handler
	router *echo.Echo
}

type createRoomRequest struct {
	DisplayName string `json:"displayName"`
	VideoID     string `json:"videoId"`
}

type joinRoomRequest struct {
	DisplayName string `json:"displayName"`
}

// apiError carries the wire error code next to the HTTP status.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string {
	return e.code + ": " + e.message
}

func badRequest(message string) error {
	return &apiError{status: http.StatusBadRequest, code: "invalid_request", message: message}
}

// roomError maps manager errors onto responses; anything unknown is a 500
// under fallback.
func roomError(err error, fallback string) error {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		return &apiError{status: http.StatusNotFound, code: "room_not_found", message: err.Error()}
	case errors.Is(err, rooms.ErrRoomClosed):
		return &apiError{status: http.StatusGone, code: "room_closed", message: err.Error()}
	case errors.Is(err, rooms.ErrInvalidToken), errors.Is(err, rooms.ErrParticipantNotFound):
		return &apiError{status: http.StatusUnauthorized, code: "invalid_token", message: err.Error()}
	case errors.Is(err, rooms.ErrUnauthorizedControl):
		return &apiError{status: http.StatusForbidden, code: "not_host", message: err.Error()}
	default:
		return &apiError{status: http.StatusInternalServerError, code: fallback, message: err.Error()}
	}
}

func NewServer(manager *rooms.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handleError
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		rooms:  manager,
		ws:     ws.NewHandler(manager),
		router: e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	api := e.Group("/api/rooms")
	api.POST("", server.handleCreateRoom)
	api.POST("/:roomId/join", server.handleJoinRoom)
	api.POST("/:roomId/close", server.handleCloseRoom)
	api.GET("/:roomId", server.handleGetRoom)

	e.GET("/ws/rooms/:roomId", server.handleWebSocket)

	return server
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleCreateRoom(c echo.Context) error {
	var payload createRoomRequest
	if err := c.Bind(&payload); err != nil {
		return badRequest("invalid request body")
	}
	if payload.DisplayName == "" || payload.VideoID == "" {
		return badRequest("displayName and videoId are required")
	}
	session, err := s.rooms.CreateRoom(c.Request().Context(), payload.DisplayName, payload.VideoID)
	if err != nil {
		return roomError(err, "create_failed")
	}
	return c.JSON(http.StatusCreated, session)
}

func (s *Server) handleJoinRoom(c echo.Context) error {
	var payload joinRoomRequest
	if err := c.Bind(&payload); err != nil {
		return badRequest("invalid request body")
	}
	if payload.DisplayName == "" {
		return badRequest("displayName is required")
	}
	session, err := s.rooms.JoinRoom(c.Request().Context(), c.Param("roomId"), payload.DisplayName)
	if err != nil {
		return roomError(err, "join_failed")
	}
	return c.JSON(http.StatusOK, session)
}

// handleCloseRoom lets the host end the room over plain HTTP. The token comes
// from an Authorization bearer header or the token query parameter.
func (s *Server) handleCloseRoom(c echo.Context) error {
	token := bearerToken(c.Request())
	if token == "" {
		return &apiError{status: http.StatusUnauthorized, code: "invalid_token", message: "missing token"}
	}
	state, err := s.rooms.CloseRoom(c.Request().Context(), c.Param("roomId"), token)
	if err != nil {
		return roomError(err, "close_failed")
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleGetRoom(c echo.Context) error {
	state, err := s.rooms.GetState(c.Request().Context(), c.Param("roomId"))
	if err != nil {
		return roomError(err, "state_fetch_failed")
	}
	if state.Closed {
		// Still readable so late visitors can see where the party stopped.
		c.Response().Header().Set("X-Room-Closed", "true")
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	// The websocket handler owns the connection from here on.
	c.Request().URL.Path = "/ws/rooms/" + c.Param("roomId")
	s.ws.ServeHTTP(c.Response(), c.Request())
	return nil
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// handleError renders every failure as an ERROR envelope.
func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, code, message := http.StatusInternalServerError, "internal_error", err.Error()
	var ae *apiError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &ae):
		status, code, message = ae.status, ae.code, ae.message
	case errors.As(err, &he):
		status, code = he.Code, "http_error"
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
	}
	if err := c.JSON(status, protocol.Envelope{
		Kind: protocol.KindError,
		Data: protocol.ErrorPayload{Code: code, Message: message},
	}); err != nil {
		c.Logger().Error(err)
	}
}
