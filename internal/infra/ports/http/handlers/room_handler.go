package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/meshroom/internal/application/constant"
	"github.com/qrave1/meshroom/internal/usecase"
)

type RoomHandler struct {
	roomUsecase usecase.RoomUsecase
}

func NewRoomHandler(roomUsecase usecase.RoomUsecase) *RoomHandler {
	return &RoomHandler{roomUsecase: roomUsecase}
}

func (h *RoomHandler) ListRooms(c echo.Context) error {
	return c.JSON(http.StatusOK, h.roomUsecase.ListRooms(c.Request().Context()))
}

func (h *RoomHandler) History(c echo.Context) error {
	roomID := c.Param("id")

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		var err error

		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
	}

	history, err := h.roomUsecase.History(c.Request().Context(), roomID, limit)
	if err != nil {
		slog.Error(
			"get call history",
			slog.Any(constant.Error, err),
			slog.String(constant.RoomID, roomID),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load call history")
	}

	return c.JSON(http.StatusOK, history)
}
