package handler

import (
	"github.com/labstack/echo/v4"

	"sharebox/internal/adapter/api/middleware"
	"sharebox/internal/domain/entity"
	"sharebox/internal/usecase"
	"sharebox/pkg/response"
)

type RequestHandler struct {
	requestUseCase *usecase.RequestUseCase
}

func NewRequestHandler(requestUseCase *usecase.RequestUseCase) *RequestHandler {
	return &RequestHandler{
		requestUseCase: requestUseCase,
	}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,request_status"`
}

func (h *RequestHandler) UpdateStatus(c echo.Context) error {
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	request, err := h.requestUseCase.UpdateStatus(
		c.Request().Context(),
		middleware.UserID(c),
		c.Param("id"),
		entity.RequestStatus(req.Status),
	)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, request)
}
