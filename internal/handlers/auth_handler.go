package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/vmelnikau/echolink/internal/httpx"
	"github.com/vmelnikau/echolink/internal/service"
	"github.com/vmelnikau/echolink/internal/wire"
)

// AuthHandler exposes signup/login over HTTP, mirroring the in-band WS
// auth path. Clients typically fetch a token here first and present it in
// an authenticate frame after dialing.
type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req wire.SignUpRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.BadRequest(c, "Invalid request body")
	}

	result, err := h.authService.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			return httpx.Conflict(c, err.Error())
		}
		return httpx.BadRequest(c, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(wire.AuthResponse{
		UserID:   result.User.ID,
		Username: result.User.Username,
		Token:    result.Token,
	})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req wire.LogInRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.BadRequest(c, "Invalid request body")
	}

	result, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		return httpx.Unauthorized(c, err.Error())
	}

	return c.JSON(wire.AuthResponse{
		UserID:   result.User.ID,
		Username: result.User.Username,
		Token:    result.Token,
	})
}
