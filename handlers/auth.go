package handlers

import (
	"errors"
	"net/http"

	"agri-price-api/apperr"
	"agri-price-api/middleware"
	"agri-price-api/models"
	"agri-price-api/services"
	"agri-price-api/sms"
	"agri-price-api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	store       *store.Store
	authService *services.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(st *store.Store, authService *services.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{store: st, authService: authService, logger: logger}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
	Phone    string `json:"phone"`
	RegionID *uint  `json:"region_id"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type AuthResponse struct {
	services.TokenPair
	User *models.User `json:"user"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()

	if req.RegionID != nil {
		if _, err := h.store.GetRegion(ctx, *req.RegionID); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	if req.Phone != "" {
		phone, err := sms.NormalizePhone(req.Phone)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		req.Phone = phone
	}

	hash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		respondError(c, h.logger, apperr.Internal("failed to hash password", err))
		return
	}

	user := models.User{
		Email:    req.Email,
		Password: hash,
		FullName: req.FullName,
		Phone:    req.Phone,
		RegionID: req.RegionID,
		Role:     models.RoleFarmer,
	}
	if err := h.store.CreateUser(ctx, &user); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.issue(c, http.StatusCreated, "registration successful", &user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.store.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			err = apperr.Unauthorized("invalid credentials")
		}
		respondError(c, h.logger, err)
		return
	}
	if !h.authService.CheckPassword(user.Password, req.Password) {
		respondError(c, h.logger, apperr.Unauthorized("invalid credentials"))
		return
	}
	h.issue(c, http.StatusOK, "login successful", user)
}

// Refresh exchanges a refresh token for a new pair. The user is reloaded so
// role changes take effect.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req) {
		return
	}
	claims, err := h.authService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		respondError(c, h.logger, apperr.Unauthorized("invalid or expired refresh token"))
		return
	}
	user, err := h.store.UserByID(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			err = apperr.Unauthorized("invalid or expired refresh token")
		}
		respondError(c, h.logger, err)
		return
	}
	h.issue(c, http.StatusOK, "token refreshed", user)
}

func (h *AuthHandler) Profile(c *gin.Context) {
	user, err := h.store.UserByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "", user)
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req store.ProfileInput
	if !bindJSON(c, &req) {
		return
	}
	if req.Phone != nil && *req.Phone != "" {
		phone, err := sms.NormalizePhone(*req.Phone)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		req.Phone = &phone
	}
	user, err := h.store.UpdateProfile(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "profile updated", user)
}

func (h *AuthHandler) issue(c *gin.Context, status int, msg string, user *models.User) {
	pair, err := h.authService.GenerateTokenPair(user.ID, user.Email, user.Role)
	if err != nil {
		respondError(c, h.logger, apperr.Internal("failed to generate token", err))
		return
	}
	respond(c, status, msg, AuthResponse{TokenPair: pair, User: user})
}
