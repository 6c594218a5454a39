package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Xminent/shiki-server/internal/auth"
	"github.com/Xminent/shiki-server/internal/model"
	"github.com/Xminent/shiki-server/internal/store"
	"github.com/Xminent/shiki-server/internal/zlog"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required,min=3,max=20"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// userResponse is the public account shape; token and hash stay private.
type userResponse struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// register creates an account with a hashed password and a fresh token.
func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		zlog.Error("failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
		return
	}

	user := model.User{
		ID:        s.gen.Next(),
		Email:     req.Email,
		Username:  req.Username,
		Password:  hash,
		Token:     auth.NewToken(),
		CreatedAt: time.Now().Unix(),
	}

	if err := s.store.InsertUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrExists) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user already exists"})
			return
		}
		zlog.Error("failed to insert user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
		return
	}

	c.JSON(http.StatusOK, userResponse{Email: user.Email, Username: user.Username})
}

// login verifies credentials and returns the account, token included, so
// the client can Identify on the gateway.
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.store.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials"})
			return
		}
		zlog.Error("failed to fetch user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
		return
	}

	if err := auth.VerifyPassword(user.Password, req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}

	c.JSON(http.StatusOK, user)
}

type updateUserRequest struct {
	Username *string `json:"username" binding:"omitempty,min=3,max=20"`
	Avatar   *string `json:"avatar" binding:"omitempty,url"`
}

// updateMe applies profile changes for the authenticated account and
// drops its cache entries so the next gateway Identify sees them.
func (s *Server) updateMe(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := currentUser(c)
	if err := s.store.UpdateUser(c.Request.Context(), user.ID, req.Username, req.Avatar); err != nil {
		zlog.Error("failed to update user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
		return
	}
	s.fetcher.InvalidateUser(c.Request.Context(), user)

	updated, err := s.store.UserByID(c.Request.Context(), user.ID)
	if err != nil {
		zlog.Error("failed to fetch user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
		return
	}

	c.JSON(http.StatusOK, updated)
}
