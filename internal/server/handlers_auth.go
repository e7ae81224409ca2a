package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vegaexchange/vegad/internal/core/ident"
	"github.com/vegaexchange/vegad/internal/core/ledger"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
}

type authResponse struct {
	User      *relationaldb.User `json:"user"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// handleRegister creates the user, seeds the simulated default balances in
// the same transaction, and issues a bearer token.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "username and a valid email are required")
		return
	}
	ctx := c.Request.Context()

	userID, err := ident.NewUserID(func(id string) (bool, error) {
		return s.store.Users().UserExists(ctx, id)
	})
	if err != nil {
		respondError(c, err)
		return
	}

	user := &relationaldb.User{
		ID:        userID,
		Username:  req.Username,
		Email:     req.Email,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	err = s.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			return err
		}
		return ledger.New(tx.Balances()).SeedDefaults(ctx, userID)
	})
	if err != nil {
		if relationaldb.IsConstraintError(err) {
			respondMessage(c, http.StatusBadRequest, "username or email already taken")
			return
		}
		respondError(c, err)
		return
	}

	token, expiresAt, err := s.auth.Issue(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, authResponse{User: user, Token: token, ExpiresAt: expiresAt})
}

// handleLogin issues a fresh token for an existing user. Balances are
// simulated, so possession of the username is the whole credential.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "username is required")
		return
	}
	ctx := c.Request.Context()

	user, err := s.store.Users().GetUserByUsername(ctx, req.Username)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			respondMessage(c, http.StatusNotFound, "unknown user")
			return
		}
		respondError(c, err)
		return
	}
	if !user.Active {
		respondMessage(c, http.StatusForbidden, "account deactivated")
		return
	}

	token, expiresAt, err := s.auth.Issue(ctx, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, authResponse{User: user, Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.auth.Revoke(c.Request.Context(), bearerToken(c)); err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"logged_out": true})
}
