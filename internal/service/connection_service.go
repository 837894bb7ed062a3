package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"mahilo/internal/config"
	"mahilo/internal/delivery"
	"mahilo/internal/models"
	"mahilo/internal/repository"
	"mahilo/internal/validation"
)

// ConnectionService manages agent connection registration and liveness.
type ConnectionService struct {
	cfg     *config.Config
	conns   repository.ConnectionRepository
	friends repository.FriendRepository
	sender  *delivery.Sender
}

// NewConnectionService creates a new connection service
func NewConnectionService(cfg *config.Config, conns repository.ConnectionRepository, friends repository.FriendRepository, sender *delivery.Sender) *ConnectionService {
	return &ConnectionService{cfg: cfg, conns: conns, friends: friends, sender: sender}
}

// RegisterConnectionInput describes an agent endpoint registration.
type RegisterConnectionInput struct {
	Framework       string   `json:"framework"`
	Label           string   `json:"label"`
	Description     string   `json:"description,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	PublicKey       string   `json:"publicKey"`
	PublicKeyAlg    string   `json:"publicKeyAlg"`
	RoutingPriority int      `json:"routingPriority"`
	CallbackURL     string   `json:"callbackUrl"`
	// CallbackSecret lets the agent supply its own HMAC secret; empty means
	// the registry mints one.
	CallbackSecret string `json:"callbackSecret,omitempty"`
	// RotateSecret forces a fresh callback secret on re-registration.
	RotateSecret bool `json:"rotateSecret,omitempty"`
}

// RegisterConnectionResult carries the connection plus the plaintext callback
// secret, which is only returned when newly minted.
type RegisterConnectionResult struct {
	Connection     *models.AgentConnection `json:"connection"`
	CallbackSecret string                  `json:"callbackSecret,omitempty"`
}

func mintCallbackSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Register creates or updates the connection identified by
// (owner, framework, label). Re-registering refreshes metadata in place and
// keeps the existing callback secret unless rotation is requested.
func (s *ConnectionService) Register(ctx context.Context, userID string, in RegisterConnectionInput) (*RegisterConnectionResult, error) {
	in.Framework = strings.TrimSpace(in.Framework)
	in.Label = strings.TrimSpace(in.Label)
	if in.Framework == "" || in.Label == "" {
		return nil, models.NewValidationError("framework and label are required")
	}
	if in.PublicKey == "" {
		return nil, models.NewValidationError("publicKey is required")
	}
	if in.PublicKeyAlg != models.PublicKeyAlgEd25519 && in.PublicKeyAlg != models.PublicKeyAlgX25519 {
		return nil, models.NewValidationError("publicKeyAlg must be ed25519 or x25519")
	}
	if err := validation.ValidateCallbackURL(in.CallbackURL, s.cfg.SelfHosted); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	existing, err := s.conns.GetByOwnerFrameworkLabel(ctx, userID, in.Framework, in.Label)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		existing.Description = in.Description
		existing.Capabilities = in.Capabilities
		existing.PublicKey = in.PublicKey
		existing.PublicKeyAlg = in.PublicKeyAlg
		existing.RoutingPriority = in.RoutingPriority
		existing.CallbackURL = in.CallbackURL
		existing.Status = models.ConnectionStatusActive

		result := &RegisterConnectionResult{Connection: existing}
		switch {
		case in.CallbackSecret != "":
			existing.CallbackSecret = in.CallbackSecret
		case in.RotateSecret:
			secret, err := mintCallbackSecret()
			if err != nil {
				return nil, models.NewInternalError(err)
			}
			existing.CallbackSecret = secret
			result.CallbackSecret = secret
		}
		if err := s.conns.Update(ctx, existing); err != nil {
			return nil, err
		}
		return result, nil
	}

	secret := in.CallbackSecret
	minted := secret == ""
	if minted {
		var err error
		secret, err = mintCallbackSecret()
		if err != nil {
			return nil, models.NewInternalError(err)
		}
	}
	conn := &models.AgentConnection{
		UserID:          userID,
		Framework:       in.Framework,
		Label:           in.Label,
		Description:     in.Description,
		Capabilities:    in.Capabilities,
		PublicKey:       in.PublicKey,
		PublicKeyAlg:    in.PublicKeyAlg,
		RoutingPriority: in.RoutingPriority,
		CallbackURL:     in.CallbackURL,
		CallbackSecret:  secret,
		Status:          models.ConnectionStatusActive,
	}
	if err := s.conns.Create(ctx, conn); err != nil {
		return nil, err
	}
	result := &RegisterConnectionResult{Connection: conn}
	if minted {
		result.CallbackSecret = secret
	}
	return result, nil
}

// List returns the caller's connections in routing order.
func (s *ConnectionService) List(ctx context.Context, userID string) ([]models.AgentConnection, error) {
	return s.conns.ListByUser(ctx, userID)
}

// SetStatus flips a connection between active and inactive.
func (s *ConnectionService) SetStatus(ctx context.Context, userID, connID string, status models.ConnectionStatus) (*models.AgentConnection, error) {
	conn, err := s.owned(ctx, userID, connID)
	if err != nil {
		return nil, err
	}
	if status != models.ConnectionStatusActive && status != models.ConnectionStatusInactive {
		return nil, models.NewValidationError("status must be active or inactive")
	}
	conn.Status = status
	if err := s.conns.Update(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Delete removes a connection the caller owns.
func (s *ConnectionService) Delete(ctx context.Context, userID, connID string) error {
	if _, err := s.owned(ctx, userID, connID); err != nil {
		return err
	}
	return s.conns.Delete(ctx, connID)
}

// Ping issues a signed probe to the connection's callback endpoint and
// refreshes last_seen on success.
func (s *ConnectionService) Ping(ctx context.Context, userID, connID string) (*models.AgentConnection, error) {
	conn, err := s.owned(ctx, userID, connID)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout())
	defer cancel()
	if err := s.sender.Ping(pingCtx, conn); err != nil {
		return nil, models.NewConflictError("Callback endpoint did not acknowledge the ping")
	}
	now := time.Now().UTC()
	if err := s.conns.TouchLastSeen(ctx, conn.ID, now); err != nil {
		return nil, err
	}
	conn.LastSeen = &now
	return conn, nil
}

// ContactConnections exposes a friend's registered agents and their public
// keys so a sender can encrypt payloads and target routing hints. Requires
// an accepted friendship; callback URLs are never included.
func (s *ConnectionService) ContactConnections(ctx context.Context, userID, contactUserID string) ([]models.AgentConnection, error) {
	ok, err := s.friends.AreFriends(ctx, userID, contactUserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewForbiddenError("Not friends with this user")
	}
	conns, err := s.conns.ListActiveByUser(ctx, contactUserID)
	if err != nil {
		return nil, err
	}
	for i := range conns {
		conns[i].CallbackURL = ""
	}
	return conns, nil
}

func (s *ConnectionService) owned(ctx context.Context, userID, connID string) (*models.AgentConnection, error) {
	conn, err := s.conns.GetByID(ctx, connID)
	if err != nil {
		return nil, err
	}
	if conn.UserID != userID {
		return nil, models.NewNotFoundError("Connection")
	}
	return conn, nil
}
