package server

import (
	"mahilo/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetPreferences returns the caller's notification and default-model
// settings, creating defaults on first access.
func (s *Server) GetPreferences(c *fiber.Ctx) error {
	user := currentUser(c)
	prefs, err := s.userRepo.GetPreferences(c.UserContext(), user.ID)
	if err != nil {
		if appErr, ok := err.(*models.AppError); ok && appErr.Code == models.CodeNotFound {
			prefs = defaultPreferences(user.ID)
			if saveErr := s.userRepo.SavePreferences(c.UserContext(), prefs); saveErr != nil {
				return models.RespondWithAppError(c, saveErr)
			}
			return c.JSON(prefs)
		}
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(prefs)
}

type updatePreferencesRequest struct {
	NotifyMessageReceived *bool   `json:"notifyMessageReceived,omitempty"`
	NotifyDeliveryStatus  *bool   `json:"notifyDeliveryStatus,omitempty"`
	NotifyFriendRequest   *bool   `json:"notifyFriendRequest,omitempty"`
	NotifyGroupInvite     *bool   `json:"notifyGroupInvite,omitempty"`
	DefaultLLMModel       *string `json:"defaultLlmModel,omitempty"`
}

// UpdatePreferences patches the caller's settings; omitted fields keep their
// current value.
func (s *Server) UpdatePreferences(c *fiber.Ctx) error {
	user := currentUser(c)
	var req updatePreferencesRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}

	prefs, err := s.userRepo.GetPreferences(c.UserContext(), user.ID)
	if err != nil {
		if appErr, ok := err.(*models.AppError); ok && appErr.Code == models.CodeNotFound {
			prefs = defaultPreferences(user.ID)
		} else {
			return models.RespondWithAppError(c, err)
		}
	}

	if req.NotifyMessageReceived != nil {
		prefs.NotifyMessageReceived = *req.NotifyMessageReceived
	}
	if req.NotifyDeliveryStatus != nil {
		prefs.NotifyDeliveryStatus = *req.NotifyDeliveryStatus
	}
	if req.NotifyFriendRequest != nil {
		prefs.NotifyFriendRequest = *req.NotifyFriendRequest
	}
	if req.NotifyGroupInvite != nil {
		prefs.NotifyGroupInvite = *req.NotifyGroupInvite
	}
	if req.DefaultLLMModel != nil {
		prefs.DefaultLLMModel = *req.DefaultLLMModel
	}

	if err := s.userRepo.SavePreferences(c.UserContext(), prefs); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(prefs)
}

func defaultPreferences(userID string) *models.UserPreferences {
	return &models.UserPreferences{
		UserID:                userID,
		NotifyMessageReceived: true,
		NotifyDeliveryStatus:  true,
		NotifyFriendRequest:   true,
		NotifyGroupInvite:     true,
	}
}
