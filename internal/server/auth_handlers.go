package server

import (
	"mahilo/internal/models"

	"github.com/gofiber/fiber/v2"
)

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

// Register creates an account and returns the one-time API key plus the
// verification code the owner should tweet.
func (s *Server) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	result, err := s.authService.Register(c.UserContext(), req.Username, req.DisplayName)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"userId":            result.User.ID,
		"username":          result.User.Username,
		"apiKey":            result.APIKey,
		"verificationCode":  result.VerificationCode,
		"verificationTweet": result.VerificationTweet,
		"verified":          false,
	})
}

type verifyRequest struct {
	TwitterHandle string `json:"twitterHandle"`
	TweetURL      string `json:"tweetUrl,omitempty"`
}

// VerifyTwitter records the social proof and marks the account verified.
// Unauthenticated: the verifier may not hold the API key.
func (s *Server) VerifyTwitter(c *fiber.Ctx) error {
	var req verifyRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	user, err := s.authService.VerifyTwitter(c.UserContext(), c.Params("userId"), req.TwitterHandle)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"userId":        user.ID,
		"username":      user.Username,
		"verified":      user.TwitterVerified,
		"twitterHandle": user.TwitterHandle,
	})
}

// VerificationStatus reports whether an account is verified and, until it
// is, the pending code and tweet text.
func (s *Server) VerificationStatus(c *fiber.Ctx) error {
	status, err := s.authService.GetVerificationStatus(c.UserContext(), c.Params("userId"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(status)
}

// RotateAPIKey replaces the caller's API key; the old key stops working
// immediately.
func (s *Server) RotateAPIKey(c *fiber.Ctx) error {
	user := currentUser(c)
	key, err := s.authService.RotateAPIKey(c.UserContext(), user.ID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"apiKey": key})
}

// GetMe returns the caller's account.
func (s *Server) GetMe(c *fiber.Ctx) error {
	return c.JSON(currentUser(c))
}

type updateMeRequest struct {
	DisplayName *string `json:"displayName,omitempty"`
}

// UpdateMe updates mutable account fields.
func (s *Server) UpdateMe(c *fiber.Ctx) error {
	user := currentUser(c)
	var req updateMeRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if err := s.userRepo.Update(c.UserContext(), user); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(user)
}
