package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mahilo/internal/models"
	"mahilo/internal/repository"
)

const recentInteractionLimit = 5

// PolicySummary is the preview form of a policy: enough for an agent to
// shape a compliant message, without the raw content of llm prompts.
type PolicySummary struct {
	ID       string             `json:"id"`
	Scope    models.PolicyScope `json:"scope"`
	Type     models.PolicyType  `json:"type"`
	Priority int                `json:"priority"`
	Summary  string             `json:"summary"`
}

// ContextRecipient describes the relationship side of a send-context
// snapshot.
type ContextRecipient struct {
	Username         string    `json:"username"`
	DisplayName      string    `json:"displayName,omitempty"`
	Relationship     string    `json:"relationship"`
	FriendshipID     string    `json:"friendshipId"`
	Roles            []string  `json:"roles"`
	ConnectedSince   time.Time `json:"connectedSince"`
	InteractionCount int64     `json:"interactionCount"`
}

// SendContext is the snapshot an agent fetches before composing a message to
// a user: who the recipient is, what will be checked, and the recent thread
// between the two.
type SendContext struct {
	Recipient ContextRecipient `json:"recipient"`
	// ApplicablePolicies is the funnel for a send from the caller to the
	// recipient, highest priority first; the first failing policy would
	// reject the send.
	ApplicablePolicies []PolicySummary  `json:"applicablePolicies"`
	Summary            string           `json:"summary"`
	RecentInteractions []models.Message `json:"recentInteractions"`
	GeneratedAt        time.Time        `json:"generatedAt"`
	EvaluationsSkipped bool             `json:"evaluationsSkipped,omitempty"`
}

// ReplyPolicies previews the constraints a reply to a received message would
// face, attached to received rows in message history.
type ReplyPolicies struct {
	SenderRoles []string        `json:"senderRoles"`
	Policies    []PolicySummary `json:"policies"`
	Summary     string          `json:"summary"`
}

// HistoryEntry is one message-history row, with reply context on received
// messages.
type HistoryEntry struct {
	models.Message
	ReplyPolicies *ReplyPolicies `json:"replyPolicies,omitempty"`
}

// ContextService assembles policy-context previews.
type ContextService struct {
	users   repository.UserRepository
	friends repository.FriendRepository
	msgs    repository.MessageRepository
	engine  *PolicyEngine
}

// NewContextService creates a new context service
func NewContextService(users repository.UserRepository, friends repository.FriendRepository, msgs repository.MessageRepository, engine *PolicyEngine) *ContextService {
	return &ContextService{users: users, friends: friends, msgs: msgs, engine: engine}
}

// ForRecipient builds the preview for a send from the caller to username.
// Non-friends read as not found so the endpoint never confirms that an
// account exists.
func (s *ContextService) ForRecipient(ctx context.Context, sender *models.User, username string) (*SendContext, error) {
	recipient, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	edge, err := s.friends.GetFriendshipBetweenUsers(ctx, sender.ID, recipient.ID)
	if err != nil {
		return nil, err
	}
	if edge == nil || edge.Status != models.FriendshipStatusAccepted {
		return nil, models.NewNotFoundError("User")
	}

	roles, err := s.friends.ListRolesForPair(ctx, sender.ID, recipient.ID)
	if err != nil {
		return nil, err
	}

	policies, err := s.engine.Applicable(ctx, sender.ID, recipient.ID, roles)
	if err != nil {
		return nil, err
	}

	recent, err := s.msgs.RecentBetween(ctx, sender.ID, recipient.ID, recentInteractionLimit)
	if err != nil {
		return nil, err
	}
	total, err := s.msgs.CountBetween(ctx, sender.ID, recipient.ID)
	if err != nil {
		return nil, err
	}

	summaries := summarize(policies)
	out := &SendContext{
		Recipient: ContextRecipient{
			Username:         recipient.Username,
			DisplayName:      recipient.DisplayName,
			Relationship:     "friend",
			FriendshipID:     edge.ID,
			Roles:            roles,
			ConnectedSince:   edge.UpdatedAt,
			InteractionCount: total,
		},
		ApplicablePolicies: summaries,
		Summary:            funnelSummary(recipient.Username, summaries),
		RecentInteractions: redactPayloads(recent),
		GeneratedAt:        time.Now().UTC(),
		EvaluationsSkipped: s.engine.skip(models.PayloadTypeDefault),
	}
	return out, nil
}

// EnrichHistory attaches reply-policy previews to the received rows of a
// history page. Sent rows pass through untouched.
func (s *ContextService) EnrichHistory(ctx context.Context, viewer *models.User, msgs []models.Message) ([]HistoryEntry, error) {
	entries := make([]HistoryEntry, 0, len(msgs))
	cache := map[string]*ReplyPolicies{}

	for i := range msgs {
		entry := HistoryEntry{Message: msgs[i]}
		received := msgs[i].RecipientType == models.RecipientTypeUser &&
			msgs[i].RecipientID == viewer.ID &&
			msgs[i].SenderUserID != viewer.ID
		if received {
			rp, ok := cache[msgs[i].SenderUserID]
			if !ok {
				var err error
				rp, err = s.replyPolicies(ctx, viewer, msgs[i].SenderUserID)
				if err != nil {
					return nil, err
				}
				cache[msgs[i].SenderUserID] = rp
			}
			entry.ReplyPolicies = rp
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *ContextService) replyPolicies(ctx context.Context, viewer *models.User, senderID string) (*ReplyPolicies, error) {
	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	roles, err := s.friends.ListRolesForPair(ctx, viewer.ID, senderID)
	if err != nil {
		return nil, err
	}
	policies, err := s.engine.Applicable(ctx, viewer.ID, senderID, roles)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []string{}
	}
	summaries := summarize(policies)
	return &ReplyPolicies{
		SenderRoles: roles,
		Policies:    summaries,
		Summary:     funnelSummary(sender.Username, summaries),
	}, nil
}

func summarize(policies []models.Policy) []PolicySummary {
	out := make([]PolicySummary, 0, len(policies))
	for i := range policies {
		p := &policies[i]
		out = append(out, PolicySummary{
			ID:       p.ID,
			Scope:    p.Scope,
			Type:     p.PolicyType,
			Priority: p.Priority,
			Summary:  Summarize(p),
		})
	}
	return out
}

// funnelSummary renders the funnel as one sentence for agents that consume
// prose rather than the structured list.
func funnelSummary(username string, policies []PolicySummary) string {
	if len(policies) == 0 {
		return fmt.Sprintf("No policies apply to messages to %s.", username)
	}
	parts := make([]string, 0, len(policies))
	for _, p := range policies {
		parts = append(parts, p.Summary)
	}
	noun := "policies apply"
	if len(policies) == 1 {
		noun = "policy applies"
	}
	return fmt.Sprintf("%d %s to messages to %s: %s.",
		len(policies), noun, username, strings.Join(parts, "; "))
}

// redactPayloads strips ciphertext payload bodies from the history preview;
// the metadata alone is enough to ground a conversation.
func redactPayloads(msgs []models.Message) []models.Message {
	for i := range msgs {
		if msgs[i].PayloadType == models.PayloadTypeCiphertext {
			msgs[i].Payload = ""
		}
	}
	return msgs
}
