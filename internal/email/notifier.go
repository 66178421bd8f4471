package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

// ReferralNotifier e-mails the requesting employee about regulation
// decisions on their referrals.
type ReferralNotifier struct {
	users repository.UserRepository
	mail  Service
}

func NewReferralNotifier(users repository.UserRepository, mail Service) *ReferralNotifier {
	return &ReferralNotifier{users: users, mail: mail}
}

// Notify sends the message for eventType. Event types without a
// notification are ignored and reported as not sent.
func (n *ReferralNotifier) Notify(ctx context.Context, eventType string, payload []byte) (bool, error) {
	var send func(context.Context, string, *model.ReferralEvent) error
	switch eventType {
	case model.EventReferralAuthorized, model.EventReferralRescheduled:
		send = n.mail.SendReferralScheduled
	case model.EventReferralDenied:
		send = n.mail.SendReferralDenied
	case model.EventReferralRevisionRequested:
		send = n.mail.SendRevisionRequested
	default:
		return false, nil
	}

	var ev model.ReferralEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return false, fmt.Errorf("decode %s payload: %w", eventType, err)
	}

	requester, err := n.users.Get(ctx, ev.RequesterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().Str("referral_id", ev.ReferralID.String()).Msg("requester no longer exists, skipping notification")
			return false, nil
		}
		return false, fmt.Errorf("load requester: %w", err)
	}
	if !requester.IsActive || !strings.Contains(requester.Email, "@") {
		return false, nil
	}

	if err := send(ctx, requester.Email, &ev); err != nil {
		return false, err
	}
	return true, nil
}
