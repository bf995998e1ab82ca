// Package invitations implements the host-initiated membership workflow.
package invitations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/membership"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

// Decision is an invitee's answer.
type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

// Bags is the part of the bag manager the workflow needs.
type Bags interface {
	HostOf(ctx context.Context, bagID, actorUID string) (*bags.Bag, error)
	AddMember(ctx context.Context, bagID, key string) error
	RemoveMember(ctx context.Context, bagID, key string) error
}

type Service struct {
	repo  Repo
	bags  Bags
	users bags.UserLookup
	sink  notifications.Sink
	keyer membership.Keyer
	log   *slog.Logger
}

func NewService(repo Repo, b Bags, users bags.UserLookup, sink notifications.Sink, keyer membership.Keyer, log *slog.Logger) *Service {
	if keyer == nil {
		keyer = membership.Default
	}
	return &Service{
		repo:  repo,
		bags:  b,
		users: users,
		sink:  sink,
		keyer: keyer,
		log:   logutil.NoopIfNil(log),
	}
}

// Invite creates a pending invitation for email. An existing pending
// invitation for the same address is returned instead of a duplicate.
func (s *Service) Invite(ctx context.Context, bagID string, host identity.Principal, email string) (*Invitation, error) {
	key, err := s.keyer.Key(email)
	if err != nil {
		return nil, apperr.Invalid("Email required")
	}
	bag, err := s.bags.HostOf(ctx, bagID, host.UID)
	if err != nil {
		return nil, err
	}
	if bag.HasMember(key) {
		return nil, ErrAlreadyMember
	}

	if existing, ok, err := s.repo.FindPending(ctx, bagID, key); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	inv := &Invitation{
		BagID:   bag.ID,
		BagName: bag.Name,
		HostUID: host.UID,
		ToEmail: key,
		Status:  StatusPending,
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}
	appctx.GetLogger(ctx).Info("invitation created", "bag_id", bag.ID, "invite_id", inv.ID)

	s.notifyInvitee(ctx, inv, host)
	return inv, nil
}

func (s *Service) notifyInvitee(ctx context.Context, inv *Invitation, host identity.Principal) {
	if s.users == nil {
		return
	}
	u, err := s.users.GetByEmail(ctx, inv.ToEmail)
	if err != nil {
		if !errors.Is(err, identity.ErrUserNotFound) {
			appctx.GetLogger(ctx).Warn("invitee lookup failed", "invite_id", inv.ID, "error", err)
		}
		return
	}
	s.sink.Notify(ctx, u.UID, notifications.InviteReceived, host.Email+" invited you to "+inv.BagName, map[string]string{
		"bagId":            inv.BagID,
		"bagName":          inv.BagName,
		"inviteId":         inv.ID,
		"triggeredByUid":   host.UID,
		"triggeredByEmail": host.Email,
	})
}

// Respond records the invitee's decision. Accepting adds the member before
// the status changes, so a failure in between leaves a member with a still
// pending invitation, which a second accept settles. If the invitation is
// deleted in between (kick or cancel), the membership is withdrawn again.
func (s *Service) Respond(ctx context.Context, inviteID string, caller identity.Principal, decision Decision) (*Invitation, error) {
	if inviteID == "" {
		return nil, apperr.Invalid("inviteId is required")
	}
	if decision != Accept && decision != Reject {
		return nil, apperr.Invalid("decision must be accept or reject")
	}

	inv, err := s.repo.Get(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if inv.ToEmail != membership.MustKey(s.keyer, caller.Email) {
		return nil, ErrNotInvitee
	}
	if inv.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	log := appctx.GetLogger(ctx)
	if decision == Reject {
		if err := s.repo.SetStatusIfPending(ctx, inv.ID, StatusRejected); err != nil {
			return nil, err
		}
		inv.Status = StatusRejected
		log.Info("invitation rejected", "invite_id", inv.ID)
		return inv, nil
	}

	if err := s.bags.AddMember(ctx, inv.BagID, inv.ToEmail); err != nil {
		return nil, err
	}
	if err := s.repo.SetStatusIfPending(ctx, inv.ID, StatusAccepted); err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			if rerr := s.bags.RemoveMember(ctx, inv.BagID, inv.ToEmail); rerr != nil {
				log.Warn("membership rollback failed", "bag_id", inv.BagID, "invite_id", inv.ID, "error", rerr)
			}
		}
		return nil, err
	}
	inv.Status = StatusAccepted
	log.Info("invitation accepted", "bag_id", inv.BagID, "invite_id", inv.ID)

	s.sink.Notify(ctx, inv.HostUID, notifications.InviteAccepted, caller.Email+" joined "+inv.BagName, map[string]string{
		"bagId":            inv.BagID,
		"bagName":          inv.BagName,
		"triggeredByUid":   caller.UID,
		"triggeredByEmail": caller.Email,
	})
	return inv, nil
}

// Cancel hard-deletes a pending or settled invitation of bagID. Host only.
func (s *Service) Cancel(ctx context.Context, bagID, inviteID string, host identity.Principal) error {
	if inviteID == "" {
		return apperr.Invalid("inviteId is required")
	}
	if _, err := s.bags.HostOf(ctx, bagID, host.UID); err != nil {
		return err
	}
	inv, err := s.repo.Get(ctx, inviteID)
	if err != nil {
		return err
	}
	if inv.BagID != bagID {
		return ErrBagMismatch
	}
	return s.repo.Delete(ctx, inviteID)
}

// ListForBag returns the bag's pending invitations. Host only.
func (s *Service) ListForBag(ctx context.Context, bagID string, host identity.Principal) ([]*Invitation, error) {
	if _, err := s.bags.HostOf(ctx, bagID, host.UID); err != nil {
		return nil, err
	}
	return s.repo.ListPendingForBag(ctx, bagID)
}

// ListForUser returns the pending invitations addressed to the caller.
func (s *Service) ListForUser(ctx context.Context, caller identity.Principal) ([]*Invitation, error) {
	key := membership.MustKey(s.keyer, caller.Email)
	if key == "" {
		return []*Invitation{}, nil
	}
	return s.repo.ListPendingForEmail(ctx, key)
}
