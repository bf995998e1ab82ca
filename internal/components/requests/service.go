// Package requests implements the user-initiated membership workflow.
package requests

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/membership"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

// Decision is the host's answer to a request.
type Decision string

const (
	Approve Decision = "approve"
	Deny    Decision = "deny"
)

// enrichConcurrency bounds the bag lookups of ListForUser.
const enrichConcurrency = 8

// Bags is the part of the bag manager the workflow needs.
type Bags interface {
	Lookup(ctx context.Context, bagID string) (*bags.Bag, error)
	HostOf(ctx context.Context, bagID, actorUID string) (*bags.Bag, error)
	AddMember(ctx context.Context, bagID, key string) error
}

type Service struct {
	repo  Repo
	bags  Bags
	sink  notifications.Sink
	keyer membership.Keyer
	log   *slog.Logger
}

func NewService(repo Repo, b Bags, sink notifications.Sink, keyer membership.Keyer, log *slog.Logger) *Service {
	if keyer == nil {
		keyer = membership.Default
	}
	return &Service{repo: repo, bags: b, sink: sink, keyer: keyer, log: logutil.NoopIfNil(log)}
}

// Request files or refreshes the caller's request to join bagID. Any
// authenticated user may file one, whatever the bag's policy.
func (s *Service) Request(ctx context.Context, bagID string, requester identity.Principal) (*AccessRequest, error) {
	email, err := s.keyer.Key(requester.Email)
	if err != nil {
		return nil, apperr.Invalid("Email required")
	}
	bag, err := s.bags.Lookup(ctx, bagID)
	if err != nil {
		return nil, err
	}

	req := &AccessRequest{
		BagID:     bag.ID,
		UID:       requester.UID,
		Email:     email,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Upsert(ctx, req); err != nil {
		return nil, err
	}
	appctx.GetLogger(ctx).Info("access requested", "bag_id", bag.ID)

	if !bag.IsHost(requester.UID) {
		s.sink.Notify(ctx, bag.HostUID, notifications.RequestReceived, requester.Email+" requested access to "+bag.Name, map[string]string{
			"bagId":            bag.ID,
			"bagName":          bag.Name,
			"triggeredByUid":   requester.UID,
			"triggeredByEmail": requester.Email,
		})
	}
	return req, nil
}

// Decide approves or denies the request of requesterUID. Host only.
// Approval adds the stored email before the status changes.
func (s *Service) Decide(ctx context.Context, bagID string, host identity.Principal, requesterUID string, decision Decision) error {
	if requesterUID == "" || (decision != Approve && decision != Deny) {
		return apperr.Invalid("Invalid input")
	}
	bag, err := s.bags.HostOf(ctx, bagID, host.UID)
	if err != nil {
		return err
	}
	req, err := s.repo.Get(ctx, bagID, requesterUID)
	if err != nil {
		return err
	}

	log := appctx.GetLogger(ctx)
	if decision == Deny {
		if err := s.repo.SetStatus(ctx, bagID, requesterUID, StatusDenied); err != nil {
			return err
		}
		log.Info("access request denied", "bag_id", bagID)
		return nil
	}

	if err := s.bags.AddMember(ctx, bagID, req.Email); err != nil {
		return err
	}
	if err := s.repo.SetStatus(ctx, bagID, requesterUID, StatusApproved); err != nil {
		return err
	}
	log.Info("access request approved", "bag_id", bagID)

	s.sink.Notify(ctx, requesterUID, notifications.RequestApproved, "Your request to join "+bag.Name+" was approved", map[string]string{
		"bagId":            bag.ID,
		"bagName":          bag.Name,
		"triggeredByUid":   host.UID,
		"triggeredByEmail": host.Email,
	})
	return nil
}

// ListForBag returns the bag's pending requests. Host only.
func (s *Service) ListForBag(ctx context.Context, bagID string, host identity.Principal) ([]*AccessRequest, error) {
	if _, err := s.bags.HostOf(ctx, bagID, host.UID); err != nil {
		return nil, err
	}
	return s.repo.ListPendingForBag(ctx, bagID)
}

// UserRequest is a pending request as shown to its author.
type UserRequest struct {
	BagID       string    `json:"bagId"`
	BagName     string    `json:"bagName"`
	RequestedAt time.Time `json:"requestedAt"`
}

// ListForUser returns the caller's pending requests with bag names.
// Requests whose bag is gone are skipped.
func (s *Service) ListForUser(ctx context.Context, uid string) ([]UserRequest, error) {
	pending, err := s.repo.ListPendingForUser(ctx, uid)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i, req := range pending {
		g.Go(func() error {
			bag, err := s.bags.Lookup(gctx, req.BagID)
			if errors.Is(err, bags.ErrBagNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			names[i] = bag.Name
			if names[i] == "" {
				names[i] = "Unknown Bag"
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]UserRequest, 0, len(pending))
	for i, req := range pending {
		if names[i] == "" {
			continue
		}
		out = append(out, UserRequest{BagID: req.BagID, BagName: names[i], RequestedAt: req.CreatedAt})
	}
	return out, nil
}
