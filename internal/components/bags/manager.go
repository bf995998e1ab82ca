// Package bags owns the bag lifecycle: creation together with its storage
// folder, metadata updates, deletion with cleanup of dependent records,
// and the direct membership operations (share, leave, kick).
package bags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/drivebags/drivebags-go/internal/components/access"
	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/membership"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/components/storage"
	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

// FolderPrefix is prepended to the bag name to form the folder name.
const FolderPrefix = "Bag: "

// Credentials hands out storage clients bound to a user's vaulted token.
type Credentials interface {
	ClientForUser(ctx context.Context, uid string) (storage.Client, error)
	ClientForHost(ctx context.Context, hostUID string) (storage.Client, error)
}

// UserLookup finds the user behind a member email.
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*identity.User, error)
}

// Cleaner removes records that reference a bag.
type Cleaner interface {
	DeleteForBag(ctx context.Context, bagID string) error
}

// MemberCleaner removes records that grant a member access to a bag.
type MemberCleaner interface {
	DeleteForBagAndEmail(ctx context.Context, bagID, email string) error
}

// Manager coordinates the bag store and the storage delegate.
type Manager struct {
	repo     Repo
	creds    Credentials
	sink     notifications.Sink
	keyer    membership.Keyer
	users    UserLookup
	cleaners map[string]Cleaner
	members  MemberCleaner
	log      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeyer replaces the email keyer.
func WithKeyer(k membership.Keyer) Option { return func(m *Manager) { m.keyer = k } }

// WithUsers enables notifying kicked members.
func WithUsers(u UserLookup) Option { return func(m *Manager) { m.users = u } }

// WithCleaner registers a dependent collection purged on bag deletion.
func WithCleaner(name string, c Cleaner) Option {
	return func(m *Manager) { m.cleaners[name] = c }
}

// WithMemberCleaner registers the purge run when a member is kicked.
func WithMemberCleaner(c MemberCleaner) Option { return func(m *Manager) { m.members = c } }

func NewManager(repo Repo, creds Credentials, sink notifications.Sink, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:     repo,
		creds:    creds,
		sink:     sink,
		keyer:    membership.Default,
		cleaners: make(map[string]Cleaner),
		log:      logutil.NoopIfNil(log),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Keyer returns the keyer used for the allow-list.
func (m *Manager) Keyer() membership.Keyer { return m.keyer }

// CreateInput is the body of a create call.
type CreateInput struct {
	Name          string
	AccessType    string
	InvitedEmails []string
}

// Create makes the host's folder and then the bag record. If the record
// cannot be written the folder is removed again.
func (m *Manager) Create(ctx context.Context, host identity.Principal, in CreateInput) (*Bag, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Invalid("name is required")
	}
	policy, err := access.ParsePolicy(in.AccessType)
	if err != nil {
		return nil, apperr.Invalid(err.Error())
	}
	members, err := m.keyAll(in.InvitedEmails)
	if err != nil {
		return nil, err
	}

	client, err := m.creds.ClientForUser(ctx, host.UID)
	if err != nil {
		return nil, err
	}

	folderID, err := client.CreateFolder(ctx, FolderPrefix+name, "")
	if err != nil {
		return nil, fmt.Errorf("create bag folder: %w", err)
	}

	bag := &Bag{
		HostUID:       host.UID,
		Name:          name,
		AccessType:    policy,
		InvitedEmails: members,
		FolderRef:     folderID,
	}
	if err := m.repo.Create(ctx, bag); err != nil {
		m.removeOrphanFolder(ctx, client, folderID)
		return nil, fmt.Errorf("store bag: %w", err)
	}

	appctx.GetLogger(ctx).Info("bag created", "bag_id", bag.ID, "access_type", policy)
	return bag, nil
}

func (m *Manager) removeOrphanFolder(ctx context.Context, client storage.Client, folderID string) {
	log := appctx.GetLogger(ctx)
	if err := client.Delete(context.WithoutCancel(ctx), folderID); err != nil {
		log.Error("orphan bag folder left behind", "folder_id", folderID, "error", err)
		return
	}
	log.Warn("removed bag folder after failed bag write", "folder_id", folderID)
}

func (m *Manager) keyAll(emails []string) ([]string, error) {
	out := make([]string, 0, len(emails))
	seen := make(map[string]bool, len(emails))
	for _, e := range emails {
		k, err := m.keyer.Key(e)
		if err != nil {
			return nil, apperr.Invalid(fmt.Sprintf("invalid email %q", e))
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

// Get returns the bag when p may see it.
func (m *Manager) Get(ctx context.Context, bagID string, p identity.Principal) (*Bag, error) {
	return m.Authorize(ctx, bagID, p)
}

// Authorize loads the bag and applies the access decision.
// Every bag-scoped operation starts here.
func (m *Manager) Authorize(ctx context.Context, bagID string, p identity.Principal) (*Bag, error) {
	bag, err := m.repo.Get(ctx, bagID)
	if err != nil {
		return nil, err
	}
	subj := bag.Subject()
	subj.Keyer = m.keyer
	d := access.Evaluate(subj, p)
	if !d.Allowed {
		return nil, &AccessDeniedError{BagID: bagID, CanRequest: d.CanRequest}
	}
	return bag, nil
}

// HostOf loads the bag and checks that actor hosts it.
func (m *Manager) HostOf(ctx context.Context, bagID, actorUID string) (*Bag, error) {
	bag, err := m.repo.Get(ctx, bagID)
	if err != nil {
		return nil, err
	}
	if !bag.IsHost(actorUID) {
		return nil, ErrNotHost
	}
	return bag, nil
}

// HostClient returns a storage client acting as the bag's host.
func (m *Manager) HostClient(ctx context.Context, bag *Bag) (storage.Client, error) {
	return m.creds.ClientForHost(ctx, bag.HostUID)
}

// Dashboard lists the bags a user hosts and the bags shared with them.
type Dashboard struct {
	Hosted []*Bag `json:"hosted"`
	Shared []*Bag `json:"shared"`
}

// ListForUser builds the caller's dashboard.
func (m *Manager) ListForUser(ctx context.Context, p identity.Principal) (*Dashboard, error) {
	hosted, err := m.repo.ListByHost(ctx, p.UID)
	if err != nil {
		return nil, err
	}

	shared := []*Bag{}
	if key := membership.MustKey(m.keyer, p.Email); key != "" {
		all, err := m.repo.ListByMember(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, b := range all {
			if !b.IsHost(p.UID) {
				shared = append(shared, b)
			}
		}
	}
	if hosted == nil {
		hosted = []*Bag{}
	}
	return &Dashboard{Hosted: hosted, Shared: shared}, nil
}

// UpdateInput is the body of an update call. Nil fields are unchanged.
type UpdateInput struct {
	Name       *string
	AccessType *string
}

// Update changes name and policy. Any move into a restricted policy clears
// the allow-list in the same write, so every member has to rejoin.
func (m *Manager) Update(ctx context.Context, bagID, actorUID string, in UpdateInput) (*Bag, error) {
	if in.Name == nil && in.AccessType == nil {
		return nil, apperr.Invalid("nothing to update")
	}

	var u Update
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Invalid("name must not be empty")
		}
		u.Name = &name
	}
	if in.AccessType != nil {
		policy, err := access.ParsePolicy(*in.AccessType)
		if err != nil {
			return nil, apperr.Invalid(err.Error())
		}
		u.AccessType = &policy
		u.ClearMembers = policy.Restricted()
	}

	if _, err := m.HostOf(ctx, bagID, actorUID); err != nil {
		return nil, err
	}
	bag, err := m.repo.Update(ctx, bagID, u)
	if err != nil {
		return nil, err
	}
	if u.ClearMembers {
		appctx.GetLogger(ctx).Info("bag allow-list cleared", "bag_id", bagID, "access_type", *u.AccessType)
	}
	return bag, nil
}

// Delete removes the bag, then purges dependent records concurrently.
// Cleanup failures are logged and leave orphans that readers skip.
func (m *Manager) Delete(ctx context.Context, bagID, actorUID string) error {
	if _, err := m.HostOf(ctx, bagID, actorUID); err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, bagID); err != nil {
		return err
	}

	log := appctx.GetLogger(ctx)
	cleanupCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for name, c := range m.cleaners {
		g.Go(func() error {
			if err := c.DeleteForBag(cleanupCtx, bagID); err != nil {
				log.Warn("bag cleanup failed", "bag_id", bagID, "collection", name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("bag deleted", "bag_id", bagID)
	return nil
}

// Share adds email to the allow-list directly. Host only.
func (m *Manager) Share(ctx context.Context, bagID, actorUID, email string) error {
	key, err := m.keyer.Key(email)
	if err != nil {
		return apperr.Invalid("a valid email is required")
	}
	if _, err := m.HostOf(ctx, bagID, actorUID); err != nil {
		return err
	}
	return m.repo.AddMember(ctx, bagID, key)
}

// Leave removes the caller from the allow-list.
func (m *Manager) Leave(ctx context.Context, bagID string, p identity.Principal) error {
	key, err := m.keyer.Key(p.Email)
	if err != nil {
		return apperr.Invalid("Email required")
	}
	return m.repo.RemoveMember(ctx, bagID, key)
}

// Kick removes email from the allow-list, drops its invitations for the
// bag and tells the removed user. Host only.
func (m *Manager) Kick(ctx context.Context, bagID string, actor identity.Principal, email string) error {
	key, err := m.keyer.Key(email)
	if err != nil {
		return apperr.Invalid("Email required")
	}
	bag, err := m.HostOf(ctx, bagID, actor.UID)
	if err != nil {
		return err
	}
	if err := m.repo.RemoveMember(ctx, bagID, key); err != nil {
		return err
	}

	log := appctx.GetLogger(ctx)
	if m.members != nil {
		if err := m.members.DeleteForBagAndEmail(ctx, bagID, key); err != nil {
			log.Warn("invitation purge after kick failed", "bag_id", bagID, "error", err)
		}
	}

	if m.users == nil {
		return nil
	}
	u, err := m.users.GetByEmail(ctx, key)
	if err != nil {
		if !errors.Is(err, identity.ErrUserNotFound) {
			log.Warn("kicked user lookup failed", "bag_id", bagID, "error", err)
		}
		return nil
	}
	m.sink.Notify(ctx, u.UID, notifications.Kicked, "You have been removed from "+bag.Name, map[string]string{
		"bagId":            bag.ID,
		"bagName":          bag.Name,
		"triggeredByUid":   actor.UID,
		"triggeredByEmail": actor.Email,
	})
	return nil
}

// AddMember appends key to the allow-list. Used by the invitation and
// request workflows.
func (m *Manager) AddMember(ctx context.Context, bagID, key string) error {
	return m.repo.AddMember(ctx, bagID, key)
}

// RemoveMember drops key from the allow-list without notifying anyone.
func (m *Manager) RemoveMember(ctx context.Context, bagID, key string) error {
	return m.repo.RemoveMember(ctx, bagID, key)
}

// Lookup returns the bag without an access check. Workflow use only.
func (m *Manager) Lookup(ctx context.Context, bagID string) (*Bag, error) {
	return m.repo.Get(ctx, bagID)
}
