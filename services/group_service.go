package services

import (
	"fmt"
	"log/slog"
	"strings"

	"chat-sync/auth"
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/repositories"
)

type IGroupService interface {
	CreateGroup(name, password string, creator domain.User) (domain.Group, error)
	ListGroups() ([]domain.GroupSummary, error)
	GetGroup(groupID string) (domain.Group, error)
	VerifyPassword(groupID, candidate string) (bool, error)
	AddMember(groupID string, user domain.User) error
	JoinGroup(groupID, password string, user domain.User) error
}

// GroupService is the registry of groups: creation, listing, password
// gating and membership. Membership is mutated only through this
// service; nothing else writes to the membership set.
type GroupService struct {
	groups   repositories.IGroupRepository
	users    repositories.IUserRepository
	notifier contract.Notifier
	log      *slog.Logger
}

func NewGroupService(groups repositories.IGroupRepository, users repositories.IUserRepository,
	notifier contract.Notifier, log *slog.Logger) *GroupService {
	return &GroupService{groups: groups, users: users, notifier: notifier, log: log}
}

// CreateGroup validates the name, hashes the password when provided and
// persists the group with the creator as its only member. The group's
// message log exists implicitly: its sequence counter is created on
// first append.
func (s *GroupService) CreateGroup(name, password string, creator domain.User) (domain.Group, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return domain.Group{}, errors.ErrInvalidName
	}

	hash := ""
	if password != "" {
		var err error
		hash, err = auth.HashPassword(password)
		if err != nil {
			return domain.Group{}, fmt.Errorf("password hashing failed: %w", err)
		}
	}

	if err := s.users.PutUser(creator); err != nil {
		return domain.Group{}, err
	}

	group, err := s.groups.CreateGroup(trimmed, hash, creator)
	if err != nil {
		return domain.Group{}, err
	}

	s.log.Info("Group created", "group_id", group.ID, "name", group.Name, "protected", group.HasPassword())
	return group, nil
}

func (s *GroupService) ListGroups() ([]domain.GroupSummary, error) {
	return s.groups.ListGroups()
}

func (s *GroupService) GetGroup(groupID string) (domain.Group, error) {
	return s.groups.GetGroup(groupID)
}

// VerifyPassword is true unconditionally for groups without a password:
// open-join policy. Otherwise the candidate is checked against the
// stored hash in constant time.
func (s *GroupService) VerifyPassword(groupID, candidate string) (bool, error) {
	group, err := s.groups.GetGroup(groupID)
	if err != nil {
		return false, err
	}
	if !group.HasPassword() {
		return true, nil
	}
	return auth.ComparePassword(candidate, group.PasswordHash)
}

// AddMember upserts the user's identity and adds them to the group.
// Adding an existing member is a no-op; a membership event is published
// only when the set actually changed.
func (s *GroupService) AddMember(groupID string, user domain.User) error {
	if err := s.users.PutUser(user); err != nil {
		return err
	}

	changed, err := s.groups.AddMember(groupID, user.ID)
	if err != nil {
		return err
	}
	if changed {
		s.notifier.Publish(event.MembershipChanged{Group: groupID, UserID: user.ID, Joined: true})
	}
	return nil
}

// JoinGroup is the password-gated entry path: verification first, then
// membership.
func (s *GroupService) JoinGroup(groupID, password string, user domain.User) error {
	ok, err := s.VerifyPassword(groupID, password)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrAuthorization
	}
	return s.AddMember(groupID, user)
}
