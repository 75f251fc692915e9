package repositories

import (
	"sort"

	"github.com/samber/lo"

	"chat-sync/domain"
)

// SnapshotStore bundles the repositories into the read model the hub
// pushes to subscribers: the full recent message list and the current
// member list of a group.
type SnapshotStore struct {
	Messages    IMessageRepository
	Groups      IGroupRepository
	Users       IUserRepository
	RecentLimit int
}

func (s SnapshotStore) RecentMessages(groupID string) ([]domain.Message, error) {
	return s.Messages.ListRecent(groupID, s.RecentLimit)
}

func (s SnapshotStore) Members(groupID string) ([]domain.User, error) {
	group, err := s.Groups.GetGroup(groupID)
	if err != nil {
		return nil, err
	}

	ids := lo.Keys(group.MemberIDs)
	sort.Strings(ids)
	return s.Users.GetUsers(ids)
}
