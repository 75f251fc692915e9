package domain

import "strings"

// Group is a named collection of members sharing one message log.
// The name is unique across all groups, compared case-insensitively.
// An empty PasswordHash means the group is public.
type Group struct {
	ID           string
	Name         string
	PasswordHash string
	MemberIDs    map[string]bool
}

func (g Group) HasPassword() bool {
	return g.PasswordHash != ""
}

func (g Group) IsMember(userID string) bool {
	return g.MemberIDs[userID]
}

// NormalizeName is the canonical form of a group name used for
// uniqueness checks.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GroupSummary is the listing view of a group. It never carries the
// password hash.
type GroupSummary struct {
	ID          string
	Name        string
	HasPassword bool
}
