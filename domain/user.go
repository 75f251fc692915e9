// Package domain contains the core concepts of the messaging system.
// No runtime, network, or storage logic should be added here.
package domain

// User is the identity supplied by the authentication collaborator.
// The core trusts the id and display name and never re-verifies them.
type User struct {
	ID   string
	Name string
}
