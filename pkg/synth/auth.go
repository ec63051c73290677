package synth

import "fmt"

// OwnerAuthorizer grants every privileged role to a single owner identity.
// The price authority may be delegated to a second identity.
type OwnerAuthorizer struct {
	owner          string
	priceAuthority string
}

// NewOwnerAuthorizer creates an authorizer where the owner holds all roles
func NewOwnerAuthorizer(owner string) *OwnerAuthorizer {
	return &OwnerAuthorizer{owner: owner, priceAuthority: owner}
}

// NewDelegatedAuthorizer creates an authorizer with a separate price authority
func NewDelegatedAuthorizer(owner, priceAuthority string) *OwnerAuthorizer {
	return &OwnerAuthorizer{owner: owner, priceAuthority: priceAuthority}
}

// Authorize checks that the caller holds the requested role
func (a *OwnerAuthorizer) Authorize(caller string, role Role) error {
	switch role {
	case RoleOwner:
		if caller == a.owner {
			return nil
		}
	case RolePriceAuthority:
		if caller == a.owner || caller == a.priceAuthority {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
}
