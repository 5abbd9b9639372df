package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Provider identifies the OAuth identity provider that issued the assertion
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderApple  Provider = "apple"
)

// Valid reports whether p is a supported provider
func (p Provider) Valid() bool {
	return p == ProviderGoogle || p == ProviderApple
}

// AccountType selects between the personal and business key families
type AccountType string

const (
	AccountTypePersonal AccountType = "personal"
	AccountTypeBusiness AccountType = "business"
)

// Valid reports whether t is a supported account type
func (t AccountType) Valid() bool {
	return t == AccountTypePersonal || t == AccountTypeBusiness
}

// Role is the caller's relationship to the active account
type Role string

const (
	RoleOwner    Role = "owner"
	RoleEmployee Role = "employee"
)

// IdentityClaims is the OAuth triple plus provider captured at sign-in.
// Immutable once captured.
type IdentityClaims struct {
	Issuer   string   `json:"iss"`
	Subject  string   `json:"sub"`
	Audience string   `json:"aud"`
	Provider Provider `json:"provider"`
}

// Validate checks the invariants every derivation relies on
func (c IdentityClaims) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("subject is empty")
	}
	if !c.Provider.Valid() {
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	return nil
}

// WalletScope is the full derivation input. Equality is structural: two scopes
// compare equal with == iff every field matches, and equal scopes always derive
// the identical keypair. An empty BusinessID means "no business".
type WalletScope struct {
	Claims       IdentityClaims
	AccountType  AccountType
	AccountIndex uint32
	BusinessID   string
}

// PersonalScope builds the scope of a personal account
func PersonalScope(claims IdentityClaims, index uint32) WalletScope {
	return WalletScope{Claims: claims, AccountType: AccountTypePersonal, AccountIndex: index}
}

// BusinessScope builds the scope of a business account
func BusinessScope(claims IdentityClaims, businessID string, index uint32) WalletScope {
	return WalletScope{Claims: claims, AccountType: AccountTypeBusiness, AccountIndex: index, BusinessID: businessID}
}

// Validate checks the account-type/business-id combination and the claims
func (s WalletScope) Validate() error {
	if err := s.Claims.Validate(); err != nil {
		return err
	}
	switch s.AccountType {
	case AccountTypePersonal:
		if s.BusinessID != "" {
			return fmt.Errorf("personal scope must not carry a business id")
		}
	case AccountTypeBusiness:
		if s.BusinessID == "" {
			return fmt.Errorf("business scope requires a business id")
		}
	default:
		return fmt.Errorf("unsupported account type %q", s.AccountType)
	}
	return nil
}

// Key returns a stable, non-reversible identifier for the scope, suitable for
// storage keys and log fields. The subject never appears in clear.
func (s WalletScope) Key() string {
	h := sha256.New()
	for _, field := range []string{
		s.Claims.Issuer,
		s.Claims.Subject,
		s.Claims.Audience,
		string(s.Claims.Provider),
		string(s.AccountType),
		s.BusinessID,
	} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], s.AccountIndex)
	h.Write(idx[:])
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// String is log safe
func (s WalletScope) String() string {
	if s.AccountType == AccountTypeBusiness {
		return fmt.Sprintf("%s/%s/%d", s.AccountType, s.BusinessID, s.AccountIndex)
	}
	return fmt.Sprintf("%s/%d", s.AccountType, s.AccountIndex)
}

// AccountContext is the session's notion of which account is active
type AccountContext struct {
	AccountType  AccountType `json:"account_type"`
	AccountIndex uint32      `json:"account_index"`
	BusinessID   string      `json:"business_id,omitempty"`
	Role         Role        `json:"role"`
}

// Validate checks the account context in isolation
func (a AccountContext) Validate() error {
	switch a.AccountType {
	case AccountTypePersonal:
		if a.BusinessID != "" {
			return fmt.Errorf("personal account must not carry a business id")
		}
	case AccountTypeBusiness:
		if a.BusinessID == "" {
			return fmt.Errorf("business account requires a business id")
		}
		if a.Role != RoleOwner && a.Role != RoleEmployee {
			return fmt.Errorf("unsupported role %q", a.Role)
		}
	default:
		return fmt.Errorf("unsupported account type %q", a.AccountType)
	}
	return nil
}

// IsOwner reports whether the session may derive this account's key
func (a AccountContext) IsOwner() bool {
	return a.AccountType == AccountTypePersonal || a.Role == RoleOwner
}
