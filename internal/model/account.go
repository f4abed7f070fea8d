package model

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleBusiness Role = "business"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleCustomer, RoleBusiness:
		return Role(raw), true
	}
	return "", false
}

// Account is a registered user. Role is fixed at registration; BusinessName
// is only meaningful for role=business.
type Account struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	Role         Role
	BusinessName string
	PasswordHash string
	CreatedAt    time.Time
}

// AccountSummary is the projection attached to appointment responses.
type AccountSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

func (a Account) Summary() AccountSummary {
	s := AccountSummary{
		ID:    a.ID,
		Name:  a.Name,
		Email: a.Email,
	}
	switch a.Role {
	case RoleCustomer:
		s.Phone = a.Phone
	case RoleBusiness:
		s.BusinessName = a.BusinessName
	}
	return s
}
