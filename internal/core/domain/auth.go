package domain

type Role string

const (
	RoleUser  Role = "USER"
	RoleStore Role = "STORE"
	RoleRider Role = "RIDER"
	RoleAdmin Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleStore, RoleRider, RoleAdmin:
		return true
	}
	return false
}

// AuthContext is an already verified caller identity. Which of UserID, StoreID and
// PartnerID is set depends on Role.
type AuthContext struct {
	AccountID string
	Role      Role
	UserID    string
	StoreID   string
	PartnerID string
}

func (a AuthContext) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
