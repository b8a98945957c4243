package domain

// Identity is either anonymous (empty UserID) or authenticated.
type Identity struct {
	UserID string
}

var Anonymous = Identity{}

func Authenticated(userID string) Identity {
	return Identity{UserID: userID}
}

func (i Identity) IsAuthenticated() bool {
	return i.UserID != ""
}

func (i Identity) String() string {
	if !i.IsAuthenticated() {
		return "anonymous"
	}
	return "authenticated(" + i.UserID + ")"
}
