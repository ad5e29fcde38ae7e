package users

type User struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Password     string   `json:"password"`
	Token        string   `json:"token"`
	PrimaryEmail string   `json:"primary_email"`
	Emails       []string `json:"emails"`
}

// Owns reports whether addr is one of the user's addresses.
func (u User) Owns(addr string) bool {
	if u.PrimaryEmail == addr {
		return true
	}
	for _, e := range u.Emails {
		if e == addr {
			return true
		}
	}
	return false
}
