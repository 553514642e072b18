package users

type User struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Password     string   `json:"-"`
	PrimaryEmail string   `json:"primary_email"`
	Emails       []string `json:"emails"`
}

func (u *User) HasEmail(email string) bool {
	if u.PrimaryEmail == email {
		return true
	}
	for _, e := range u.Emails {
		if e == email {
			return true
		}
	}
	return false
}
