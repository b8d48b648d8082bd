package password

import "strings"

// commonPasswords is a small deny-list of passwords seen at the top of
// public breach corpora. Checked case-insensitively.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"passw0rd":    {},
	"123456":      {},
	"1234567":     {},
	"12345678":    {},
	"123456789":   {},
	"1234567890":  {},
	"qwerty":      {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"abc123":      {},
	"iloveyou":    {},
	"admin":       {},
	"admin123":    {},
	"welcome":     {},
	"welcome1":    {},
	"letmein":     {},
	"monkey":      {},
	"dragon":      {},
	"sunshine":    {},
	"princess":    {},
	"football":    {},
	"baseball":    {},
	"superman":    {},
	"trustno1":    {},
	"111111":      {},
	"000000":      {},
	"654321":      {},
	"666666":      {},
	"696969":      {},
	"master":      {},
	"shadow":      {},
	"michael":     {},
	"jennifer":    {},
	"jordan":      {},
	"hunter2":     {},
	"secret":      {},
	"changeme":    {},
}

// isCommonPassword reports whether the password is on the deny-list.
func isCommonPassword(password string) bool {
	_, ok := commonPasswords[strings.ToLower(password)]
	return ok
}
