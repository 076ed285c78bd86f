package password

import "github.com/aloks98/restauth/internal/crypto"

const (
	// AppPasswordLength is the number of characters in an application
	// password.
	AppPasswordLength = 24

	appPasswordGroup = 4
)

// GenerateAppPassword returns a new application password in its display
// form, grouped in blocks of four.
func GenerateAppPassword() (string, error) {
	pw, err := crypto.GeneratePassword(AppPasswordLength)
	if err != nil {
		return "", err
	}
	return crypto.GroupChunks(pw, appPasswordGroup), nil
}

// NormalizeAppPassword strips the display grouping so the hashed form
// matches whether or not the user kept the spaces.
func NormalizeAppPassword(s string) string {
	return crypto.StripSpaces(s)
}
