package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const cost = 12 // bcrypt cost factor (higher = slower but more secure)

// ErrTooLong is returned for passwords beyond bcrypt's 72-byte input limit
var ErrTooLong = errors.New("password exceeds 72 bytes")

// Hash hashes password using bcrypt
func Hash(password string) (string, error) {
	if len(password) > 72 {
		return "", ErrTooLong
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

// Verify compares password with hash
func Verify(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
