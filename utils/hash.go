package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// GenerateHash returns the bcrypt hash of secret. A cost outside bcrypt's
// range falls back to bcrypt.DefaultCost.
func GenerateHash(secret string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CompareHash(hash, secret string) bool {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return false
	}
	return true
}
