package reauth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Verifier interface {
	Verify(ctx context.Context, operatorID, credential string) (bool, error)
}

// CredentialVerifier checks bcrypt hashes stored in operator_credentials.
type CredentialVerifier struct {
	db *gorm.DB
}

func NewCredentialVerifier(db *gorm.DB) *CredentialVerifier {
	return &CredentialVerifier{db: db}
}

func (v *CredentialVerifier) Verify(ctx context.Context, operatorID, credential string) (bool, error) {
	if operatorID == "" || credential == "" {
		return false, nil
	}

	var cred OperatorCredential
	err := v.db.WithContext(ctx).Where("operator_id = ?", operatorID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(credential)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func HashCredential(credential string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
