package crypto

import (
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// ConnectionString returns the usable connection string of a database specification,
// decrypting it when the catalog stores it encrypted. enc may be nil when no key is configured.
func ConnectionString(enc *CredentialEncryptor, db *models.DatabaseSpecification) (string, error) {
	if !db.Encrypted {
		return db.ConnectionString, nil
	}
	if enc == nil {
		return "", apperrors.Configuration("database %q has an encrypted connection string but no credentials key is configured", db.Name)
	}

	plain, err := enc.Open(db.Name, db.ConnectionString)
	if err != nil {
		if errors.Is(err, ErrDecryptionFailed) {
			return "", apperrors.Wrap(apperrors.KindConfiguration, fmt.Sprintf("database %q", db.Name), apperrors.ErrCredentialsKeyMismatch)
		}
		return "", err
	}
	return plain, nil
}
