package repository

import (
	"errors"

	"github.com/prn-tf/premium-keys/internal/domain"
)

// IsDuplicate reports whether err is a duplicate insert, which sync treats as already present.
func IsDuplicate(err error) bool {
	return errors.Is(err, domain.ErrDuplicateKey)
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrKeyNotFound)
}
