package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/kausenergy/settlement/pkg/repository"
)

// mapErr translates GORM errors into the storage contract's sentinels so
// services never import gorm. Requires TranslateError on the gorm config so
// postgres unique violations surface as gorm.ErrDuplicatedKey.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repository.ErrDuplicateKey
	default:
		return err
	}
}
