package store

import (
	"database/sql"
	"strings"

	"github.com/jinzhu/gorm"
)

type Store struct {
	Db              *gorm.DB `inject:""`
	StringGenerator interface {
		GenerateObjectId() string
	} `inject:""`
}

func (s *Store) Tx() *gorm.DB {
	return s.Db.Begin()
}

func (s *Store) dbOrTx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.Db
}

func DbNullString(value string) sql.NullString {
	if value != "" {
		return sql.NullString{
			String: value,
			Valid:  true,
		}
	}
	return sql.NullString{
		Valid: false,
	}
}

func DbNullFloat64(value *float64) sql.NullFloat64 {
	if value != nil {
		return sql.NullFloat64{
			Float64: *value,
			Valid:   true,
		}
	}
	return sql.NullFloat64{
		Valid: false,
	}
}

func DbNullInt64(value *int64) sql.NullInt64 {
	if value != nil {
		return sql.NullInt64{
			Int64: *value,
			Valid: true,
		}
	}
	return sql.NullInt64{
		Valid: false,
	}
}

func DbNullBool(value *bool) sql.NullBool {
	if value != nil {
		return sql.NullBool{
			Bool:  *value,
			Valid: true,
		}
	}
	return sql.NullBool{
		Valid: false,
	}
}

func (s *Store) newId() sql.NullString {
	return DbNullString(s.StringGenerator.GenerateObjectId())
}

// SearchOptions narrows entity queries to the access scope the engine
// granted; filters only ever AND together, so a scoped query can never
// return more than the unscoped one.
type SearchOptions struct {
	InstitutionId string
	FamilyId      string
	OwnerId       string
	UserId        string
	ChildIds      []string
}

// Uniqueness is enforced by storage-level unique constraints so concurrent
// duplicate registrations surface as conflicts, not racy read-then-write.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// EnsureSchema creates the full schema through gorm; the production path
// uses the versioned sql migrations instead.
func (s *Store) EnsureSchema() error {
	return s.Db.AutoMigrate(
		&Institution{},
		&User{},
		&FamilyChild{},
		&ChildrenGroup{},
		&GroupChild{},
		&BodyFat{},
		&Sleep{},
		&PhysicalActivity{},
		&Environment{},
	).Error
}
