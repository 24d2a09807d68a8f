package store

import (
	"database/sql"
	"time"

	"github.com/ecid-covid-it-support/tracking-api/validation"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

var (
	ErrInstitutionNotFound  = errors.New("institution not found")
	ErrInstitutionDuplicate = errors.New("institution name already registered")
	ErrInstitutionHasUsers  = errors.New("institution still referenced by users")
)

type Institution struct {
	InstitutionId sql.NullString  `gorm:"column:institution_id;primary_key"`
	Type          sql.NullString  `gorm:"column:type"`
	Name          sql.NullString  `gorm:"column:name;unique_index"`
	Address       sql.NullString  `gorm:"column:address"`
	Latitude      sql.NullFloat64 `gorm:"column:latitude"`
	Longitude     sql.NullFloat64 `gorm:"column:longitude"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
}

func (Institution) TableName() string {
	return "institutions"
}

// InstitutionSortableFields is the whitelist for the list query surface.
var InstitutionSortableFields = []string{"type", "name", "address", "latitude", "longitude"}

func (s *Store) AddInstitution(tx *gorm.DB, institution Institution) (Institution, error) {
	db := s.dbOrTx(tx)

	institution.InstitutionId = s.newId()
	if err := db.Create(&institution).Error; err != nil {
		if isUniqueViolation(err) {
			return Institution{}, ErrInstitutionDuplicate
		}
		return Institution{}, err
	}

	return institution, nil
}

func (s *Store) GetInstitution(tx *gorm.DB, institutionId string) (Institution, error) {
	db := s.dbOrTx(tx)

	institution := Institution{}
	res := db.Where("institution_id = ?", institutionId).First(&institution)
	if res.RecordNotFound() {
		return Institution{}, ErrInstitutionNotFound
	}
	if err := res.Error; err != nil {
		return Institution{}, err
	}
	return institution, nil
}

func (s *Store) InstitutionExists(tx *gorm.DB, institutionId string) bool {
	db := s.dbOrTx(tx)
	institution := Institution{}
	return !db.Where("institution_id = ?", institutionId).First(&institution).RecordNotFound()
}

func (s *Store) ListInstitutions(tx *gorm.DB, options validation.QueryOptions) ([]Institution, error) {
	db := s.dbOrTx(tx)

	query := db.Model(&Institution{}).Order(orderClause(options, "created_at DESC"))
	query = query.Offset(options.Offset()).Limit(options.Limit)

	institutions := []Institution{}
	if err := query.Find(&institutions).Error; err != nil {
		return []Institution{}, err
	}
	return institutions, nil
}

func (s *Store) UpdateInstitution(tx *gorm.DB, institution Institution) (Institution, error) {
	db := s.dbOrTx(tx)

	res := db.Where("institution_id = ?", institution.InstitutionId.String).Model(&Institution{}).Updates(institution).First(&institution)
	if res.RecordNotFound() {
		return Institution{}, ErrInstitutionNotFound
	}
	if err := res.Error; err != nil {
		if isUniqueViolation(err) {
			return Institution{}, ErrInstitutionDuplicate
		}
		return Institution{}, err
	}

	return s.GetInstitution(db, institution.InstitutionId.String)
}

// DeleteInstitution refuses while any user still references the
// institution; association integrity never cascades silently.
func (s *Store) DeleteInstitution(tx *gorm.DB, institutionId string) error {
	db := s.dbOrTx(tx)

	if !s.InstitutionExists(db, institutionId) {
		return ErrInstitutionNotFound
	}

	var count int
	if err := db.Model(&User{}).Where("institution_id = ?", institutionId).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrInstitutionHasUsers
	}

	return db.Where("institution_id = ?", institutionId).Delete(&Institution{}).Error
}

func orderClause(options validation.QueryOptions, fallback string) string {
	if options.SortField == "" {
		return fallback
	}
	if options.SortDesc {
		return options.SortField + " DESC"
	}
	return options.SortField + " ASC"
}
