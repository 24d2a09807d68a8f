package store

import (
	"database/sql"
	"time"

	"github.com/ecid-covid-it-support/tracking-api/validation"

	"github.com/jinzhu/gorm"
)

// Tracking records are immutable once written; the surface is create, read
// and delete-by-collection, always scoped by the owner key.

type BodyFat struct {
	BodyFatId sql.NullString  `gorm:"column:body_fat_id;primary_key"`
	ChildId   sql.NullString  `gorm:"column:child_id;index"`
	Timestamp time.Time       `gorm:"column:timestamp"`
	Value     sql.NullFloat64 `gorm:"column:value"`
	Unit      sql.NullString  `gorm:"column:unit"`
	CreatedAt time.Time       `gorm:"column:created_at"`
}

func (BodyFat) TableName() string {
	return "body_fats"
}

type Sleep struct {
	SleepId   sql.NullString `gorm:"column:sleep_id;primary_key"`
	ChildId   sql.NullString `gorm:"column:child_id;index"`
	StartTime time.Time      `gorm:"column:start_time"`
	EndTime   time.Time      `gorm:"column:end_time"`
	Duration  sql.NullInt64  `gorm:"column:duration"`
	Type      sql.NullString `gorm:"column:type"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (Sleep) TableName() string {
	return "sleeps"
}

type PhysicalActivity struct {
	ActivityId sql.NullString  `gorm:"column:activity_id;primary_key"`
	ChildId    sql.NullString  `gorm:"column:child_id;index"`
	Name       sql.NullString  `gorm:"column:name"`
	StartTime  time.Time       `gorm:"column:start_time"`
	EndTime    time.Time       `gorm:"column:end_time"`
	Duration   sql.NullInt64   `gorm:"column:duration"`
	Calories   sql.NullInt64   `gorm:"column:calories"`
	Steps      sql.NullInt64   `gorm:"column:steps"`
	Distance   sql.NullFloat64 `gorm:"column:distance"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (PhysicalActivity) TableName() string {
	return "physical_activities"
}

// Environment readings belong to an institution rather than a child.
type Environment struct {
	EnvironmentId sql.NullString  `gorm:"column:environment_id;primary_key"`
	InstitutionId sql.NullString  `gorm:"column:institution_id;index"`
	Timestamp     time.Time       `gorm:"column:timestamp"`
	Climatized    sql.NullBool    `gorm:"column:climatized"`
	Temperature   sql.NullFloat64 `gorm:"column:temperature"`
	Humidity      sql.NullFloat64 `gorm:"column:humidity"`
	Local         sql.NullString  `gorm:"column:local"`
	Room          sql.NullString  `gorm:"column:room"`
	Latitude      sql.NullFloat64 `gorm:"column:latitude"`
	Longitude     sql.NullFloat64 `gorm:"column:longitude"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
}

func (Environment) TableName() string {
	return "environments"
}

var (
	BodyFatSortableFields     = []string{"timestamp", "value"}
	SleepSortableFields       = []string{"start_time", "end_time", "duration"}
	ActivitySortableFields    = []string{"start_time", "end_time", "duration", "name", "calories", "steps", "distance"}
	EnvironmentSortableFields = []string{"timestamp", "temperature", "humidity"}
)

func (s *Store) AddBodyFat(tx *gorm.DB, record BodyFat) (BodyFat, error) {
	db := s.dbOrTx(tx)
	record.BodyFatId = s.newId()
	if err := db.Create(&record).Error; err != nil {
		return BodyFat{}, err
	}
	return record, nil
}

// ListBodyFats returns the child's records most recent first unless sort
// overrides. A child with no records, including a deleted child, yields an
// empty collection.
func (s *Store) ListBodyFats(tx *gorm.DB, childId string, options validation.QueryOptions) ([]BodyFat, error) {
	db := s.dbOrTx(tx)

	records := []BodyFat{}
	err := db.Model(&BodyFat{}).
		Where("child_id = ?", childId).
		Order(orderClause(options, "timestamp DESC")).
		Offset(options.Offset()).Limit(options.Limit).
		Find(&records).Error
	if err != nil {
		return []BodyFat{}, err
	}
	return records, nil
}

func (s *Store) DeleteBodyFats(tx *gorm.DB, childId string) error {
	db := s.dbOrTx(tx)
	return db.Where("child_id = ?", childId).Delete(&BodyFat{}).Error
}

func (s *Store) AddSleep(tx *gorm.DB, record Sleep) (Sleep, error) {
	db := s.dbOrTx(tx)
	record.SleepId = s.newId()
	if err := db.Create(&record).Error; err != nil {
		return Sleep{}, err
	}
	return record, nil
}

func (s *Store) ListSleeps(tx *gorm.DB, childId string, options validation.QueryOptions) ([]Sleep, error) {
	db := s.dbOrTx(tx)

	records := []Sleep{}
	err := db.Model(&Sleep{}).
		Where("child_id = ?", childId).
		Order(orderClause(options, "start_time DESC")).
		Offset(options.Offset()).Limit(options.Limit).
		Find(&records).Error
	if err != nil {
		return []Sleep{}, err
	}
	return records, nil
}

func (s *Store) DeleteSleeps(tx *gorm.DB, childId string) error {
	db := s.dbOrTx(tx)
	return db.Where("child_id = ?", childId).Delete(&Sleep{}).Error
}

func (s *Store) AddPhysicalActivity(tx *gorm.DB, record PhysicalActivity) (PhysicalActivity, error) {
	db := s.dbOrTx(tx)
	record.ActivityId = s.newId()
	if err := db.Create(&record).Error; err != nil {
		return PhysicalActivity{}, err
	}
	return record, nil
}

func (s *Store) ListPhysicalActivities(tx *gorm.DB, childId string, options validation.QueryOptions) ([]PhysicalActivity, error) {
	db := s.dbOrTx(tx)

	records := []PhysicalActivity{}
	err := db.Model(&PhysicalActivity{}).
		Where("child_id = ?", childId).
		Order(orderClause(options, "start_time DESC")).
		Offset(options.Offset()).Limit(options.Limit).
		Find(&records).Error
	if err != nil {
		return []PhysicalActivity{}, err
	}
	return records, nil
}

func (s *Store) DeletePhysicalActivities(tx *gorm.DB, childId string) error {
	db := s.dbOrTx(tx)
	return db.Where("child_id = ?", childId).Delete(&PhysicalActivity{}).Error
}

func (s *Store) AddEnvironment(tx *gorm.DB, record Environment) (Environment, error) {
	db := s.dbOrTx(tx)
	record.EnvironmentId = s.newId()
	if err := db.Create(&record).Error; err != nil {
		return Environment{}, err
	}
	return record, nil
}

func (s *Store) ListEnvironments(tx *gorm.DB, institutionId string, options validation.QueryOptions) ([]Environment, error) {
	db := s.dbOrTx(tx)

	records := []Environment{}
	err := db.Model(&Environment{}).
		Where("institution_id = ?", institutionId).
		Order(orderClause(options, "timestamp DESC")).
		Offset(options.Offset()).Limit(options.Limit).
		Find(&records).Error
	if err != nil {
		return []Environment{}, err
	}
	return records, nil
}
