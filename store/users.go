package store

import (
	"database/sql"
	"time"

	"github.com/ecid-covid-it-support/tracking-api/validation"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserDuplicate = errors.New("username already registered")
)

// User is the closed tagged variant over the six roles: one row shape, one
// role tag, role-specific columns null for the rest.
type User struct {
	UserId        sql.NullString `gorm:"column:user_id;primary_key"`
	Username      sql.NullString `gorm:"column:username;unique_index"`
	Password      sql.NullString `gorm:"column:password"`
	Role          sql.NullString `gorm:"column:role"`
	InstitutionId sql.NullString `gorm:"column:institution_id"`

	// Child-only attributes.
	Gender      sql.NullString `gorm:"column:gender"`
	Age         sql.NullString `gorm:"column:age"`
	AgeCalcDate sql.NullString `gorm:"column:age_calc_date"`

	LastLogin *time.Time `gorm:"column:last_login"`
	LastSync  *time.Time `gorm:"column:last_sync"`
	CreatedAt time.Time  `gorm:"column:created_at"`

	Institution Institution `sql:"-"`
	Children    []User      `sql:"-"`
}

func (User) TableName() string {
	return "users"
}

var UserSortableFields = []string{"username", "gender", "age", "age_calc_date", "last_login", "last_sync", "institution_id"}

func (s *Store) AddUser(tx *gorm.DB, user User) (User, error) {
	db := s.dbOrTx(tx)

	user.UserId = s.newId()
	if err := db.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserDuplicate
		}
		return User{}, err
	}

	return user, nil
}

func (s *Store) GetUser(tx *gorm.DB, userId string, options SearchOptions) (User, error) {
	db := s.dbOrTx(tx)

	query := db.Model(&User{}).Where("user_id = ?", userId)
	query = s.applyUserScope(query, options)

	user := User{}
	res := query.First(&user)
	if res.RecordNotFound() {
		return User{}, ErrUserNotFound
	}
	if err := res.Error; err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Store) UserExists(tx *gorm.DB, userId, role string) bool {
	db := s.dbOrTx(tx)
	user := User{}
	query := db.Where("user_id = ?", userId)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	return !query.First(&user).RecordNotFound()
}

// MissingChildren returns the subset of ids with no live child record, in
// input order, for the unregistered-reference error body.
func (s *Store) MissingChildren(tx *gorm.DB, childIds []string) ([]string, error) {
	db := s.dbOrTx(tx)

	registered := []User{}
	if err := db.Select("user_id").Where("user_id in (?) AND role = ?", childIds, "child").
		Find(&registered).Error; err != nil {
		return nil, err
	}

	found := make(map[string]bool)
	for _, child := range registered {
		found[child.UserId.String] = true
	}

	missing := []string{}
	for _, id := range childIds {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Store) ListUsers(tx *gorm.DB, role string, searchOptions SearchOptions, options validation.QueryOptions) ([]User, error) {
	db := s.dbOrTx(tx)

	query := db.Model(&User{}).Where("role = ?", role)
	query = s.applyUserScope(query, searchOptions)
	query = query.Order(orderClause(options, "created_at DESC"))
	query = query.Offset(options.Offset()).Limit(options.Limit)

	users := []User{}
	if err := query.Find(&users).Error; err != nil {
		return []User{}, err
	}
	return users, nil
}

func (s *Store) applyUserScope(query *gorm.DB, options SearchOptions) *gorm.DB {
	if options.UserId != "" {
		query = query.Where("user_id = ?", options.UserId)
	}
	if options.InstitutionId != "" {
		query = query.Where("institution_id = ?", options.InstitutionId)
	}
	if options.FamilyId != "" {
		query = query.Where("user_id in (select child_id from family_children where family_id = ?)", options.FamilyId)
	}
	if options.ChildIds != nil {
		query = query.Where("user_id in (?)", options.ChildIds)
	}
	return query
}

func (s *Store) UpdateUser(tx *gorm.DB, user User) (User, error) {
	db := s.dbOrTx(tx)

	res := db.Where("user_id = ?", user.UserId.String).Model(&User{}).Updates(user).First(&user)
	if res.RecordNotFound() {
		return User{}, ErrUserNotFound
	}
	if err := res.Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserDuplicate
		}
		return User{}, err
	}

	return s.GetUser(db, user.UserId.String, SearchOptions{})
}

// DeleteUser does not cascade-clean association edges; the resolver
// tolerates dangling references by filtering them out on read.
func (s *Store) DeleteUser(tx *gorm.DB, userId string) error {
	db := s.dbOrTx(tx)

	if !s.UserExists(db, userId, "") {
		return ErrUserNotFound
	}

	return db.Where("user_id = ?", userId).Delete(&User{}).Error
}

// InstitutionOf resolves the institution a user belongs to.
func (s *Store) InstitutionOf(userId string) (string, error) {
	user, err := s.GetUser(nil, userId, SearchOptions{})
	if err != nil {
		return "", err
	}
	return user.InstitutionId.String, nil
}
