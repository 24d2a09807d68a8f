package store

import (
	"database/sql"

	"github.com/jinzhu/gorm"
)

// FamilyChild is an edge of the family-to-child adjacency index. Edges own
// no entity state; both endpoints stay singular rows in users.
type FamilyChild struct {
	FamilyId sql.NullString `gorm:"column:family_id"`
	ChildId  sql.NullString `gorm:"column:child_id"`
}

func (FamilyChild) TableName() string {
	return "family_children"
}

// SetFamilyChildren replaces the family's child list atomically within the
// given transaction.
func (s *Store) SetFamilyChildren(tx *gorm.DB, familyId string, childIds []string) error {
	db := s.dbOrTx(tx)

	if err := db.Where("family_id = ?", familyId).Delete(&FamilyChild{}).Error; err != nil {
		return err
	}
	for _, childId := range childIds {
		edge := FamilyChild{
			FamilyId: DbNullString(familyId),
			ChildId:  DbNullString(childId),
		}
		if err := db.Create(&edge).Error; err != nil {
			return err
		}
	}
	return nil
}

// ChildrenOfFamily joins edges back to users so that edges pointing at
// deleted children are filtered out rather than surfaced as errors.
func (s *Store) ChildrenOfFamily(tx *gorm.DB, familyId string) ([]User, error) {
	db := s.dbOrTx(tx)

	children := []User{}
	err := db.Model(&User{}).
		Joins("join family_children on family_children.child_id = users.user_id").
		Where("family_children.family_id = ? AND users.role = ?", familyId, "child").
		Find(&children).Error
	if err != nil {
		return []User{}, err
	}
	return children, nil
}

// IsChildOfFamily is the family association query of the relationship
// graph resolver.
func (s *Store) IsChildOfFamily(childId, familyId string) (bool, error) {
	var count int
	err := s.Db.Model(&User{}).
		Joins("join family_children on family_children.child_id = users.user_id").
		Where("family_children.family_id = ? AND family_children.child_id = ? AND users.role = ?", familyId, childId, "child").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
