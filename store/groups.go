package store

import (
	"database/sql"
	"time"

	"github.com/ecid-covid-it-support/tracking-api/validation"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

var (
	ErrGroupNotFound  = errors.New("children group not found")
	ErrGroupDuplicate = errors.New("children group name already registered for this owner")
)

// ChildrenGroup belongs to exactly one educator or health professional.
// Children enter through group_children edges and may belong to multiple
// groups across different owners.
type ChildrenGroup struct {
	GroupId     sql.NullString `gorm:"column:group_id;primary_key"`
	OwnerId     sql.NullString `gorm:"column:owner_id;unique_index:idx_owner_name"`
	Name        sql.NullString `gorm:"column:name;unique_index:idx_owner_name"`
	SchoolClass sql.NullString `gorm:"column:school_class"`
	CreatedAt   time.Time      `gorm:"column:created_at"`

	Children []User `sql:"-"`
}

func (ChildrenGroup) TableName() string {
	return "children_groups"
}

type GroupChild struct {
	EdgeId  int64          `gorm:"column:edge_id;primary_key;auto_increment"`
	GroupId sql.NullString `gorm:"column:group_id"`
	ChildId sql.NullString `gorm:"column:child_id"`
}

func (GroupChild) TableName() string {
	return "group_children"
}

var GroupSortableFields = []string{"name", "school_class"}

func (s *Store) AddGroup(tx *gorm.DB, group ChildrenGroup, childIds []string) (ChildrenGroup, error) {
	db := s.dbOrTx(tx)

	group.GroupId = s.newId()
	if err := db.Create(&group).Error; err != nil {
		if isUniqueViolation(err) {
			return ChildrenGroup{}, ErrGroupDuplicate
		}
		return ChildrenGroup{}, err
	}

	if err := s.SetGroupChildren(db, group.GroupId.String, childIds); err != nil {
		return ChildrenGroup{}, err
	}

	return s.GetGroup(db, group.GroupId.String, SearchOptions{})
}

func (s *Store) SetGroupChildren(tx *gorm.DB, groupId string, childIds []string) error {
	db := s.dbOrTx(tx)

	if err := db.Where("group_id = ?", groupId).Delete(&GroupChild{}).Error; err != nil {
		return err
	}
	for _, childId := range childIds {
		edge := GroupChild{
			GroupId: DbNullString(groupId),
			ChildId: DbNullString(childId),
		}
		if err := db.Create(&edge).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetGroup(tx *gorm.DB, groupId string, options SearchOptions) (ChildrenGroup, error) {
	db := s.dbOrTx(tx)

	query := db.Model(&ChildrenGroup{}).Where("group_id = ?", groupId)
	if options.OwnerId != "" {
		query = query.Where("owner_id = ?", options.OwnerId)
	}

	group := ChildrenGroup{}
	res := query.First(&group)
	if res.RecordNotFound() {
		return ChildrenGroup{}, ErrGroupNotFound
	}
	if err := res.Error; err != nil {
		return ChildrenGroup{}, err
	}

	children, err := s.childrenOfGroup(db, groupId)
	if err != nil {
		return ChildrenGroup{}, err
	}
	group.Children = children
	return group, nil
}

func (s *Store) ListGroups(tx *gorm.DB, searchOptions SearchOptions, options validation.QueryOptions) ([]ChildrenGroup, error) {
	db := s.dbOrTx(tx)

	query := db.Model(&ChildrenGroup{})
	if searchOptions.OwnerId != "" {
		query = query.Where("owner_id = ?", searchOptions.OwnerId)
	}
	query = query.Order(orderClause(options, "created_at DESC"))
	query = query.Offset(options.Offset()).Limit(options.Limit)

	groups := []ChildrenGroup{}
	if err := query.Find(&groups).Error; err != nil {
		return []ChildrenGroup{}, err
	}

	for i := range groups {
		children, err := s.childrenOfGroup(db, groups[i].GroupId.String)
		if err != nil {
			return []ChildrenGroup{}, err
		}
		groups[i].Children = children
	}
	return groups, nil
}

func (s *Store) UpdateGroup(tx *gorm.DB, group ChildrenGroup, childIds []string) (ChildrenGroup, error) {
	db := s.dbOrTx(tx)

	res := db.Where("group_id = ?", group.GroupId.String).Model(&ChildrenGroup{}).Updates(group).First(&group)
	if res.RecordNotFound() {
		return ChildrenGroup{}, ErrGroupNotFound
	}
	if err := res.Error; err != nil {
		if isUniqueViolation(err) {
			return ChildrenGroup{}, ErrGroupDuplicate
		}
		return ChildrenGroup{}, err
	}

	if childIds != nil {
		if err := s.SetGroupChildren(db, group.GroupId.String, childIds); err != nil {
			return ChildrenGroup{}, err
		}
	}

	return s.GetGroup(db, group.GroupId.String, SearchOptions{})
}

// DeleteGroup removes the group and its edges; deleting a group never
// deletes children.
func (s *Store) DeleteGroup(tx *gorm.DB, groupId string) error {
	db := s.dbOrTx(tx)

	group := ChildrenGroup{}
	if db.Where("group_id = ?", groupId).First(&group).RecordNotFound() {
		return ErrGroupNotFound
	}

	if err := db.Where("group_id = ?", groupId).Delete(&GroupChild{}).Error; err != nil {
		return err
	}
	return db.Where("group_id = ?", groupId).Delete(&ChildrenGroup{}).Error
}

// childrenOfGroup keeps group-internal insertion order (edge rowid) and
// drops edges whose child has been deleted.
func (s *Store) childrenOfGroup(db *gorm.DB, groupId string) ([]User, error) {
	children := []User{}
	err := db.Model(&User{}).
		Joins("join group_children on group_children.child_id = users.user_id").
		Where("group_children.group_id = ? AND users.role = ?", groupId, "child").
		Order("group_children.edge_id ASC").
		Find(&children).Error
	if err != nil {
		return []User{}, err
	}
	return children, nil
}

// Relationship graph resolver queries. Each call is snapshot-consistent on
// its own; callers must not assume consistency across calls.

func (s *Store) GroupsOwnedBy(ownerId string) ([]string, error) {
	groups := []ChildrenGroup{}
	if err := s.Db.Select("group_id").Where("owner_id = ?", ownerId).Find(&groups).Error; err != nil {
		return nil, err
	}
	groupIds := make([]string, 0, len(groups))
	for _, g := range groups {
		groupIds = append(groupIds, g.GroupId.String)
	}
	return groupIds, nil
}

func (s *Store) ChildrenOf(groupId string) ([]string, error) {
	children, err := s.childrenOfGroup(s.Db, groupId)
	if err != nil {
		return nil, err
	}
	childIds := make([]string, 0, len(children))
	for _, c := range children {
		childIds = append(childIds, c.UserId.String)
	}
	return childIds, nil
}

func (s *Store) IsChildInAnyGroupOf(childId, ownerId string) (bool, error) {
	var count int
	err := s.Db.Model(&User{}).
		Joins("join group_children on group_children.child_id = users.user_id").
		Joins("join children_groups on children_groups.group_id = group_children.group_id").
		Where("children_groups.owner_id = ? AND group_children.child_id = ? AND users.role = ?", ownerId, childId, "child").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
