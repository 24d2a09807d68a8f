package groups

import (
	"context"

	"github.com/ecid-covid-it-support/tracking-api/apierrors"
	"github.com/ecid-covid-it-support/tracking-api/authorization"
	"github.com/ecid-covid-it-support/tracking-api/roles"
	"github.com/ecid-covid-it-support/tracking-api/shared"
	"github.com/ecid-covid-it-support/tracking-api/store"
	"github.com/ecid-covid-it-support/tracking-api/validation"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

type Service interface {
	AddGroup(ctx context.Context, ownerRole, ownerId string, request GroupTransport) (store.ChildrenGroup, error)
	GetGroup(ctx context.Context, ownerRole, ownerId, groupId string) (store.ChildrenGroup, error)
	ListGroups(ctx context.Context, ownerRole, ownerId string, options validation.QueryOptions) ([]store.ChildrenGroup, error)
	UpdateGroup(ctx context.Context, ownerRole, ownerId, groupId string, request GroupTransport) (store.ChildrenGroup, error)
	DeleteGroup(ctx context.Context, ownerRole, ownerId, groupId string) error
}

type GroupService struct {
	Store interface {
		AddGroup(tx *gorm.DB, group store.ChildrenGroup, childIds []string) (store.ChildrenGroup, error)
		GetGroup(tx *gorm.DB, groupId string, options store.SearchOptions) (store.ChildrenGroup, error)
		ListGroups(tx *gorm.DB, searchOptions store.SearchOptions, options validation.QueryOptions) ([]store.ChildrenGroup, error)
		UpdateGroup(tx *gorm.DB, group store.ChildrenGroup, childIds []string) (store.ChildrenGroup, error)
		DeleteGroup(tx *gorm.DB, groupId string) error
		UserExists(tx *gorm.DB, userId, role string) bool
		MissingChildren(tx *gorm.DB, childIds []string) ([]string, error)
	} `inject:""`
	Engine *authorization.Engine `inject:""`
	Logger *shared.Logger        `inject:""`
}

func (s *GroupService) AddGroup(ctx context.Context, ownerRole, ownerId string, request GroupTransport) (store.ChildrenGroup, error) {
	if err := s.authorize(ctx, authorization.ActionCreate, ownerRole, ownerId, ""); err != nil {
		return store.ChildrenGroup{}, err
	}

	if request.Name == nil || *request.Name == "" {
		return store.ChildrenGroup{}, apierrors.NewRequiredFields("name")
	}
	if len(request.ChildIds) == 0 {
		return store.ChildrenGroup{}, apierrors.NewRequiredFields("children")
	}
	if err := s.checkChildren(request.ChildIds); err != nil {
		return store.ChildrenGroup{}, err
	}

	group := transportToStore(request)
	group.OwnerId = store.DbNullString(ownerId)
	added, err := s.Store.AddGroup(nil, group, request.ChildIds)
	if err != nil {
		return store.ChildrenGroup{}, mapStoreError(err, "failed to add children group")
	}
	return added, nil
}

func (s *GroupService) GetGroup(ctx context.Context, ownerRole, ownerId, groupId string) (store.ChildrenGroup, error) {
	if err := s.authorize(ctx, authorization.ActionReadOne, ownerRole, ownerId, groupId); err != nil {
		return store.ChildrenGroup{}, err
	}

	group, err := s.Store.GetGroup(nil, groupId, store.SearchOptions{OwnerId: ownerId})
	if err != nil {
		return store.ChildrenGroup{}, mapStoreError(err, "failed to get children group")
	}
	return group, nil
}

func (s *GroupService) ListGroups(ctx context.Context, ownerRole, ownerId string, options validation.QueryOptions) ([]store.ChildrenGroup, error) {
	if err := s.authorize(ctx, authorization.ActionReadCollection, ownerRole, ownerId, ""); err != nil {
		return nil, err
	}

	// The path names the collection owner; the engine narrows non-admin
	// readers to their own collection on top of that.
	scope, err := s.Engine.ScopeFor(authorization.ActorFromContext(ctx), authorization.ResourceChildrenGroup)
	if err != nil {
		return nil, err
	}
	search := store.SearchOptions{OwnerId: ownerId}
	if !scope.All {
		search.OwnerId = scope.UserId
	}

	groups, err := s.Store.ListGroups(nil, search, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list children groups")
	}
	return groups, nil
}

func (s *GroupService) UpdateGroup(ctx context.Context, ownerRole, ownerId, groupId string, request GroupTransport) (store.ChildrenGroup, error) {
	if err := s.authorize(ctx, authorization.ActionUpdate, ownerRole, ownerId, groupId); err != nil {
		return store.ChildrenGroup{}, err
	}

	if request.ChildIds != nil {
		if err := s.checkChildren(request.ChildIds); err != nil {
			return store.ChildrenGroup{}, err
		}
	}
	// Guard the owner scope before touching the row; updates address the
	// group through the owner's collection only.
	if _, err := s.Store.GetGroup(nil, groupId, store.SearchOptions{OwnerId: ownerId}); err != nil {
		return store.ChildrenGroup{}, mapStoreError(err, "failed to update children group")
	}

	group := transportToStore(request)
	group.GroupId = store.DbNullString(groupId)
	updated, err := s.Store.UpdateGroup(nil, group, request.ChildIds)
	if err != nil {
		return store.ChildrenGroup{}, mapStoreError(err, "failed to update children group")
	}
	return updated, nil
}

// DeleteGroup removes the group and its membership edges only; member
// children are left untouched. Unknown ids succeed with no content.
func (s *GroupService) DeleteGroup(ctx context.Context, ownerRole, ownerId, groupId string) error {
	if err := s.authorize(ctx, authorization.ActionDelete, ownerRole, ownerId, groupId); err != nil {
		return err
	}

	if _, err := s.Store.GetGroup(nil, groupId, store.SearchOptions{OwnerId: ownerId}); err != nil {
		if errors.Cause(err) == store.ErrGroupNotFound {
			return nil
		}
		return errors.Wrap(err, "failed to delete children group")
	}

	err := s.Store.DeleteGroup(nil, groupId)
	if errors.Cause(err) == store.ErrGroupNotFound {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to delete children group")
	}
	return nil
}

// authorize resolves the collection owner first: routing groups under an
// unknown educator or health professional is absence, not denial.
func (s *GroupService) authorize(ctx context.Context, action authorization.Action, ownerRole, ownerId, groupId string) error {
	actor := authorization.ActorFromContext(ctx)
	resource := authorization.Resource{Type: authorization.ResourceChildrenGroup, Id: groupId, OwnerId: ownerId}
	if err := s.Engine.Decide(actor, action, resource); err != nil {
		return err
	}
	if !s.Store.UserExists(nil, ownerId, ownerRole) {
		return apierrors.NewNotFound(ownerTitle(ownerRole))
	}
	return nil
}

func (s *GroupService) checkChildren(childIds []string) error {
	if err := validation.CheckIds(childIds...); err != nil {
		return err
	}
	missing, err := s.Store.MissingChildren(nil, childIds)
	if err != nil {
		return errors.Wrap(err, "failed to check children")
	}
	if len(missing) > 0 {
		return apierrors.NewChildrenNotRegistered(missing...)
	}
	return nil
}

func mapStoreError(err error, message string) error {
	switch errors.Cause(err) {
	case store.ErrGroupNotFound:
		return apierrors.NewNotFound("Children Group")
	case store.ErrGroupDuplicate:
		return apierrors.NewConflict("Children Group")
	}
	return errors.Wrap(err, message)
}

func ownerTitle(ownerRole string) string {
	if ownerRole == roles.ROLE_HEALTH_PROFESSIONAL {
		return "Health Professional"
	}
	return "Educator"
}
