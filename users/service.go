package users

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
	CreateUser(ctx context.Context, role string, request UserTransport) (store.User, error)
	GetUser(ctx context.Context, role, userId string) (store.User, error)
	ListUsers(ctx context.Context, role string, options validation.QueryOptions) ([]store.User, error)
	UpdateUser(ctx context.Context, role, userId string, request UserTransport) (store.User, error)
	DeleteUser(ctx context.Context, role, userId string) error
}

type UserService struct {
	Store interface {
		Tx() *gorm.DB
		AddUser(tx *gorm.DB, user store.User) (store.User, error)
		GetUser(tx *gorm.DB, userId string, options store.SearchOptions) (store.User, error)
		ListUsers(tx *gorm.DB, role string, searchOptions store.SearchOptions, options validation.QueryOptions) ([]store.User, error)
		UpdateUser(tx *gorm.DB, user store.User) (store.User, error)
		DeleteUser(tx *gorm.DB, userId string) error
		UserExists(tx *gorm.DB, userId, role string) bool
		MissingChildren(tx *gorm.DB, childIds []string) ([]string, error)
		SetFamilyChildren(tx *gorm.DB, familyId string, childIds []string) error
		ChildrenOfFamily(tx *gorm.DB, familyId string) ([]store.User, error)
		GetInstitution(tx *gorm.DB, institutionId string) (store.Institution, error)
		InstitutionExists(tx *gorm.DB, institutionId string) bool
	} `inject:""`
	Engine *authorization.Engine `inject:""`
	Logger *shared.Logger        `inject:""`
}

func (s *UserService) CreateUser(ctx context.Context, role string, request UserTransport) (store.User, error) {
	actor := authorization.ActorFromContext(ctx)
	if err := s.Engine.Decide(actor, authorization.ActionCreate, resourceFor(role, "")); err != nil {
		return store.User{}, err
	}

	if request.Username == nil || *request.Username == "" {
		return store.User{}, apierrors.NewRequiredFields("username")
	}
	if request.Password == nil || *request.Password == "" {
		return store.User{}, apierrors.NewRequiredFields("password")
	}
	if err := s.checkInstitution(request.InstitutionId, true); err != nil {
		return store.User{}, err
	}
	if role == roles.ROLE_FAMILY {
		if len(request.ChildIds) == 0 {
			return store.User{}, apierrors.NewRequiredFields("children")
		}
		if err := s.checkChildren(request.ChildIds); err != nil {
			return store.User{}, err
		}
	}

	tx := s.Store.Tx()

	user, err := s.Store.AddUser(tx, transportToStore(role, request))
	if err != nil {
		tx.Rollback()
		return store.User{}, s.mapStoreError(role, err, "failed to add user")
	}
	if role == roles.ROLE_FAMILY {
		if err := s.Store.SetFamilyChildren(tx, user.UserId.String, request.ChildIds); err != nil {
			tx.Rollback()
			return store.User{}, errors.Wrap(err, "failed to set family children")
		}
	}
	if err := tx.Commit().Error; err != nil {
		return store.User{}, errors.Wrap(err, "failed to commit user")
	}

	return s.decorate(user)
}

func (s *UserService) GetUser(ctx context.Context, role, userId string) (store.User, error) {
	actor := authorization.ActorFromContext(ctx)
	if err := s.Engine.Decide(actor, authorization.ActionReadOne, resourceFor(role, userId)); err != nil {
		return store.User{}, err
	}

	user, err := s.Store.GetUser(nil, userId, store.SearchOptions{})
	if err != nil {
		return store.User{}, s.mapStoreError(role, err, "failed to get user")
	}
	// The collection path fixes the role; an id living under another role
	// is absent here.
	if user.Role.String != role {
		return store.User{}, apierrors.NewNotFound(roleTitle(role))
	}

	return s.decorate(user)
}

func (s *UserService) ListUsers(ctx context.Context, role string, options validation.QueryOptions) ([]store.User, error) {
	actor := authorization.ActorFromContext(ctx)
	if err := s.Engine.Decide(actor, authorization.ActionReadCollection, resourceFor(role, "")); err != nil {
		return nil, err
	}

	scope, err := s.Engine.ScopeFor(actor, resourceTypeFor(role))
	if err != nil {
		return nil, err
	}

	users, err := s.Store.ListUsers(nil, role, searchOptionsFor(scope), options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}

	ret := make([]store.User, 0, len(users))
	for _, user := range users {
		decorated, err := s.decorate(user)
		if err != nil {
			return nil, err
		}
		ret = append(ret, decorated)
	}
	return ret, nil
}

func (s *UserService) UpdateUser(ctx context.Context, role, userId string, request UserTransport) (store.User, error) {
	actor := authorization.ActorFromContext(ctx)
	if err := s.Engine.Decide(actor, authorization.ActionUpdate, resourceFor(role, userId)); err != nil {
		return store.User{}, err
	}

	if err := s.checkInstitution(request.InstitutionId, false); err != nil {
		return store.User{}, err
	}
	if role == roles.ROLE_FAMILY && request.ChildIds != nil {
		if err := s.checkChildren(request.ChildIds); err != nil {
			return store.User{}, err
		}
	}
	if !s.Store.UserExists(nil, userId, role) {
		return store.User{}, apierrors.NewNotFound(roleTitle(role))
	}

	tx := s.Store.Tx()

	fields := transportToStore(role, request)
	fields.UserId = store.DbNullString(userId)
	user, err := s.Store.UpdateUser(tx, fields)
	if err != nil {
		tx.Rollback()
		return store.User{}, s.mapStoreError(role, err, "failed to update user")
	}
	if role == roles.ROLE_FAMILY && request.ChildIds != nil {
		if err := s.Store.SetFamilyChildren(tx, userId, request.ChildIds); err != nil {
			tx.Rollback()
			return store.User{}, errors.Wrap(err, "failed to set family children")
		}
	}
	if err := tx.Commit().Error; err != nil {
		return store.User{}, errors.Wrap(err, "failed to commit user update")
	}

	return s.decorate(user)
}

// DeleteUser is idempotent: an id unknown under this role's collection is
// success-with-no-content.
func (s *UserService) DeleteUser(ctx context.Context, role, userId string) error {
	actor := authorization.ActorFromContext(ctx)
	if err := s.Engine.Decide(actor, authorization.ActionDelete, resourceFor(role, userId)); err != nil {
		return err
	}

	user, err := s.Store.GetUser(nil, userId, store.SearchOptions{})
	if errors.Cause(err) == store.ErrUserNotFound {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to delete user")
	}
	if user.Role.String != role {
		return nil
	}

	err = s.Store.DeleteUser(nil, userId)
	if errors.Cause(err) == store.ErrUserNotFound {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to delete user")
	}
	return nil
}

// decorate loads the user's institution, and for families the current
// child list with each child's institution. Dangling references resolve to
// an absent association, not an error.
func (s *UserService) decorate(user store.User) (store.User, error) {
	if user.InstitutionId.Valid {
		institution, err := s.Store.GetInstitution(nil, user.InstitutionId.String)
		if err != nil && errors.Cause(err) != store.ErrInstitutionNotFound {
			return store.User{}, errors.Wrap(err, "failed to load institution")
		}
		user.Institution = institution
	}

	if user.Role.String == roles.ROLE_FAMILY {
		children, err := s.Store.ChildrenOfFamily(nil, user.UserId.String)
		if err != nil {
			return store.User{}, errors.Wrap(err, "failed to load family children")
		}
		for i, child := range children {
			if !child.InstitutionId.Valid {
				continue
			}
			institution, err := s.Store.GetInstitution(nil, child.InstitutionId.String)
			if err != nil && errors.Cause(err) != store.ErrInstitutionNotFound {
				return store.User{}, errors.Wrap(err, "failed to load institution")
			}
			children[i].Institution = institution
		}
		user.Children = children
	}

	return user, nil
}

func (s *UserService) checkInstitution(institutionId *string, required bool) error {
	if institutionId == nil || *institutionId == "" {
		if required {
			return apierrors.NewRequiredFields("institution")
		}
		return nil
	}
	if err := validation.CheckIds(*institutionId); err != nil {
		return err
	}
	if !s.Store.InstitutionExists(nil, *institutionId) {
		return apierrors.ErrInstitutionNotRegistered
	}
	return nil
}

func (s *UserService) checkChildren(childIds []string) error {
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

func (s *UserService) mapStoreError(role string, err error, message string) error {
	switch errors.Cause(err) {
	case store.ErrUserNotFound:
		return apierrors.NewNotFound(roleTitle(role))
	case store.ErrUserDuplicate:
		return apierrors.NewConflict(roleTitle(role))
	}
	return errors.Wrap(err, message)
}

func resourceTypeFor(role string) authorization.ResourceType {
	if role == roles.ROLE_CHILD {
		return authorization.ResourceChild
	}
	return authorization.ResourceUser
}

func resourceFor(role, userId string) authorization.Resource {
	return authorization.Resource{Type: resourceTypeFor(role), Id: userId, Role: role}
}

func searchOptionsFor(scope authorization.Scope) store.SearchOptions {
	if scope.All {
		return store.SearchOptions{}
	}
	return store.SearchOptions{
		UserId:   scope.UserId,
		FamilyId: scope.FamilyId,
		ChildIds: scope.ChildIds,
	}
}

func roleTitle(role string) string {
	switch role {
	case roles.ROLE_CHILD:
		return "Child"
	case roles.ROLE_FAMILY:
		return "Family"
	case roles.ROLE_EDUCATOR:
		return "Educator"
	case roles.ROLE_HEALTH_PROFESSIONAL:
		return "Health Professional"
	case roles.ROLE_APPLICATION:
		return "Application"
	}
	return "User"
}
