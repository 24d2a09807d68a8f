package institutions

import (
	"context"

	"github.com/ecid-covid-it-support/tracking-api/apierrors"
	"github.com/ecid-covid-it-support/tracking-api/authorization"
	"github.com/ecid-covid-it-support/tracking-api/shared"
	"github.com/ecid-covid-it-support/tracking-api/store"
	"github.com/ecid-covid-it-support/tracking-api/validation"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

type Service interface {
	AddInstitution(ctx context.Context, request InstitutionTransport) (store.Institution, error)
	GetInstitution(ctx context.Context, institutionId string) (store.Institution, error)
	ListInstitutions(ctx context.Context, options validation.QueryOptions) ([]store.Institution, error)
	UpdateInstitution(ctx context.Context, request InstitutionTransport) (store.Institution, error)
	DeleteInstitution(ctx context.Context, institutionId string) error
}

type InstitutionService struct {
	Store interface {
		AddInstitution(tx *gorm.DB, institution store.Institution) (store.Institution, error)
		GetInstitution(tx *gorm.DB, institutionId string) (store.Institution, error)
		ListInstitutions(tx *gorm.DB, options validation.QueryOptions) ([]store.Institution, error)
		UpdateInstitution(tx *gorm.DB, institution store.Institution) (store.Institution, error)
		DeleteInstitution(tx *gorm.DB, institutionId string) error
	} `inject:""`
	Engine *authorization.Engine `inject:""`
	Logger *shared.Logger        `inject:""`
}

func (s *InstitutionService) AddInstitution(ctx context.Context, request InstitutionTransport) (store.Institution, error) {
	actor := authorization.ActorFromContext(ctx)
	if err := s.Engine.Decide(actor, authorization.ActionCreate, authorization.Resource{Type: authorization.ResourceInstitution}); err != nil {
		return store.Institution{}, err
	}

	if request.Name == nil || *request.Name == "" {
		return store.Institution{}, apierrors.NewRequiredFields("name")
	}
	if request.Type == nil || *request.Type == "" {
		return store.Institution{}, apierrors.NewRequiredFields("type")
	}

	institution, err := s.Store.AddInstitution(nil, transportToStore(request))
	if err != nil {
		return store.Institution{}, mapStoreError(err, "failed to add institution")
	}
	return institution, nil
}

func (s *InstitutionService) GetInstitution(ctx context.Context, institutionId string) (store.Institution, error) {
	actor := authorization.ActorFromContext(ctx)
	resource := authorization.Resource{Type: authorization.ResourceInstitution, Id: institutionId}
	if err := s.Engine.Decide(actor, authorization.ActionReadOne, resource); err != nil {
		return store.Institution{}, err
	}

	institution, err := s.Store.GetInstitution(nil, institutionId)
	if err != nil {
		return store.Institution{}, mapStoreError(err, "failed to get institution")
	}
	return institution, nil
}

func (s *InstitutionService) ListInstitutions(ctx context.Context, options validation.QueryOptions) ([]store.Institution, error) {
	actor := authorization.ActorFromContext(ctx)
	if err := s.Engine.Decide(actor, authorization.ActionReadCollection, authorization.Resource{Type: authorization.ResourceInstitution}); err != nil {
		return nil, err
	}

	institutions, err := s.Store.ListInstitutions(nil, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list institutions")
	}
	return institutions, nil
}

func (s *InstitutionService) UpdateInstitution(ctx context.Context, request InstitutionTransport) (store.Institution, error) {
	actor := authorization.ActorFromContext(ctx)
	resource := authorization.Resource{Type: authorization.ResourceInstitution, Id: deref(request.Id)}
	if err := s.Engine.Decide(actor, authorization.ActionUpdate, resource); err != nil {
		return store.Institution{}, err
	}

	institution, err := s.Store.UpdateInstitution(nil, transportToStore(request))
	if err != nil {
		return store.Institution{}, mapStoreError(err, "failed to update institution")
	}
	return institution, nil
}

// DeleteInstitution is idempotent: an unknown id is success-with-no-content,
// while an institution still referenced by users is a distinct conflict.
func (s *InstitutionService) DeleteInstitution(ctx context.Context, institutionId string) error {
	actor := authorization.ActorFromContext(ctx)
	resource := authorization.Resource{Type: authorization.ResourceInstitution, Id: institutionId}
	if err := s.Engine.Decide(actor, authorization.ActionDelete, resource); err != nil {
		return err
	}

	err := s.Store.DeleteInstitution(nil, institutionId)
	if errors.Cause(err) == store.ErrInstitutionNotFound {
		return nil
	}
	if err != nil {
		return mapStoreError(err, "failed to delete institution")
	}
	return nil
}

func mapStoreError(err error, message string) error {
	switch errors.Cause(err) {
	case store.ErrInstitutionNotFound:
		return apierrors.NewNotFound("Institution")
	case store.ErrInstitutionDuplicate:
		return apierrors.NewConflict("Institution")
	case store.ErrInstitutionHasUsers:
		return apierrors.ErrInstitutionHasAssociation
	}
	return errors.Wrap(err, message)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
