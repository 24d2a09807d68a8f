package tracking

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
	AddBodyFat(ctx context.Context, childId string, request BodyFatTransport) (store.BodyFat, error)
	ListBodyFats(ctx context.Context, childId string, options validation.QueryOptions) ([]store.BodyFat, error)
	DeleteBodyFats(ctx context.Context, childId string) error

	AddSleep(ctx context.Context, childId string, request SleepTransport) (store.Sleep, error)
	ListSleeps(ctx context.Context, childId string, options validation.QueryOptions) ([]store.Sleep, error)
	DeleteSleeps(ctx context.Context, childId string) error

	AddPhysicalActivity(ctx context.Context, childId string, request ActivityTransport) (store.PhysicalActivity, error)
	ListPhysicalActivities(ctx context.Context, childId string, options validation.QueryOptions) ([]store.PhysicalActivity, error)
	DeletePhysicalActivities(ctx context.Context, childId string) error

	AddEnvironment(ctx context.Context, institutionId string, request EnvironmentTransport) (store.Environment, error)
	ListEnvironments(ctx context.Context, institutionId string, options validation.QueryOptions) ([]store.Environment, error)
}

type TrackingService struct {
	Store interface {
		AddBodyFat(tx *gorm.DB, record store.BodyFat) (store.BodyFat, error)
		ListBodyFats(tx *gorm.DB, childId string, options validation.QueryOptions) ([]store.BodyFat, error)
		DeleteBodyFats(tx *gorm.DB, childId string) error
		AddSleep(tx *gorm.DB, record store.Sleep) (store.Sleep, error)
		ListSleeps(tx *gorm.DB, childId string, options validation.QueryOptions) ([]store.Sleep, error)
		DeleteSleeps(tx *gorm.DB, childId string) error
		AddPhysicalActivity(tx *gorm.DB, record store.PhysicalActivity) (store.PhysicalActivity, error)
		ListPhysicalActivities(tx *gorm.DB, childId string, options validation.QueryOptions) ([]store.PhysicalActivity, error)
		DeletePhysicalActivities(tx *gorm.DB, childId string) error
		AddEnvironment(tx *gorm.DB, record store.Environment) (store.Environment, error)
		ListEnvironments(tx *gorm.DB, institutionId string, options validation.QueryOptions) ([]store.Environment, error)
		UserExists(tx *gorm.DB, userId, role string) bool
		InstitutionExists(tx *gorm.DB, institutionId string) bool
	} `inject:""`
	Engine *authorization.Engine `inject:""`
	Logger *shared.Logger        `inject:""`
}

func (s *TrackingService) AddBodyFat(ctx context.Context, childId string, request BodyFatTransport) (store.BodyFat, error) {
	if err := s.authorizeWrite(ctx, authorization.ActionCreate, childId); err != nil {
		return store.BodyFat{}, err
	}

	record, err := bodyFatToStore(childId, request)
	if err != nil {
		return store.BodyFat{}, err
	}
	added, err := s.Store.AddBodyFat(nil, record)
	if err != nil {
		return store.BodyFat{}, errors.Wrap(err, "failed to add body fat")
	}
	return added, nil
}

func (s *TrackingService) ListBodyFats(ctx context.Context, childId string, options validation.QueryOptions) ([]store.BodyFat, error) {
	if err := s.authorizeRead(ctx, childId); err != nil {
		return nil, err
	}

	records, err := s.Store.ListBodyFats(nil, childId, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list body fats")
	}
	return records, nil
}

func (s *TrackingService) DeleteBodyFats(ctx context.Context, childId string) error {
	if err := s.authorizeDelete(ctx, childId); err != nil {
		return err
	}
	return errors.Wrap(s.Store.DeleteBodyFats(nil, childId), "failed to delete body fats")
}

func (s *TrackingService) AddSleep(ctx context.Context, childId string, request SleepTransport) (store.Sleep, error) {
	if err := s.authorizeWrite(ctx, authorization.ActionCreate, childId); err != nil {
		return store.Sleep{}, err
	}

	record, err := sleepToStore(childId, request)
	if err != nil {
		return store.Sleep{}, err
	}
	added, err := s.Store.AddSleep(nil, record)
	if err != nil {
		return store.Sleep{}, errors.Wrap(err, "failed to add sleep")
	}
	return added, nil
}

func (s *TrackingService) ListSleeps(ctx context.Context, childId string, options validation.QueryOptions) ([]store.Sleep, error) {
	if err := s.authorizeRead(ctx, childId); err != nil {
		return nil, err
	}

	records, err := s.Store.ListSleeps(nil, childId, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sleeps")
	}
	return records, nil
}

func (s *TrackingService) DeleteSleeps(ctx context.Context, childId string) error {
	if err := s.authorizeDelete(ctx, childId); err != nil {
		return err
	}
	return errors.Wrap(s.Store.DeleteSleeps(nil, childId), "failed to delete sleeps")
}

func (s *TrackingService) AddPhysicalActivity(ctx context.Context, childId string, request ActivityTransport) (store.PhysicalActivity, error) {
	if err := s.authorizeWrite(ctx, authorization.ActionCreate, childId); err != nil {
		return store.PhysicalActivity{}, err
	}

	record, err := activityToStore(childId, request)
	if err != nil {
		return store.PhysicalActivity{}, err
	}
	added, err := s.Store.AddPhysicalActivity(nil, record)
	if err != nil {
		return store.PhysicalActivity{}, errors.Wrap(err, "failed to add physical activity")
	}
	return added, nil
}

func (s *TrackingService) ListPhysicalActivities(ctx context.Context, childId string, options validation.QueryOptions) ([]store.PhysicalActivity, error) {
	if err := s.authorizeRead(ctx, childId); err != nil {
		return nil, err
	}

	records, err := s.Store.ListPhysicalActivities(nil, childId, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list physical activities")
	}
	return records, nil
}

func (s *TrackingService) DeletePhysicalActivities(ctx context.Context, childId string) error {
	if err := s.authorizeDelete(ctx, childId); err != nil {
		return err
	}
	return errors.Wrap(s.Store.DeletePhysicalActivities(nil, childId), "failed to delete physical activities")
}

func (s *TrackingService) AddEnvironment(ctx context.Context, institutionId string, request EnvironmentTransport) (store.Environment, error) {
	actor := authorization.ActorFromContext(ctx)
	resource := authorization.Resource{Type: authorization.ResourceEnvironment, InstitutionId: institutionId}
	if err := s.Engine.Decide(actor, authorization.ActionCreate, resource); err != nil {
		return store.Environment{}, err
	}
	if !s.Store.InstitutionExists(nil, institutionId) {
		return store.Environment{}, apierrors.ErrInstitutionNotRegistered
	}

	record, err := environmentToStore(institutionId, request)
	if err != nil {
		return store.Environment{}, err
	}
	added, err := s.Store.AddEnvironment(nil, record)
	if err != nil {
		return store.Environment{}, errors.Wrap(err, "failed to add environment")
	}
	return added, nil
}

// ListEnvironments tolerates an unknown institution: its collection is
// simply empty.
func (s *TrackingService) ListEnvironments(ctx context.Context, institutionId string, options validation.QueryOptions) ([]store.Environment, error) {
	actor := authorization.ActorFromContext(ctx)
	resource := authorization.Resource{Type: authorization.ResourceEnvironment, InstitutionId: institutionId}
	if err := s.Engine.Decide(actor, authorization.ActionReadCollection, resource); err != nil {
		return nil, err
	}

	records, err := s.Store.ListEnvironments(nil, institutionId, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list environments")
	}
	return records, nil
}

// authorizeWrite rejects records pointed at an unregistered child; the
// collection must have a live owner before it can grow.
func (s *TrackingService) authorizeWrite(ctx context.Context, action authorization.Action, childId string) error {
	actor := authorization.ActorFromContext(ctx)
	resource := authorization.Resource{Type: authorization.ResourceTracking, OwnerId: childId}
	if err := s.Engine.Decide(actor, action, resource); err != nil {
		return err
	}
	if !s.Store.UserExists(nil, childId, roles.ROLE_CHILD) {
		return apierrors.NewChildrenNotRegistered(childId)
	}
	return nil
}

// authorizeDelete skips the owner-exists check so that clearing a deleted
// child's collection stays success-with-no-content.
func (s *TrackingService) authorizeDelete(ctx context.Context, childId string) error {
	actor := authorization.ActorFromContext(ctx)
	resource := authorization.Resource{Type: authorization.ResourceTracking, OwnerId: childId}
	return s.Engine.Decide(actor, authorization.ActionDelete, resource)
}

// authorizeRead does not require the child to still exist: records that
// outlived their owner read back as an empty collection, never an error.
func (s *TrackingService) authorizeRead(ctx context.Context, childId string) error {
	actor := authorization.ActorFromContext(ctx)
	resource := authorization.Resource{Type: authorization.ResourceTracking, OwnerId: childId}
	return s.Engine.Decide(actor, authorization.ActionReadCollection, resource)
}
