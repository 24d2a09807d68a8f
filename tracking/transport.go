package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ecid-covid-it-support/tracking-api/apierrors"
	"github.com/ecid-covid-it-support/tracking-api/shared"
	"github.com/ecid-covid-it-support/tracking-api/store"
	"github.com/ecid-covid-it-support/tracking-api/validation"

	"github.com/araddon/dateparse"
	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

var (
	ErrBadRouting = errors.New("inconsistent mapping between route and handler (programmer error)")
)

type BodyFatTransport struct {
	Id        *string  `json:"id,omitempty"`
	ChildId   *string  `json:"child_id,omitempty"`
	Timestamp *string  `json:"timestamp,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Unit      *string  `json:"unit,omitempty"`
}

type SleepTransport struct {
	Id        *string `json:"id,omitempty"`
	ChildId   *string `json:"child_id,omitempty"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
	Duration  *int64  `json:"duration,omitempty"`
	Type      *string `json:"type,omitempty"`
}

type ActivityTransport struct {
	Id        *string  `json:"id,omitempty"`
	ChildId   *string  `json:"child_id,omitempty"`
	Name      *string  `json:"name,omitempty"`
	StartTime *string  `json:"start_time,omitempty"`
	EndTime   *string  `json:"end_time,omitempty"`
	Duration  *int64   `json:"duration,omitempty"`
	Calories  *int64   `json:"calories,omitempty"`
	Steps     *int64   `json:"steps,omitempty"`
	Distance  *float64 `json:"distance,omitempty"`
}

type EnvironmentTransport struct {
	Id            *string  `json:"id,omitempty"`
	InstitutionId *string  `json:"institution_id,omitempty"`
	Timestamp     *string  `json:"timestamp,omitempty"`
	Climatized    *bool    `json:"climatized,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Local         *string  `json:"local,omitempty"`
	Room          *string  `json:"room,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
}

type childCollectionRequest struct {
	ChildId string
	Options validation.QueryOptions
}

type addBodyFatRequest struct {
	ChildId   string
	Transport BodyFatTransport
}

type addSleepRequest struct {
	ChildId   string
	Transport SleepTransport
}

type addActivityRequest struct {
	ChildId   string
	Transport ActivityTransport
}

type environmentCollectionRequest struct {
	InstitutionId string
	Options       validation.QueryOptions
}

type addEnvironmentRequest struct {
	InstitutionId string
	Transport     EnvironmentTransport
}

type HandlerFactory struct {
	Service Service `inject:""`
}

func (h *HandlerFactory) AddBodyFat(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeAddBodyFatEndpoint(h.Service), decodeAddBodyFatRequest, shared.EncodeResponse201, opts...)
}

func (h *HandlerFactory) ListBodyFats(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeListBodyFatsEndpoint(h.Service), decodeChildCollectionRequest(store.BodyFatSortableFields), shared.EncodeResponse200, opts...)
}

func (h *HandlerFactory) DeleteBodyFats(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeDeleteBodyFatsEndpoint(h.Service), decodeChildCollectionRequest(nil), shared.EncodeResponse204, opts...)
}

func (h *HandlerFactory) AddSleep(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeAddSleepEndpoint(h.Service), decodeAddSleepRequest, shared.EncodeResponse201, opts...)
}

func (h *HandlerFactory) ListSleeps(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeListSleepsEndpoint(h.Service), decodeChildCollectionRequest(store.SleepSortableFields), shared.EncodeResponse200, opts...)
}

func (h *HandlerFactory) DeleteSleeps(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeDeleteSleepsEndpoint(h.Service), decodeChildCollectionRequest(nil), shared.EncodeResponse204, opts...)
}

func (h *HandlerFactory) AddPhysicalActivity(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeAddActivityEndpoint(h.Service), decodeAddActivityRequest, shared.EncodeResponse201, opts...)
}

func (h *HandlerFactory) ListPhysicalActivities(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeListActivitiesEndpoint(h.Service), decodeChildCollectionRequest(store.ActivitySortableFields), shared.EncodeResponse200, opts...)
}

func (h *HandlerFactory) DeletePhysicalActivities(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeDeleteActivitiesEndpoint(h.Service), decodeChildCollectionRequest(nil), shared.EncodeResponse204, opts...)
}

func (h *HandlerFactory) AddEnvironment(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeAddEnvironmentEndpoint(h.Service), decodeAddEnvironmentRequest, shared.EncodeResponse201, opts...)
}

func (h *HandlerFactory) ListEnvironments(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(makeListEnvironmentsEndpoint(h.Service), decodeEnvironmentCollectionRequest, shared.EncodeResponse200, opts...)
}

func makeAddBodyFatEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(addBodyFatRequest)
		record, err := svc.AddBodyFat(ctx, req.ChildId, req.Transport)
		if err != nil {
			return nil, err
		}
		return bodyFatToTransport(record), nil
	}
}

func makeListBodyFatsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(childCollectionRequest)
		records, err := svc.ListBodyFats(ctx, req.ChildId, req.Options)
		if err != nil {
			return nil, err
		}
		ret := []BodyFatTransport{}
		for _, record := range records {
			ret = append(ret, bodyFatToTransport(record))
		}
		return ret, nil
	}
}

func makeDeleteBodyFatsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(childCollectionRequest)
		return nil, svc.DeleteBodyFats(ctx, req.ChildId)
	}
}

func makeAddSleepEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(addSleepRequest)
		record, err := svc.AddSleep(ctx, req.ChildId, req.Transport)
		if err != nil {
			return nil, err
		}
		return sleepToTransport(record), nil
	}
}

func makeListSleepsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(childCollectionRequest)
		records, err := svc.ListSleeps(ctx, req.ChildId, req.Options)
		if err != nil {
			return nil, err
		}
		ret := []SleepTransport{}
		for _, record := range records {
			ret = append(ret, sleepToTransport(record))
		}
		return ret, nil
	}
}

func makeDeleteSleepsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(childCollectionRequest)
		return nil, svc.DeleteSleeps(ctx, req.ChildId)
	}
}

func makeAddActivityEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(addActivityRequest)
		record, err := svc.AddPhysicalActivity(ctx, req.ChildId, req.Transport)
		if err != nil {
			return nil, err
		}
		return activityToTransport(record), nil
	}
}

func makeListActivitiesEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(childCollectionRequest)
		records, err := svc.ListPhysicalActivities(ctx, req.ChildId, req.Options)
		if err != nil {
			return nil, err
		}
		ret := []ActivityTransport{}
		for _, record := range records {
			ret = append(ret, activityToTransport(record))
		}
		return ret, nil
	}
}

func makeDeleteActivitiesEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(childCollectionRequest)
		return nil, svc.DeletePhysicalActivities(ctx, req.ChildId)
	}
}

func makeAddEnvironmentEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(addEnvironmentRequest)
		record, err := svc.AddEnvironment(ctx, req.InstitutionId, req.Transport)
		if err != nil {
			return nil, err
		}
		return environmentToTransport(record), nil
	}
}

func makeListEnvironmentsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(environmentCollectionRequest)
		records, err := svc.ListEnvironments(ctx, req.InstitutionId, req.Options)
		if err != nil {
			return nil, err
		}
		ret := []EnvironmentTransport{}
		for _, record := range records {
			ret = append(ret, environmentToTransport(record))
		}
		return ret, nil
	}
}

func childIdFromPath(r *http.Request) (string, error) {
	vars := mux.Vars(r)
	childId, ok := vars["childId"]
	if !ok {
		return "", ErrBadRouting
	}
	if err := validation.CheckIds(childId); err != nil {
		return "", err
	}
	return childId, nil
}

func decodeChildCollectionRequest(sortableFields []string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (interface{}, error) {
		childId, err := childIdFromPath(r)
		if err != nil {
			return nil, err
		}
		return childCollectionRequest{
			ChildId: childId,
			Options: validation.ParseQueryOptions(r, sortableFields...),
		}, nil
	}
}

func decodeAddBodyFatRequest(_ context.Context, r *http.Request) (interface{}, error) {
	childId, err := childIdFromPath(r)
	if err != nil {
		return nil, err
	}
	var request BodyFatTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	return addBodyFatRequest{ChildId: childId, Transport: request}, nil
}

func decodeAddSleepRequest(_ context.Context, r *http.Request) (interface{}, error) {
	childId, err := childIdFromPath(r)
	if err != nil {
		return nil, err
	}
	var request SleepTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	return addSleepRequest{ChildId: childId, Transport: request}, nil
}

func decodeAddActivityRequest(_ context.Context, r *http.Request) (interface{}, error) {
	childId, err := childIdFromPath(r)
	if err != nil {
		return nil, err
	}
	var request ActivityTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	return addActivityRequest{ChildId: childId, Transport: request}, nil
}

func institutionIdFromPath(r *http.Request) (string, error) {
	vars := mux.Vars(r)
	institutionId, ok := vars["institutionId"]
	if !ok {
		return "", ErrBadRouting
	}
	if err := validation.CheckIds(institutionId); err != nil {
		return "", err
	}
	return institutionId, nil
}

func decodeAddEnvironmentRequest(_ context.Context, r *http.Request) (interface{}, error) {
	institutionId, err := institutionIdFromPath(r)
	if err != nil {
		return nil, err
	}
	var request EnvironmentTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	return addEnvironmentRequest{InstitutionId: institutionId, Transport: request}, nil
}

func decodeEnvironmentCollectionRequest(_ context.Context, r *http.Request) (interface{}, error) {
	institutionId, err := institutionIdFromPath(r)
	if err != nil {
		return nil, err
	}
	return environmentCollectionRequest{
		InstitutionId: institutionId,
		Options:       validation.ParseQueryOptions(r, store.EnvironmentSortableFields...),
	}, nil
}

// EncodeError delegates to the shared taxonomy mapper.
var EncodeError = apierrors.EncodeError

func bodyFatToStore(childId string, request BodyFatTransport) (store.BodyFat, error) {
	if request.Timestamp == nil {
		return store.BodyFat{}, apierrors.NewRequiredFields("timestamp")
	}
	if request.Value == nil {
		return store.BodyFat{}, apierrors.NewRequiredFields("value")
	}
	timestamp, err := parseTime(*request.Timestamp)
	if err != nil {
		return store.BodyFat{}, err
	}

	unit := "%"
	if request.Unit != nil && *request.Unit != "" {
		unit = *request.Unit
	}
	return store.BodyFat{
		ChildId:   store.DbNullString(childId),
		Timestamp: timestamp,
		Value:     store.DbNullFloat64(request.Value),
		Unit:      store.DbNullString(unit),
	}, nil
}

func sleepToStore(childId string, request SleepTransport) (store.Sleep, error) {
	if request.StartTime == nil || request.EndTime == nil {
		return store.Sleep{}, apierrors.NewRequiredFields("start_time", "end_time")
	}
	startTime, err := parseTime(*request.StartTime)
	if err != nil {
		return store.Sleep{}, err
	}
	endTime, err := parseTime(*request.EndTime)
	if err != nil {
		return store.Sleep{}, err
	}

	duration := request.Duration
	if duration == nil {
		millis := endTime.Sub(startTime).Milliseconds()
		duration = &millis
	}
	return store.Sleep{
		ChildId:   store.DbNullString(childId),
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  store.DbNullInt64(duration),
		Type:      store.DbNullString(deref(request.Type)),
	}, nil
}

func activityToStore(childId string, request ActivityTransport) (store.PhysicalActivity, error) {
	if request.Name == nil || *request.Name == "" {
		return store.PhysicalActivity{}, apierrors.NewRequiredFields("name")
	}
	if request.StartTime == nil || request.EndTime == nil {
		return store.PhysicalActivity{}, apierrors.NewRequiredFields("start_time", "end_time")
	}
	startTime, err := parseTime(*request.StartTime)
	if err != nil {
		return store.PhysicalActivity{}, err
	}
	endTime, err := parseTime(*request.EndTime)
	if err != nil {
		return store.PhysicalActivity{}, err
	}

	duration := request.Duration
	if duration == nil {
		millis := endTime.Sub(startTime).Milliseconds()
		duration = &millis
	}
	return store.PhysicalActivity{
		ChildId:   store.DbNullString(childId),
		Name:      store.DbNullString(*request.Name),
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  store.DbNullInt64(duration),
		Calories:  store.DbNullInt64(request.Calories),
		Steps:     store.DbNullInt64(request.Steps),
		Distance:  store.DbNullFloat64(request.Distance),
	}, nil
}

func environmentToStore(institutionId string, request EnvironmentTransport) (store.Environment, error) {
	if request.Timestamp == nil {
		return store.Environment{}, apierrors.NewRequiredFields("timestamp")
	}
	timestamp, err := parseTime(*request.Timestamp)
	if err != nil {
		return store.Environment{}, err
	}

	return store.Environment{
		InstitutionId: store.DbNullString(institutionId),
		Timestamp:     timestamp,
		Climatized:    store.DbNullBool(request.Climatized),
		Temperature:   store.DbNullFloat64(request.Temperature),
		Humidity:      store.DbNullFloat64(request.Humidity),
		Local:         store.DbNullString(deref(request.Local)),
		Room:          store.DbNullString(deref(request.Room)),
		Latitude:      store.DbNullFloat64(request.Latitude),
		Longitude:     store.DbNullFloat64(request.Longitude),
	}, nil
}

func bodyFatToTransport(record store.BodyFat) BodyFatTransport {
	return BodyFatTransport{
		Id:        strPtr(record.BodyFatId),
		ChildId:   strPtr(record.ChildId),
		Timestamp: timePtr(record.Timestamp),
		Value:     floatPtr(record.Value),
		Unit:      strPtr(record.Unit),
	}
}

func sleepToTransport(record store.Sleep) SleepTransport {
	return SleepTransport{
		Id:        strPtr(record.SleepId),
		ChildId:   strPtr(record.ChildId),
		StartTime: timePtr(record.StartTime),
		EndTime:   timePtr(record.EndTime),
		Duration:  intPtr(record.Duration),
		Type:      strPtr(record.Type),
	}
}

func activityToTransport(record store.PhysicalActivity) ActivityTransport {
	return ActivityTransport{
		Id:        strPtr(record.ActivityId),
		ChildId:   strPtr(record.ChildId),
		Name:      strPtr(record.Name),
		StartTime: timePtr(record.StartTime),
		EndTime:   timePtr(record.EndTime),
		Duration:  intPtr(record.Duration),
		Calories:  intPtr(record.Calories),
		Steps:     intPtr(record.Steps),
		Distance:  floatPtr(record.Distance),
	}
}

func environmentToTransport(record store.Environment) EnvironmentTransport {
	ret := EnvironmentTransport{
		Id:            strPtr(record.EnvironmentId),
		InstitutionId: strPtr(record.InstitutionId),
		Timestamp:     timePtr(record.Timestamp),
		Temperature:   floatPtr(record.Temperature),
		Humidity:      floatPtr(record.Humidity),
		Local:         strPtr(record.Local),
		Room:          strPtr(record.Room),
		Latitude:      floatPtr(record.Latitude),
		Longitude:     floatPtr(record.Longitude),
	}
	if record.Climatized.Valid {
		climatized := record.Climatized.Bool
		ret.Climatized = &climatized
	}
	return ret
}

func parseTime(value string) (time.Time, error) {
	parsed, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return time.Time{}, apierrors.NewValidationError(fmt.Sprintf("date %s is not a valid date", value))
	}
	return parsed, nil
}

func timePtr(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
