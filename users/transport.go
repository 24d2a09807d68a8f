package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ecid-covid-it-support/tracking-api/apierrors"
	"github.com/ecid-covid-it-support/tracking-api/claims"
	"github.com/ecid-covid-it-support/tracking-api/institutions"
	"github.com/ecid-covid-it-support/tracking-api/roles"
	"github.com/ecid-covid-it-support/tracking-api/shared"
	"github.com/ecid-covid-it-support/tracking-api/store"
	"github.com/ecid-covid-it-support/tracking-api/validation"

	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

var (
	ErrBadRouting = errors.New("inconsistent mapping between route and handler (programmer error)")
)

type UserTransport struct {
	Id            *string `json:"id,omitempty"`
	Username      *string `json:"username,omitempty"`
	Password      *string `json:"password,omitempty"`
	InstitutionId *string `json:"institution_id,omitempty"`

	Gender      *string `json:"gender,omitempty"`
	Age         *string `json:"age,omitempty"`
	AgeCalcDate *string `json:"age_calc_date,omitempty"`

	LastLogin *time.Time `json:"last_login,omitempty"`
	LastSync  *time.Time `json:"last_sync,omitempty"`

	Institution *institutions.InstitutionTransport `json:"institution,omitempty"`
	Children    []UserTransport                    `json:"children,omitempty"`

	// ChildIds carries the family's child list on the way in; responses
	// render children as embedded objects instead.
	ChildIds []string `json:"-"`
}

// UnmarshalJSON accepts the family children list either as an array of id
// strings or as an array of objects carrying an id.
func (t *UserTransport) UnmarshalJSON(data []byte) error {
	type alias UserTransport
	aux := struct {
		Children json.RawMessage `json:"children"`
		*alias
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Children) == 0 || string(aux.Children) == "null" {
		return nil
	}

	ids := []string{}
	if err := json.Unmarshal(aux.Children, &ids); err == nil {
		t.ChildIds = ids
		return nil
	}

	children := []UserTransport{}
	if err := json.Unmarshal(aux.Children, &children); err != nil {
		return err
	}
	t.ChildIds = []string{}
	for _, child := range children {
		if child.Id != nil {
			t.ChildIds = append(t.ChildIds, *child.Id)
		}
	}
	return nil
}

type getUserRequest struct {
	Id string
}

type listUsersRequest struct {
	Options validation.QueryOptions
}

type updateUserRequest struct {
	Id        string
	Transport UserTransport
}

type HandlerFactory struct {
	Service Service `inject:""`
}

func (h *HandlerFactory) Create(role string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeCreateEndpoint(h.Service, role),
		decodeUserTransport,
		shared.EncodeResponse201,
		opts...,
	)
}

func (h *HandlerFactory) Get(role string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeGetEndpoint(h.Service, role),
		decodeGetOrDeleteRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) List(role string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeListEndpoint(h.Service, role),
		decodeListRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Update(role string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeUpdateEndpoint(h.Service, role),
		decodeUpdateRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Delete(role string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeDeleteEndpoint(h.Service, role),
		decodeGetOrDeleteRequest,
		shared.EncodeResponse204,
		opts...,
	)
}

func makeCreateEndpoint(svc Service, role string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(UserTransport)
		user, err := svc.CreateUser(ctx, role, req)
		if err != nil {
			return nil, err
		}
		return storeToTransport(user, validation.QueryOptions{}, claims.GetRole(ctx)), nil
	}
}

func makeGetEndpoint(svc Service, role string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getUserRequest)
		user, err := svc.GetUser(ctx, role, req.Id)
		if err != nil {
			return nil, err
		}
		return storeToTransport(user, validation.QueryOptions{}, claims.GetRole(ctx)), nil
	}
}

func makeListEndpoint(svc Service, role string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(listUsersRequest)
		users, err := svc.ListUsers(ctx, role, req.Options)
		if err != nil {
			return nil, err
		}

		usersRet := []UserTransport{}
		for _, user := range users {
			usersRet = append(usersRet, storeToTransport(user, req.Options, claims.GetRole(ctx)))
		}
		return usersRet, nil
	}
}

func makeUpdateEndpoint(svc Service, role string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(updateUserRequest)
		user, err := svc.UpdateUser(ctx, role, req.Id, req.Transport)
		if err != nil {
			return nil, err
		}
		return storeToTransport(user, validation.QueryOptions{}, claims.GetRole(ctx)), nil
	}
}

func makeDeleteEndpoint(svc Service, role string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getUserRequest)
		if err := svc.DeleteUser(ctx, role, req.Id); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func decodeUserTransport(_ context.Context, r *http.Request) (interface{}, error) {
	var request UserTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	return request, nil
}

func decodeGetOrDeleteRequest(_ context.Context, r *http.Request) (interface{}, error) {
	vars := mux.Vars(r)
	userId, ok := vars["userId"]
	if !ok {
		return nil, ErrBadRouting
	}
	if err := validation.CheckIds(userId); err != nil {
		return nil, err
	}
	return getUserRequest{Id: userId}, nil
}

func decodeListRequest(_ context.Context, r *http.Request) (interface{}, error) {
	return listUsersRequest{
		Options: validation.ParseQueryOptions(r, store.UserSortableFields...),
	}, nil
}

func decodeUpdateRequest(_ context.Context, r *http.Request) (interface{}, error) {
	vars := mux.Vars(r)
	userId, ok := vars["userId"]
	if !ok {
		return nil, ErrBadRouting
	}
	if err := validation.CheckIds(userId); err != nil {
		return nil, err
	}

	var request UserTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	return updateUserRequest{Id: userId, Transport: request}, nil
}

// EncodeError delegates to the shared taxonomy mapper.
var EncodeError = apierrors.EncodeError

// storeToTransport never echoes the password, applies the caller's field
// projection, and hides a child's personal attributes from group owners,
// who only see roster-level data.
func storeToTransport(user store.User, options validation.QueryOptions, readerRole string) UserTransport {
	ret := UserTransport{
		Id: strPtr(user.UserId),
	}
	if options.Selected("username") {
		ret.Username = strPtr(user.Username)
	}
	if options.Selected("institution_id") {
		ret.InstitutionId = strPtr(user.InstitutionId)
	}
	if options.Selected("last_login") {
		ret.LastLogin = user.LastLogin
	}
	if options.Selected("last_sync") {
		ret.LastSync = user.LastSync
	}

	personalHidden := user.Role.String == roles.ROLE_CHILD && roles.IsGroupOwner(readerRole)
	if !personalHidden {
		if options.Selected("gender") {
			ret.Gender = strPtr(user.Gender)
		}
		if options.Selected("age") {
			ret.Age = strPtr(user.Age)
		}
		if options.Selected("age_calc_date") {
			ret.AgeCalcDate = strPtr(user.AgeCalcDate)
		}
	}

	if user.Institution.InstitutionId.Valid {
		ret.Institution = institutionToTransport(user.Institution)
	}
	if user.Role.String == roles.ROLE_FAMILY {
		children := []UserTransport{}
		for _, child := range user.Children {
			children = append(children, storeToTransport(child, validation.QueryOptions{}, readerRole))
		}
		ret.Children = children
	}
	return ret
}

func transportToStore(role string, request UserTransport) store.User {
	user := store.User{
		Username:      store.DbNullString(deref(request.Username)),
		Password:      store.DbNullString(deref(request.Password)),
		Role:          store.DbNullString(role),
		InstitutionId: store.DbNullString(deref(request.InstitutionId)),
	}
	if role == roles.ROLE_CHILD {
		user.Gender = store.DbNullString(deref(request.Gender))
		user.Age = store.DbNullString(deref(request.Age))
		user.AgeCalcDate = store.DbNullString(deref(request.AgeCalcDate))
	}
	return user
}

func institutionToTransport(institution store.Institution) *institutions.InstitutionTransport {
	ret := &institutions.InstitutionTransport{
		Id:   strPtr(institution.InstitutionId),
		Type: strPtr(institution.Type),
		Name: strPtr(institution.Name),
	}
	if institution.Address.Valid {
		ret.Address = strPtr(institution.Address)
	}
	if institution.Latitude.Valid {
		ret.Latitude = &institution.Latitude.Float64
	}
	if institution.Longitude.Valid {
		ret.Longitude = &institution.Longitude.Float64
	}
	return ret
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
