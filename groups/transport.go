package groups

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/ecid-covid-it-support/tracking-api/apierrors"
	"github.com/ecid-covid-it-support/tracking-api/claims"
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

type GroupTransport struct {
	Id          *string `json:"id,omitempty"`
	Name        *string `json:"name,omitempty"`
	SchoolClass *string `json:"school_class,omitempty"`

	Children []GroupChildTransport `json:"children,omitempty"`

	// ChildIds carries the member list on the way in; responses render
	// children as embedded objects instead.
	ChildIds []string `json:"-"`
}

// GroupChildTransport is the roster view of a member child. Personal
// attributes stay off it for group owners.
type GroupChildTransport struct {
	Id            *string `json:"id,omitempty"`
	Username      *string `json:"username,omitempty"`
	InstitutionId *string `json:"institution_id,omitempty"`
	Gender        *string `json:"gender,omitempty"`
	Age           *string `json:"age,omitempty"`
	AgeCalcDate   *string `json:"age_calc_date,omitempty"`
}

// UnmarshalJSON accepts the member list either as an array of id strings
// or as an array of objects carrying an id.
func (t *GroupTransport) UnmarshalJSON(data []byte) error {
	type alias GroupTransport
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

	children := []GroupChildTransport{}
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

type groupPath struct {
	OwnerId string
	GroupId string
}

type getGroupRequest struct {
	Path groupPath
}

type listGroupsRequest struct {
	OwnerId string
	Options validation.QueryOptions
}

type saveGroupRequest struct {
	Path      groupPath
	Transport GroupTransport
}

type HandlerFactory struct {
	Service Service `inject:""`
}

func (h *HandlerFactory) Add(ownerRole string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeAddEndpoint(h.Service, ownerRole),
		decodeAddRequest,
		shared.EncodeResponse201,
		opts...,
	)
}

func (h *HandlerFactory) Get(ownerRole string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeGetEndpoint(h.Service, ownerRole),
		decodeGetOrDeleteRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) List(ownerRole string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeListEndpoint(h.Service, ownerRole),
		decodeListRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Update(ownerRole string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeUpdateEndpoint(h.Service, ownerRole),
		decodeUpdateRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Delete(ownerRole string, opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeDeleteEndpoint(h.Service, ownerRole),
		decodeGetOrDeleteRequest,
		shared.EncodeResponse204,
		opts...,
	)
}

func makeAddEndpoint(svc Service, ownerRole string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(saveGroupRequest)
		group, err := svc.AddGroup(ctx, ownerRole, req.Path.OwnerId, req.Transport)
		if err != nil {
			return nil, err
		}
		return storeToTransport(group, validation.QueryOptions{}, claims.GetRole(ctx)), nil
	}
}

func makeGetEndpoint(svc Service, ownerRole string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getGroupRequest)
		group, err := svc.GetGroup(ctx, ownerRole, req.Path.OwnerId, req.Path.GroupId)
		if err != nil {
			return nil, err
		}
		return storeToTransport(group, validation.QueryOptions{}, claims.GetRole(ctx)), nil
	}
}

func makeListEndpoint(svc Service, ownerRole string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(listGroupsRequest)
		groups, err := svc.ListGroups(ctx, ownerRole, req.OwnerId, req.Options)
		if err != nil {
			return nil, err
		}

		groupsRet := []GroupTransport{}
		for _, group := range groups {
			groupsRet = append(groupsRet, storeToTransport(group, req.Options, claims.GetRole(ctx)))
		}
		return groupsRet, nil
	}
}

func makeUpdateEndpoint(svc Service, ownerRole string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(saveGroupRequest)
		group, err := svc.UpdateGroup(ctx, ownerRole, req.Path.OwnerId, req.Path.GroupId, req.Transport)
		if err != nil {
			return nil, err
		}
		return storeToTransport(group, validation.QueryOptions{}, claims.GetRole(ctx)), nil
	}
}

func makeDeleteEndpoint(svc Service, ownerRole string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getGroupRequest)
		if err := svc.DeleteGroup(ctx, ownerRole, req.Path.OwnerId, req.Path.GroupId); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func decodePath(r *http.Request, needGroup bool) (groupPath, error) {
	vars := mux.Vars(r)
	ownerId, ok := vars["ownerId"]
	if !ok {
		return groupPath{}, ErrBadRouting
	}
	path := groupPath{OwnerId: ownerId}
	if needGroup {
		groupId, ok := vars["groupId"]
		if !ok {
			return groupPath{}, ErrBadRouting
		}
		path.GroupId = groupId
		if err := validation.CheckIds(ownerId, groupId); err != nil {
			return groupPath{}, err
		}
		return path, nil
	}
	if err := validation.CheckIds(ownerId); err != nil {
		return groupPath{}, err
	}
	return path, nil
}

func decodeAddRequest(_ context.Context, r *http.Request) (interface{}, error) {
	path, err := decodePath(r, false)
	if err != nil {
		return nil, err
	}
	var request GroupTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	return saveGroupRequest{Path: path, Transport: request}, nil
}

func decodeGetOrDeleteRequest(_ context.Context, r *http.Request) (interface{}, error) {
	path, err := decodePath(r, true)
	if err != nil {
		return nil, err
	}
	return getGroupRequest{Path: path}, nil
}

func decodeListRequest(_ context.Context, r *http.Request) (interface{}, error) {
	path, err := decodePath(r, false)
	if err != nil {
		return nil, err
	}
	return listGroupsRequest{
		OwnerId: path.OwnerId,
		Options: validation.ParseQueryOptions(r, store.GroupSortableFields...),
	}, nil
}

func decodeUpdateRequest(_ context.Context, r *http.Request) (interface{}, error) {
	path, err := decodePath(r, true)
	if err != nil {
		return nil, err
	}
	var request GroupTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	return saveGroupRequest{Path: path, Transport: request}, nil
}

// EncodeError delegates to the shared taxonomy mapper.
var EncodeError = apierrors.EncodeError

func storeToTransport(group store.ChildrenGroup, options validation.QueryOptions, readerRole string) GroupTransport {
	ret := GroupTransport{
		Id: strPtr(group.GroupId),
	}
	if options.Selected("name") {
		ret.Name = strPtr(group.Name)
	}
	if options.Selected("school_class") {
		ret.SchoolClass = strPtr(group.SchoolClass)
	}

	children := []GroupChildTransport{}
	for _, child := range group.Children {
		children = append(children, childToTransport(child, readerRole))
	}
	ret.Children = children
	return ret
}

// childToTransport keeps a child's personal attributes away from group
// owners; the roster shows identity and institution only.
func childToTransport(child store.User, readerRole string) GroupChildTransport {
	ret := GroupChildTransport{
		Id:            strPtr(child.UserId),
		Username:      strPtr(child.Username),
		InstitutionId: strPtr(child.InstitutionId),
	}
	if !roles.IsGroupOwner(readerRole) {
		ret.Gender = strPtr(child.Gender)
		ret.Age = strPtr(child.Age)
		ret.AgeCalcDate = strPtr(child.AgeCalcDate)
	}
	return ret
}

func transportToStore(request GroupTransport) store.ChildrenGroup {
	return store.ChildrenGroup{
		Name:        store.DbNullString(deref(request.Name)),
		SchoolClass: store.DbNullString(deref(request.SchoolClass)),
	}
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
