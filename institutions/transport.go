package institutions

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/ecid-covid-it-support/tracking-api/apierrors"
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

type InstitutionTransport struct {
	Id        *string  `json:"id,omitempty"`
	Type      *string  `json:"type,omitempty"`
	Name      *string  `json:"name,omitempty"`
	Address   *string  `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type listInstitutionsRequest struct {
	Options validation.QueryOptions
}

type getInstitutionRequest struct {
	Id string
}

type HandlerFactory struct {
	Service Service `inject:""`
}

func (h *HandlerFactory) Add(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeAddEndpoint(h.Service),
		decodeInstitutionTransport,
		shared.EncodeResponse201,
		opts...,
	)
}

func (h *HandlerFactory) Get(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeGetEndpoint(h.Service),
		decodeGetOrDeleteRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) List(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeListEndpoint(h.Service),
		decodeListRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Update(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeUpdateEndpoint(h.Service),
		decodeUpdateRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Delete(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeDeleteEndpoint(h.Service),
		decodeGetOrDeleteRequest,
		shared.EncodeResponse204,
		opts...,
	)
}

func makeAddEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(InstitutionTransport)
		institution, err := svc.AddInstitution(ctx, req)
		if err != nil {
			return nil, err
		}
		return storeToTransport(institution, validation.QueryOptions{}), nil
	}
}

func makeGetEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getInstitutionRequest)
		institution, err := svc.GetInstitution(ctx, req.Id)
		if err != nil {
			return nil, err
		}
		return storeToTransport(institution, validation.QueryOptions{}), nil
	}
}

func makeListEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(listInstitutionsRequest)
		institutions, err := svc.ListInstitutions(ctx, req.Options)
		if err != nil {
			return nil, err
		}

		institutionsRet := []InstitutionTransport{}
		for _, institution := range institutions {
			institutionsRet = append(institutionsRet, storeToTransport(institution, req.Options))
		}
		return institutionsRet, nil
	}
}

func makeUpdateEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(InstitutionTransport)
		institution, err := svc.UpdateInstitution(ctx, req)
		if err != nil {
			return nil, err
		}
		return storeToTransport(institution, validation.QueryOptions{}), nil
	}
}

func makeDeleteEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getInstitutionRequest)
		if err := svc.DeleteInstitution(ctx, req.Id); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func decodeInstitutionTransport(_ context.Context, r *http.Request) (interface{}, error) {
	var request InstitutionTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	return request, nil
}

func decodeGetOrDeleteRequest(_ context.Context, r *http.Request) (interface{}, error) {
	vars := mux.Vars(r)
	institutionId, ok := vars["institutionId"]
	if !ok {
		return nil, ErrBadRouting
	}
	if err := validation.CheckIds(institutionId); err != nil {
		return nil, err
	}
	return getInstitutionRequest{Id: institutionId}, nil
}

func decodeListRequest(_ context.Context, r *http.Request) (interface{}, error) {
	return listInstitutionsRequest{
		Options: validation.ParseQueryOptions(r, store.InstitutionSortableFields...),
	}, nil
}

func decodeUpdateRequest(_ context.Context, r *http.Request) (interface{}, error) {
	vars := mux.Vars(r)
	institutionId, ok := vars["institutionId"]
	if !ok {
		return nil, ErrBadRouting
	}
	if err := validation.CheckIds(institutionId); err != nil {
		return nil, err
	}

	var request InstitutionTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, apierrors.NewValidationError("body is not valid json")
	}
	request.Id = &institutionId
	return request, nil
}

// EncodeError delegates to the shared taxonomy mapper.
var EncodeError = apierrors.EncodeError

// storeToTransport applies the caller's field projection; id is always
// included.
func storeToTransport(institution store.Institution, options validation.QueryOptions) InstitutionTransport {
	ret := InstitutionTransport{
		Id: strPtr(institution.InstitutionId),
	}
	if options.Selected("type") {
		ret.Type = strPtr(institution.Type)
	}
	if options.Selected("name") {
		ret.Name = strPtr(institution.Name)
	}
	if options.Selected("address") {
		ret.Address = strPtr(institution.Address)
	}
	if options.Selected("latitude") && institution.Latitude.Valid {
		ret.Latitude = &institution.Latitude.Float64
	}
	if options.Selected("longitude") && institution.Longitude.Valid {
		ret.Longitude = &institution.Longitude.Float64
	}
	return ret
}

func transportToStore(request InstitutionTransport) store.Institution {
	institution := store.Institution{
		Type:    store.DbNullString(deref(request.Type)),
		Name:    store.DbNullString(deref(request.Name)),
		Address: store.DbNullString(deref(request.Address)),
	}
	if request.Id != nil {
		institution.InstitutionId = store.DbNullString(*request.Id)
	}
	institution.Latitude = store.DbNullFloat64(request.Latitude)
	institution.Longitude = store.DbNullFloat64(request.Longitude)
	return institution
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
