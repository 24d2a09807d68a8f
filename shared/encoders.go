package shared

import (
	"context"
	"encoding/json"
	"net/http"
)

func EncodeResponse200(_ context.Context, w http.ResponseWriter, response interface{}) error {
	return encodeResponse(w, response, http.StatusOK)
}

func EncodeResponse201(_ context.Context, w http.ResponseWriter, response interface{}) error {
	return encodeResponse(w, response, http.StatusCreated)
}

func EncodeResponse204(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func encodeResponse(w http.ResponseWriter, response interface{}, code int) error {
	if response == nil {
		w.WriteHeader(code)
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(response)
}
