package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/datagrid/gts/auth"
	"github.com/datagrid/gts/store"
	"github.com/datagrid/gts/transfers"
)

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Service string `json:"service" example:"GTS" doc:"The name of the service"`
	Version string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime  int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
}

// This type holds information about an error that occurred responding to a
// request.
type ErrorResponse struct {
	// An HTTP error code
	Code int `json:"code"`
	// A descriptive error message
	Error string `json:"message"`
}

// a request for a transfer of a data product (POST)
type TransferRequest struct {
	// identifier of the data product to move
	ProductId string `json:"product_id" example:"obs-2024-117" doc:"the identifier of the data product to transfer"`
	// gsiftp URL of the destination directory
	DestinationPath string `json:"destination_path" example:"gsiftp://dest.example.org/data/incoming" doc:"a gsiftp URL naming the destination directory"`
	// optional preprocessing to run on the staged files before transfer
	PrepareActivity string `json:"prepare_activity,omitempty" doc:"an optional preprocessing activity to run before the transfer"`
}

// a response to a transfer request (POST)
type TransferResponse struct {
	// ID assigned to the accepted transfer
	TransferId string `json:"transfer_id" doc:"the id assigned to the accepted transfer"`
}

// a response acknowledging a completion callback (GET/POST)
type CallbackResponse struct {
	Success bool `json:"success"`
}

// This package-specific helper function writes an error to an
// http.ResponseWriter, giving it the proper status code, and encoding an
// ErrorResponse in the response body.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	e := ErrorResponse{Code: code, Error: message}
	data, _ := json.Marshal(e)
	w.Write(data)
}

// This package-specific helper function writes a JSON payload to an
// http.ResponseWriter with the given status code.
func writeJson(w http.ResponseWriter, payload any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, _ := json.Marshal(payload)
	w.Write(data)
}

// maps an error from the coordinator or the authorizer to an HTTP status code
func statusCodeForError(err error) int {
	var invalidRequest transfers.InvalidRequestError
	var unauthorized auth.UnauthorizedError
	var notSubmitter transfers.NotSubmitterError
	var invalidAuthcode transfers.InvalidAuthcodeError
	var notFound store.NotFoundError
	switch {
	case errors.As(err, &invalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &unauthorized),
		errors.As(err, &notSubmitter),
		errors.As(err, &invalidAuthcode):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// TransferService defines the interface for our transfer orchestration
// service.
type TransferService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}
