package services

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/datagrid/gts/auth"
	"github.com/datagrid/gts/config"
	"github.com/datagrid/gts/store"
	"github.com/datagrid/gts/transfers"
)

// Version numbers
var majorVersion = 1
var minorVersion = 0
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// This type implements the TransferService interface, accepting transfer
// requests over mutually authenticated TLS and driving them through the
// staging, prepare, and FTS stages.
type gtsService struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	// the transfer pipeline this service fronts
	coordinator *transfers.Coordinator
	// DN-based authorization for the service's operations
	authorizer *auth.Authorizer
}

// the context key under which the peer's DN is stored
type contextKey int

const peerDNKey contextKey = 0

// returns the DN of the authenticated TLS peer, or "" for an anonymous
// request
func peerDN(ctx context.Context) string {
	dn, _ := ctx.Value(peerDNKey).(string)
	return dn
}

// Creates a service fronting the given transfer coordinator. The coordinator
// is started and stopped with the service.
func NewGTSService(coordinator *transfers.Coordinator) (TransferService, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("No transfer coordinator was provided.")
	}

	service := new(gtsService)
	service.Name = "GTS"
	service.Version = version
	service.Port = -1
	service.coordinator = coordinator
	service.authorizer = auth.NewAuthorizer()

	// set up routing; every handler sees the peer's DN through the request
	// context
	service.Router = mux.NewRouter()
	service.Router.Use(service.identifyPeer)
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	huma.Get(api, "/", service.getRoot)

	// API v1
	huma.Post(api, "/api/v1/transfers", service.createTransfer)
	huma.Get(api, "/api/v1/transfers/{id}", service.getTransferStatus)
	service.API = api

	// the form-encoded routes used by grid clients and by the external
	// services' completion callbacks
	service.Router.HandleFunc("/submitTransfer", service.submitTransfer).Methods("POST")
	service.Router.HandleFunc("/transferStatus", service.transferStatus).Methods("GET")
	service.Router.HandleFunc("/doneStaging", service.doneStaging).Methods("GET", "POST")
	service.Router.HandleFunc("/donePrepare", service.donePrepare).Methods("GET", "POST")

	AddDocEndpoints(service.Router)

	return service, nil
}

// mux middleware that extracts the effective DN from the peer's certificate
// and stores it in the request context (proxy certificates identify as
// their issuer)
func (service *gtsService) identifyPeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dn, err := auth.PeerDN(r.TLS); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), peerDNKey, dn))
		}
		next.ServeHTTP(w, r)
	})
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root (no authorization needed for this one)
func (service *gtsService) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Service: service.Name,
			Version: service.Version,
			Uptime:  int(service.uptime()),
		},
	}, nil
}

type TransferOutput struct {
	Status int
	Body   TransferResponse `doc:"the id assigned to the requested transfer"`
}

// handler method for requesting a transfer (API v1)
func (service *gtsService) createTransfer(ctx context.Context,
	input *struct {
		Body TransferRequest
	}) (*TransferOutput, error) {

	dn := peerDN(ctx)
	if err := service.authorizer.AuthorizeSubmitter(dn); err != nil {
		return nil, huma.Error403Forbidden(err.Error())
	}
	transferId, err := service.coordinator.Submit(ctx, transfers.Specification{
		ProductId:       input.Body.ProductId,
		DestinationPath: input.Body.DestinationPath,
		PrepareActivity: input.Body.PrepareActivity,
		Submitter:       dn,
	})
	if err != nil {
		return nil, huma.NewError(statusCodeForError(err), err.Error())
	}
	return &TransferOutput{
		Status: http.StatusAccepted,
		Body:   TransferResponse{TransferId: transferId},
	}, nil
}

type TransferStatusOutput struct {
	Body store.Transfer `doc:"the full record of the requested transfer"`
}

// handler method for querying the status of a transfer (API v1)
func (service *gtsService) getTransferStatus(ctx context.Context,
	input *struct {
		Id string `path:"id" example:"6931596d-0df6-48cc-8c98-0c7ff31e5d04" doc:"the id of the transfer"`
	}) (*TransferStatusOutput, error) {

	dn := peerDN(ctx)
	if err := service.authorizer.AuthorizeSubmitter(dn); err != nil {
		return nil, huma.Error403Forbidden(err.Error())
	}
	transfer, err := service.coordinator.Status(ctx, input.Id, dn)
	if err != nil {
		return nil, huma.NewError(statusCodeForError(err), err.Error())
	}
	return &TransferStatusOutput{Body: transfer}, nil
}

// legacy handler for requesting a transfer (form-encoded)
func (service *gtsService) submitTransfer(w http.ResponseWriter, r *http.Request) {
	dn := peerDN(r.Context())
	if err := service.authorizer.AuthorizeSubmitter(dn); err != nil {
		writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	transferId, err := service.coordinator.Submit(r.Context(), transfers.Specification{
		ProductId:       r.FormValue("product_id"),
		DestinationPath: r.FormValue("destination_path"),
		PrepareActivity: r.FormValue("prepare_activity"),
		Submitter:       dn,
	})
	if err != nil {
		writeError(w, err.Error(), statusCodeForError(err))
		return
	}
	writeJson(w, TransferResponse{TransferId: transferId}, http.StatusAccepted)
}

// legacy handler for querying the status of a transfer
func (service *gtsService) transferStatus(w http.ResponseWriter, r *http.Request) {
	dn := peerDN(r.Context())
	if err := service.authorizer.AuthorizeSubmitter(dn); err != nil {
		writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	transferId := r.FormValue("transfer_id")
	if transferId == "" {
		writeError(w, "No transfer_id was given.", http.StatusBadRequest)
		return
	}
	transfer, err := service.coordinator.Status(r.Context(), transferId, dn)
	if err != nil {
		writeError(w, err.Error(), statusCodeForError(err))
		return
	}
	writeJson(w, transfer, http.StatusOK)
}

// handler for the stager's completion callback
func (service *gtsService) doneStaging(w http.ResponseWriter, r *http.Request) {
	dn := peerDN(r.Context())
	if err := service.authorizer.AuthorizeStager(dn); err != nil {
		writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	transferId := r.FormValue("transfer_id")
	if transferId == "" {
		writeError(w, "No transfer_id was given.", http.StatusBadRequest)
		return
	}
	success, err := parseBool(r.FormValue("success"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = service.coordinator.FinishStaging(r.Context(), transfers.StagingResult{
		TransferId: transferId,
		ProductId:  r.FormValue("product_id"),
		Success:    success,
		StagedTo:   r.FormValue("staged_to"),
		Path:       r.FormValue("path"),
		Msg:        r.FormValue("msg"),
		Authcode:   r.FormValue("authcode"),
	})
	if err != nil {
		writeError(w, err.Error(), statusCodeForError(err))
		return
	}
	writeJson(w, CallbackResponse{Success: true}, http.StatusOK)
}

// handler for the transfer-host agent's preprocessing completion callback
func (service *gtsService) donePrepare(w http.ResponseWriter, r *http.Request) {
	dn := peerDN(r.Context())
	if err := service.authorizer.AuthorizeAgent(dn); err != nil {
		writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	transferId := r.FormValue("transfer_id")
	if transferId == "" {
		writeError(w, "No transfer_id was given.", http.StatusBadRequest)
		return
	}
	success, err := parseBool(r.FormValue("success"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = service.coordinator.FinishPrepare(r.Context(), transfers.PrepareResult{
		TransferId: transferId,
		Success:    success,
		Msg:        r.FormValue("msg"),
	})
	if err != nil {
		writeError(w, err.Error(), statusCodeForError(err))
		return
	}
	writeJson(w, CallbackResponse{Success: true}, http.StatusOK)
}

// parses a form boolean: true/1/yes or false/0/no, case-insensitively
func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("Invalid boolean value: %s", value)
}

// returns the uptime for the service (in seconds)
func (service *gtsService) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// Starts the service and the transfer pipeline behind it on the selected
// port. With a configured service certificate the listener speaks mutual
// TLS; without one it serves plaintext HTTP, which is suitable only for
// testing.
func (service *gtsService) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", config.Service.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, config.Service.MaxConnections)

	// start the transfer pipeline
	err = service.coordinator.Start()
	if err != nil {
		return err
	}

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	if config.Service.Cert != "" {
		tlsConfig, err := auth.ServerTLSConfig()
		if err != nil {
			return err
		}
		service.Server.TLSConfig = tlsConfig
		err = service.Server.ServeTLS(listener, "", "")
		if err != http.ErrServerClosed {
			return err
		}
		return nil
	}
	slog.Info("No service certificate is configured, serving plaintext HTTP")
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Gracefully shuts down the service without interrupting active connections,
// then stops the transfer pipeline behind it.
func (service *gtsService) Shutdown(ctx context.Context) error {
	var err error
	if service.Server != nil {
		err = service.Server.Shutdown(ctx)
	}
	if stopErr := service.coordinator.Stop(); err == nil {
		err = stopErr
	}
	return err
}

// closes down the service abruptly, freeing all resources
func (service *gtsService) Close() {
	if service.Server != nil {
		service.Server.Close()
	}
	service.coordinator.Stop()
}
