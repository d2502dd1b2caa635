//go:build !docs
// +build !docs

// This build omits the bundled API documentation endpoints.

package services

import (
	"github.com/gorilla/mux"
)

var HaveDocEndpoints bool = false

func AddDocEndpoints(r *mux.Router) {
}
