package controllers

import (
	"net/http"

	"github.com/textileio/go-walletsync/buildinfo"
)

// InfraController defines the HTTP handlers for infrastructure APIs.
type InfraController struct{}

// NewInfraController creates a new InfraController.
func NewInfraController() *InfraController {
	return &InfraController{}
}

// Version returns git information of the running binary.
func (c *InfraController) Version(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, buildinfo.GetSummary())
}

// Health answers liveness probes.
func (c *InfraController) Health(rw http.ResponseWriter, _ *http.Request) {
	rw.WriteHeader(http.StatusOK)
}
