package middlewares

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/textileio/go-walletsync/pkg/errors"
	"github.com/textileio/go-walletsync/pkg/txn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RESTAddress adds to the request context the normalized {address} that must be present in the REST path.
func RESTAddress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, ok := mux.Vars(r)["address"]
		if !ok || address == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(errors.ServiceError{Message: "no address in path"})
			return
		}
		if !common.IsHexAddress(address) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(errors.ServiceError{Message: "invalid address"})
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyAddress, txn.NormalizeAddress(address)))
		next.ServeHTTP(w, r)
	})
}
