package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-walletsync/internal/router/controllers"
)

func TestAPIClient(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/wallets":
			_, _ = w.Write([]byte(`{"total":"1.5","wallets":[{"address":"0xabc","balance":"1.5"}]}`))
		case "/api/v1/wallets/0xabc/sync":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"A sync pass is already running"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Wallet not found"}`))
		}
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, client: &http.Client{Timeout: time.Second}}
	ctx := context.Background()

	var wallets controllers.Wallets
	status, err := c.do(ctx, http.MethodGet, "/api/v1/wallets", nil, &wallets)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "1.5", wallets.Total)
	require.Len(t, wallets.Wallets, 1)

	status, err = c.do(ctx, http.MethodPost, "/api/v1/wallets/0xabc/sync", nil, nil, http.StatusAccepted, http.StatusConflict)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, status)

	_, err = c.do(ctx, http.MethodGet, "/api/v1/wallets/0xdef", nil, nil)
	require.EqualError(t, err, "Wallet not found (status 404)")
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	addr, err := parseAddress("0x2a891118cf3a8fdebb00109ea3ed4e33b82d960f")
	require.NoError(t, err)
	require.True(t, strings.EqualFold("0x2a891118cf3a8fdebb00109ea3ed4e33b82d960f", addr))

	_, err = parseAddress("0x1234")
	require.Error(t, err)
}

func TestWeiToEther(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1.5", weiToEther("1500000000000000000"))
	require.Equal(t, "0", weiToEther("0"))
	require.Equal(t, "n/a", weiToEther("n/a"))
}

func TestTransactionsPath(t *testing.T) {
	t.Parallel()

	const addr = "0x2a891118cf3a8fdebb00109ea3ed4e33b82d960f"
	for filter, exp := range map[string]string{
		"":         "/api/v1/wallets/" + addr + "/transactions",
		"all":      "/api/v1/wallets/" + addr + "/transactions",
		"sent":     "/api/v1/wallets/" + addr + "/transactions?filter=sent",
		"received": "/api/v1/wallets/" + addr + "/transactions?filter=received",
	} {
		path, err := transactionsPath(addr, filter)
		require.NoError(t, err)
		require.Equal(t, exp, path)
	}

	_, err := transactionsPath(addr, "outgoing")
	require.Error(t, err)
}
