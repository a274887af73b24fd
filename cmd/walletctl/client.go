package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/textileio/go-walletsync/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// apiClient calls the walletd HTTP API.
type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient(cmd *cobra.Command) (*apiClient, error) {
	baseURL, err := cmd.Flags().GetString("api")
	if err != nil {
		return nil, fmt.Errorf("failed to parse api flag: %s", err)
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, fmt.Errorf("failed to parse timeout flag: %s", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// do sends a request and decodes the response body into out, if not nil.
// Responses with a status code different from expStatus are returned as errors.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}, expStatus ...int) (int, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request body: %s", err)
		}
		reqBody = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("creating request: %s", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling walletd: %s", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if !containsStatus(expStatus, resp.StatusCode) {
		var svcErr errors.ServiceError
		if err := json.NewDecoder(resp.Body).Decode(&svcErr); err == nil && svcErr.Message != "" {
			return resp.StatusCode, fmt.Errorf("%s (status %d)", svcErr.Message, resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %s", err)
		}
	}

	return resp.StatusCode, nil
}

func containsStatus(statuses []int, status int) bool {
	if len(statuses) == 0 {
		return status == http.StatusOK
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling output: %s", err)
	}
	fmt.Println(string(b))
	return nil
}
