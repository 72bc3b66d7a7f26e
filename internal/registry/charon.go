package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenHeader carries the Charon API token.
const TokenHeader = "X-Charon-API-token"

// CharonConfig configures the Charon client.
type CharonConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// CharonClient implements Registry over Charon's REST API.
type CharonClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewCharonClient creates a client. A zero timeout means 30 seconds.
func NewCharonClient(cfg CharonConfig) *CharonClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CharonClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL builds "{base}/api/v1/{parts...}" with each part path-escaped.
func (c *CharonClient) URL(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/api/v1/" + strings.Join(escaped, "/")
}

type projectResponse struct {
	ProjectID string `json:"projectid"`
	Name      string `json:"name"`
}

type libprepsResponse struct {
	Libpreps []struct {
		LibprepID string `json:"libprepid"`
	} `json:"libpreps"`
}

type seqrunsResponse struct {
	Seqruns []struct {
		SeqrunID string `json:"seqrunid"`
	} `json:"seqruns"`
}

// ProjectID looks up the project by name.
func (c *CharonClient) ProjectID(ctx context.Context, projectName string) (string, error) {
	const op = "project lookup"

	var resp projectResponse
	if err := c.get(ctx, op, c.URL("project", projectName), &resp); err != nil {
		return "", err
	}
	if resp.ProjectID == "" {
		return "", &Error{Op: op, Err: fmt.Errorf("project %q has no projectid: %w", projectName, ErrNotFound)}
	}
	return resp.ProjectID, nil
}

// LibraryPrepID returns the library prep of the sample whose sequencing runs
// include the given flowcell.
func (c *CharonClient) LibraryPrepID(ctx context.Context, projectID, sampleName, flowcellID string) (string, error) {
	const op = "library prep lookup"

	var libpreps libprepsResponse
	if err := c.get(ctx, op, c.URL("libpreps", projectID, sampleName), &libpreps); err != nil {
		return "", err
	}
	if len(libpreps.Libpreps) == 0 {
		return "", &Error{Op: op, Err: fmt.Errorf("no libpreps for project %s / sample %s: %w", projectID, sampleName, ErrNotFound)}
	}

	for _, lp := range libpreps.Libpreps {
		var seqruns seqrunsResponse
		if err := c.get(ctx, op, c.URL("seqruns", projectID, sampleName, lp.LibprepID), &seqruns); err != nil {
			return "", err
		}
		for _, sr := range seqruns.Seqruns {
			if MatchesFlowcell(sr.SeqrunID, flowcellID) {
				return lp.LibprepID, nil
			}
		}
	}

	return "", &Error{
		Op:  op,
		Err: fmt.Errorf("no libprep of project %s / sample %s was sequenced on flowcell %s: %w", projectID, sampleName, flowcellID, ErrNotFound),
	}
}

// MatchesFlowcell reports whether a registry seqrun id refers to flowcellID,
// either exactly or as the trailing component of a full run id.
func MatchesFlowcell(seqrunID, flowcellID string) bool {
	if seqrunID == "" || flowcellID == "" {
		return false
	}
	return seqrunID == flowcellID || strings.HasSuffix(seqrunID, "_"+flowcellID)
}

func (c *CharonClient) get(ctx context.Context, op, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s: %w", endpoint, ErrNotFound)}
	case resp.StatusCode != http.StatusOK:
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s: %s", endpoint, strings.TrimSpace(string(body)))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
