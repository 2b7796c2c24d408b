// Package dwave is a thin HTTP client for an annealer cloud API. Problems
// follow a submit, poll, fetch lifecycle: a QUBO is posted to a named remote
// solver, its status is polled until it settles, and the answer carries the
// best sample and its energy.
package dwave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Problem status values reported by the remote API.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

type Config struct {
	BaseURL      string
	Token        string
	HybridSolver string
	QPUSolver    string
}

// ConfigFromEnv reads the cloud settings from the environment. Only the
// token has no default; without it the client is not configured and the
// service runs on the local annealer alone.
func ConfigFromEnv() Config {
	return Config{
		BaseURL:      envOr("DWAVE_API_URL", "https://cloud.dwavesys.com/sapi/v2"),
		Token:        os.Getenv("DWAVE_API_TOKEN"),
		HybridSolver: envOr("DWAVE_HYBRID_SOLVER", "hybrid_binary_quadratic_model_version2"),
		QPUSolver:    envOr("DWAVE_QPU_SOLVER", "Advantage_system6.4"),
	}
}

// Configured reports whether the config carries an API token.
func (c Config) Configured() bool { return c.Token != "" }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a client and verifies connectivity by listing the remote
// solvers. A failure here surfaces to the caller so the service can degrade
// to local-only solving.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}

	log.Printf("[DWave] Connecting to annealer cloud at %s...", cfg.BaseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	solvers, err := c.ListSolvers(ctx)
	if err != nil {
		return nil, fmt.Errorf("dwave: verify connection: %w", err)
	}
	log.Printf("[DWave] Connected. %d remote solvers available.", len(solvers))

	return c, nil
}

// Config returns the settings the client was built with.
func (c *Client) Config() Config { return c.cfg }

// SolverInfo is one remote solver as reported by the listing endpoint.
type SolverInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ListSolvers fetches the remote solver inventory.
func (c *Client) ListSolvers(ctx context.Context) ([]SolverInfo, error) {
	var solvers []SolverInfo
	if err := c.do(ctx, http.MethodGet, "/solvers/remote", nil, &solvers); err != nil {
		return nil, err
	}
	return solvers, nil
}

// QuadTerm is one quadratic coefficient of a submitted QUBO, keyed by the
// two variable labels it couples.
type QuadTerm struct {
	U    string  `json:"u"`
	V    string  `json:"v"`
	Bias float64 `json:"bias"`
}

// Params tunes a submission. Fields the target solver does not support are
// left zero and omitted from the request body.
type Params struct {
	NumReads     int     `json:"num_reads,omitempty"`
	TimeLimitSec float64 `json:"time_limit,omitempty"`
	AnswerMode   string  `json:"answer_mode,omitempty"`
	AutoEmbed    bool    `json:"auto_embed,omitempty"`
}

type submitRequest struct {
	Solver string      `json:"solver"`
	Type   string      `json:"type"`
	Label  string      `json:"label,omitempty"`
	Data   problemData `json:"data"`
	Params Params      `json:"params"`
}

type problemData struct {
	Linear    map[string]float64 `json:"linear"`
	Quadratic []QuadTerm         `json:"quadratic"`
}

type problemStatus struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SubmitQUBO posts a QUBO to the named remote solver and returns the
// problem id to poll.
func (c *Client) SubmitQUBO(ctx context.Context, solver string, linear map[string]float64, quad []QuadTerm, params Params) (string, error) {
	req := submitRequest{
		Solver: solver,
		Type:   "qubo",
		Label:  "unfold-engine",
		Data:   problemData{Linear: linear, Quadratic: quad},
		Params: params,
	}
	var status problemStatus
	if err := c.do(ctx, http.MethodPost, "/problems", req, &status); err != nil {
		return "", fmt.Errorf("dwave: submit to %s: %w", solver, err)
	}
	if status.ID == "" {
		return "", fmt.Errorf("dwave: submit to %s: response carried no problem id", solver)
	}
	return status.ID, nil
}

// Answer is the settled outcome of a submitted problem.
type Answer struct {
	Sample map[string]int `json:"sample"`
	Energy float64        `json:"energy"`
	Reads  int            `json:"num_reads"`
}

// AwaitAnswer polls the problem until it completes, fails or the context
// ends, then fetches the answer. Remote failures (including embedding
// failures, which arrive as FAILED with a message) are returned as-is with
// no retry.
func (c *Client) AwaitAnswer(ctx context.Context, id string) (*Answer, error) {
	backoff := 500 * time.Millisecond
	for {
		var status problemStatus
		if err := c.do(ctx, http.MethodGet, "/problems/"+id, nil, &status); err != nil {
			return nil, fmt.Errorf("dwave: poll %s: %w", id, err)
		}

		switch status.Status {
		case StatusCompleted:
			var ans Answer
			if err := c.do(ctx, http.MethodGet, "/problems/"+id+"/answer", nil, &ans); err != nil {
				return nil, fmt.Errorf("dwave: fetch answer %s: %w", id, err)
			}
			return &ans, nil
		case StatusFailed, StatusCancelled:
			return nil, fmt.Errorf("dwave: problem %s %s: %s", id, status.Status, status.Message)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dwave: await %s: %w", id, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff = backoff * 3 / 2
		}
	}
}

// APIError is a structured error body from the remote API.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// do sends one JSON request and decodes the response into out. Non-2xx
// responses are decoded into an APIError when the body allows it.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Code: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil || apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
