// Package client provides a Go client for interacting with the KartaDB API.
//
// It offers a type-safe way to perform all major operations, including:
//   - Graph queries with filter predicates, ordering and limits.
//   - Breadth-first traversals from a start node.
//   - Single node lookup and snapshot statistics.
//   - System administration tasks (store reload, task status).
//
// The client handles HTTP communication, JSON serialization/deserialization,
// bearer authentication and standardized error handling.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sanonone/kartadb/pkg/query"
	"github.com/sanonone/kartadb/pkg/traverse"
)

// --- Custom Errors ---

// APIError represents an error returned by the KartaDB API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// --- JSON Response Structs ---

// queryResponse models the response of POST /graph/query.
type queryResponse struct {
	Results []query.Node `json:"results"`
}

// traverseResponse models the response of POST /graph/traverse.
type traverseResponse struct {
	Visits []traverse.Visit `json:"visits"`
}

// Stats models the snapshot sizes reported by GET /graph/stats.
type Stats struct {
	Nodes      int              `json:"nodes"`
	Edges      int              `json:"edges"`
	Partitions []PartitionStats `json:"partitions,omitempty"`
}

// PartitionStats is the per-partition breakdown in federated mode.
type PartitionStats struct {
	Key   string `json:"key"`
	Nodes int    `json:"nodes"`
	Edges int    `json:"edges"`
}

// Task represents an asynchronous operation on the KartaDB server.
type Task struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ProgressMessage string `json:"progress_message,omitempty"`
	Error           string `json:"error,omitempty"`

	client *Client // Reference to the client for polling.
}

// reloadResponse models the response of POST /system/reload.
type reloadResponse struct {
	TaskID string `json:"task_id"`
}

// --- Client ---

// Client is the Go client for interacting with KartaDB.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a new KartaDB client. token may be empty for servers running
// without authentication.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// jsonRequest is a helper method to execute all requests to the API.
// It handles JSON serialization, HTTP calls, and error management.
func (c *Client) jsonRequest(method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	return respBody, nil
}

// --- Graph Methods ---

// Query runs one query request against the server.
func (c *Client) Query(req query.Request) ([]query.Node, error) {
	respBody, err := c.jsonRequest(http.MethodPost, "/graph/query", req)
	if err != nil {
		return nil, err
	}
	var resp queryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for query: %w", err)
	}
	return resp.Results, nil
}

// Traverse runs one breadth-first walk from a start node.
func (c *Client) Traverse(req traverse.Request) ([]traverse.Visit, error) {
	respBody, err := c.jsonRequest(http.MethodPost, "/graph/traverse", req)
	if err != nil {
		return nil, err
	}
	var resp traverseResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for traverse: %w", err)
	}
	return resp.Visits, nil
}

// GetNode fetches the full projection of one node by id.
func (c *Client) GetNode(id string) (*query.Node, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/graph/nodes/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var node query.Node
	if err := json.Unmarshal(respBody, &node); err != nil {
		return nil, fmt.Errorf("invalid JSON response for node lookup: %w", err)
	}
	return &node, nil
}

// Stats reports the snapshot sizes of the server.
func (c *Client) Stats() (*Stats, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/graph/stats", nil)
	if err != nil {
		return nil, err
	}
	var stats Stats
	if err := json.Unmarshal(respBody, &stats); err != nil {
		return nil, fmt.Errorf("invalid JSON response for stats: %w", err)
	}
	return &stats, nil
}

// --- System Methods ---

// Reload asks the server to rebuild its store from the configured
// declaration files. The returned Task can be polled with Refresh or Wait.
func (c *Client) Reload() (*Task, error) {
	respBody, err := c.jsonRequest(http.MethodPost, "/system/reload", nil)
	if err != nil {
		return nil, err
	}
	var resp reloadResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for reload: %w", err)
	}
	return &Task{ID: resp.TaskID, Status: "started", client: c}, nil
}

// GetTaskStatus fetches the current state of an asynchronous task.
func (c *Client) GetTaskStatus(id string) (*Task, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/system/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(respBody, &task); err != nil {
		return nil, fmt.Errorf("invalid JSON response for task status: %w", err)
	}
	task.client = c
	return &task, nil
}

// Refresh updates the task's status by querying the server.
func (t *Task) Refresh() error {
	if t.client == nil {
		return fmt.Errorf("client is not associated with the task")
	}
	updatedTask, err := t.client.GetTaskStatus(t.ID)
	if err != nil {
		return err
	}
	t.Status = updatedTask.Status
	t.ProgressMessage = updatedTask.ProgressMessage
	t.Error = updatedTask.Error
	return nil
}

// Wait blocks until the task is completed, checking its status at regular intervals.
func (t *Task) Wait(interval, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return fmt.Errorf("timeout exceeded while waiting for task %s", t.ID)
		case <-ticker.C:
			if err := t.Refresh(); err != nil {
				return err
			}
			switch t.Status {
			case "completed":
				return nil
			case "failed":
				return fmt.Errorf("task %s failed with error: %s", t.ID, t.Error)
			case "running", "started":
				// Continue waiting.
			default:
				return fmt.Errorf("unknown task status: %s", t.Status)
			}
		}
	}
}
