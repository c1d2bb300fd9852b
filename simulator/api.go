package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reliefgrid/coordinator/api"
	"github.com/reliefgrid/coordinator/auth"
)

// TaskAPI drives a task through its lifecycle on behalf of a responder.
type TaskAPI interface {
	Start(ctx context.Context, taskID string) error
	Complete(ctx context.Context, taskID string) error
}

// HTTPTaskAPI calls the coordinator REST API.
type HTTPTaskAPI struct {
	base  string
	actor string
	cli   *http.Client
}

// NewHTTPTaskAPI returns a client for the API at base.
func NewHTTPTaskAPI(base string, conf auth.Conf) (*HTTPTaskAPI, error) {
	cli, err := auth.NewHTTPClient(conf, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &HTTPTaskAPI{base: strings.TrimSuffix(base, "/"), actor: "simulator", cli: cli}, nil
}

// Start implements TaskAPI.
func (a *HTTPTaskAPI) Start(ctx context.Context, taskID string) error {
	return a.post(ctx, taskID, "start")
}

// Complete implements TaskAPI.
func (a *HTTPTaskAPI) Complete(ctx context.Context, taskID string) error {
	return a.post(ctx, taskID, "complete")
}

func (a *HTTPTaskAPI) post(ctx context.Context, taskID, action string) error {
	u := a.base + "/api/tasks/" + url.PathEscape(taskID) + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Actor", a.actor)
	resp, err := a.cli.Do(req)
	if err != nil {
		return fmt.Errorf("%s task %s: %w", action, taskID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 300 {
		return nil
	}
	var body api.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Message == "" {
		return fmt.Errorf("%s task %s: status %d", action, taskID, resp.StatusCode)
	}
	return fmt.Errorf("%s task %s: %s (%s)", action, taskID, body.Message, body.ErrorKind)
}
