package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tmaxmax/go-sse"

	"github.com/polebot/climber/pkg/climb"
	"github.com/polebot/climber/pkg/config"
	"github.com/polebot/climber/pkg/events"
)

func (c *Client) GetStatus() (*climb.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get session status")
	}

	var st climb.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session status: %w", err)
	}

	return &st, nil
}

// Abort asks the session to stop at the next step boundary. The robot still
// runs its final release.
func (c *Client) Abort() (string, error) {
	return c.Put("/abort", "")
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	// Remove "" around JSON string. I don't want to use a JSON decoder just for this.
	if len(ret) >= 2 && ret[0] == '"' {
		ret = ret[1 : len(ret)-1]
	}
	return ret, nil
}

// Events streams session events to fn until the session closes the stream,
// ctx is done or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(events.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Debugf("failed to close event stream: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("got %d from event stream", resp.StatusCode)
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readEvents dispatches every complete event of a server-sent event stream.
// An event cut off by the end of the stream is dropped.
func readEvents(r io.Reader, fn func(events.Event) error) error {
	for ev, err := range sse.Read(r, nil) {
		if err != nil {
			return pkgerrors.Wrap(err, "failed to read event stream")
		}
		if err := fn(events.Event{Name: ev.Type, Data: json.RawMessage(ev.Data)}); err != nil {
			return err
		}
	}
	return nil
}
