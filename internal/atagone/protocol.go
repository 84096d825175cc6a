package atagone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client limits and defaults.
const (
	// DefaultHTTPTimeout bounds a whole exchange when NewClient builds its own
	// http.Client.
	DefaultHTTPTimeout = 10 * time.Second

	// maxResponseSize caps the body read from the device.
	maxResponseSize = 1 << 20
)

// reasonMalformed is the ProtocolError reason for a reply without
// retrieve_reply.report.
const reasonMalformed = "malformed response"

// Client speaks the device's JSON-over-HTTP protocol.
//
// Every call makes exactly one request. Retry policy belongs to callers.
type Client struct {
	http *http.Client
}

// NewClient returns a Client using httpClient. A nil httpClient selects a
// client with DefaultHTTPTimeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{http: httpClient}
}

// Retrieve asks the device at ep for its report and returns the full
// retrieve_reply object.
func (c *Client) Retrieve(ctx context.Context, ep Endpoint) (*RetrieveReply, error) {
	if ep.IsZero() {
		return nil, errNoEndpoint()
	}

	body := retrieveRequest{RetrieveMessage: RetrieveMessage{
		SeqNr: retrieveSeqNr,
		Info:  InfoReport,
	}}

	data, err := c.post(ctx, ep, body)
	if err != nil {
		return nil, err
	}
	return parseRetrieveResponse(data)
}

// Update sends control to the device at ep. Any 2xx status is success; the
// reply body is ignored.
func (c *Client) Update(ctx context.Context, ep Endpoint, control Control) error {
	if ep.IsZero() {
		return errNoEndpoint()
	}
	if control == nil {
		control = Control{}
	}

	body := updateRequest{UpdateMessage: UpdateMessage{
		SeqNr:   updateSeqNr,
		Control: control,
	}}

	_, err := c.post(ctx, ep, body)
	return err
}

// post encodes body, sends it to ep and returns the response body of a 2xx
// reply.
func (c *Client) post(ctx context.Context, ep Endpoint, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize)) //nolint:errcheck // Drain for connection reuse
		return nil, &TransportError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	return data, nil
}

// parseRetrieveResponse validates and decodes a retrieve reply body.
func parseRetrieveResponse(data []byte) (*RetrieveReply, error) {
	var resp retrieveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ProtocolError{Reason: "invalid JSON", Err: err}
		}
		return nil, &ProtocolError{Reason: reasonMalformed, Err: err}
	}
	if resp.RetrieveReply == nil || resp.RetrieveReply.Report == nil {
		return nil, &ProtocolError{Reason: reasonMalformed}
	}
	return resp.RetrieveReply, nil
}
