package kratos

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-patient-auth"
	kratosclient "github.com/ory/kratos-client-go"
)

// flowErrorBody covers both flow payloads returned on 400 and the generic
// error envelope used elsewhere.
type flowErrorBody struct {
	UI struct {
		Messages []uiMessage `json:"messages"`
		Nodes    []struct {
			Messages []uiMessage `json:"messages"`
		} `json:"nodes"`
	} `json:"ui"`
	Error struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

type uiMessage struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// firstMessage picks the message shown to the user: flow level messages
// first, then field messages, then the generic envelope.
func (b flowErrorBody) firstMessage() string {
	for _, m := range b.UI.Messages {
		if m.Type == "error" || m.Type == "" {
			return m.Text
		}
	}
	for _, n := range b.UI.Nodes {
		for _, m := range n.Messages {
			if m.Type == "error" || m.Type == "" {
				return m.Text
			}
		}
	}
	if b.Error.Reason != "" {
		return b.Error.Reason
	}
	return b.Error.Message
}

// translateError maps an API failure to the portal error model. Flow
// rejections become AuthRejected carrying the server message.
func translateError(err error, resp *http.Response, op string) error {
	if err == nil {
		return nil
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	var apiErr *kratosclient.GenericOpenAPIError
	if errors.As(err, &apiErr) {
		var body flowErrorBody
		if jsonErr := json.Unmarshal(apiErr.Body(), &body); jsonErr == nil {
			if msg := strings.TrimSpace(body.firstMessage()); msg != "" && rejects(status) {
				return auth.NewAuthRejected(err, msg)
			}
		}
	}

	if rejects(status) {
		return auth.NewAuthRejected(err, http.StatusText(status))
	}

	return errors.Wrap(err, errors.CategoryOperation, "identity service "+op+" failed").
		WithMetadata(map[string]any{"status": status, "operation": op})
}

func rejects(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// isUnauthenticated reports a whoami answer meaning the token is dead
func isUnauthenticated(resp *http.Response) bool {
	return resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden)
}
