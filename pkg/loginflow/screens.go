package loginflow

import (
	"context"
	"net/http"
	"net/url"

	"github.com/markusahlstrand/authhero-sub008/pkg/workflow"
)

// errorMessages are the texts shown for errors recorded in the context.
var errorMessages = map[string]string{
	"invalid_username":    "Enter a valid email address or phone number.",
	"code_not_found":      "The code is not valid.",
	"code_expired":        "The code has expired.",
	"code_used":           "The code has already been used.",
	"username_mismatch":   "The code was sent to another address.",
	"invalid_session":     "The code belongs to another login.",
	"RATE_LIMIT_EXCEEDED": "Too many attempts. Try again later.",
}

func (f *flow) action(sc *workflow.StepContext) string {
	return f.opts.UniversalLoginPath + "/" + url.PathEscape(sc.StateID)
}

// withError appends an error component when the context carries one.
func withError(sc *workflow.StepContext, components []workflow.Component) []workflow.Component {
	code, _ := sc.Context["error"].(string)
	if code == "" {
		return components
	}
	msg, ok := errorMessages[code]
	if !ok {
		msg = code
	}
	return append(components, workflow.Component{
		ID:     "error",
		Type:   "error",
		Label:  msg,
		Config: map[string]any{"code": code},
	})
}

func (f *flow) identifierScreen(ctx context.Context, sc *workflow.StepContext) (*workflow.Screen, error) {
	username, _ := sc.Context["username"].(string)
	return &workflow.Screen{
		Action: f.action(sc),
		Method: http.MethodPost,
		Title:  "Log in",
		Components: withError(sc, []workflow.Component{
			{
				ID:       "username",
				Type:     "text",
				Label:    "Email or phone number",
				Required: true,
				Config:   map[string]any{"value": username, "autocomplete": "username"},
			},
		}),
	}, nil
}

func (f *flow) enterCodeScreen(ctx context.Context, sc *workflow.StepContext) (*workflow.Screen, error) {
	username, _ := sc.Context["username"].(string)
	return &workflow.Screen{
		Action: f.action(sc),
		Method: http.MethodPost,
		Title:  "Enter your code",
		Components: withError(sc, []workflow.Component{
			{ID: "sent-to", Type: "text-display", Label: "We sent a code to " + username},
			{ID: "code", Type: "code", Label: "Code", Required: true, Config: map[string]any{"autocomplete": "one-time-code"}},
		}),
	}, nil
}

func (f *flow) verifyEmailScreen(ctx context.Context, sc *workflow.StepContext) (*workflow.Screen, error) {
	return &workflow.Screen{
		Action: f.action(sc),
		Method: http.MethodPost,
		Title:  "Verify your email",
		Components: withError(sc, []workflow.Component{
			{ID: "code", Type: "code", Label: "Verification code", Required: true},
		}),
	}, nil
}
