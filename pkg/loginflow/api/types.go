package api

// Component is one element of a rendered screen.
type Component struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Label    string         `json:"label,omitempty"`
	Required bool           `json:"required,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Screen is the form a login is waiting on.
type Screen struct {
	Action     string      `json:"action"`
	Method     string      `json:"method"`
	Title      string      `json:"title,omitempty"`
	Components []Component `json:"components"`
}

// ScreenResponse is returned whenever a login suspends on a screen.
type ScreenResponse struct {
	State  string `json:"state"`
	Step   string `json:"step"`
	Screen Screen `json:"screen"`
}

// PasswordlessVerifyRequest is the body of POST /passwordless/verify.
type PasswordlessVerifyRequest struct {
	ClientID     string `json:"client_id"`
	Username     string `json:"username"`
	OTP          string `json:"otp"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	ResponseType string `json:"response_type,omitempty"`
	ResponseMode string `json:"response_mode,omitempty"`
	Scope        string `json:"scope,omitempty"`
	State        string `json:"state,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	Audience     string `json:"audience,omitempty"`
}

// ErrorResponse follows the OAuth error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
