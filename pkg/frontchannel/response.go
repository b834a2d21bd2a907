// Package frontchannel builds the browser-facing response that ends a
// login: a redirect back to the application carrying an authorization code
// or tokens.
package frontchannel

import (
	"net/http"
	"net/url"

	"github.com/go-chi/render"
)

// Response is an HTTP response produced by a login handler. Location is set
// for redirects, Body for rendered or form_post responses.
type Response struct {
	Status   int               `json:"status"`
	Location string            `json:"location,omitempty"`
	Body     map[string]string `json:"body,omitempty"`
}

// Redirect returns a 302 to location.
func Redirect(location string) *Response {
	return &Response{Status: http.StatusFound, Location: location}
}

// IsRedirect reports whether the response sends the browser elsewhere.
func (r *Response) IsRedirect() bool {
	return r != nil && r.Location != "" && r.Status >= 300 && r.Status < 400
}

// Write sends the response. Bodies are written as JSON.
func (r *Response) Write(w http.ResponseWriter, req *http.Request) {
	if r.Location != "" {
		http.Redirect(w, req, r.Location, r.Status)
		return
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	render.Status(req, status)
	render.JSON(w, req, r.Body)
}

// withParams appends params to target's query or fragment.
func withParams(target string, params url.Values, fragment bool) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if fragment {
		u.Fragment = params.Encode()
		return u.String(), nil
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
