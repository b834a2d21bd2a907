// Package passwordless exchanges a one-time code for a completed login.
//
// GrantUser checks, in order: the identifier format, that the code exists,
// that it has not expired, that it was not used, that its login session
// exists and was started for the same username, and optionally that the
// request comes from the address that started the session. An address
// mismatch redirects to the invalid-session page instead of failing, unless
// the service is configured to reject it. The code is marked used before
// the front-channel response is built.
package passwordless
