// Package csrfapi bootstraps a CSRF-protected HTTP session.
//
// The workflow mirrors a browser SPA talking to a cookie-session API:
// GET the endpoint to obtain a token from the X-CSRF-Token response header,
// then reuse the same cookie jar and send the token on every later request
// (NewBootstrapper -> InitializeClient -> Post/Get/Do).
package csrfapi
