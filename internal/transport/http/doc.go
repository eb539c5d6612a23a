// Package http implements the HTTP handlers of the license service.
//
// Handlers stay thin: they decode and validate the request, call a service
// through the interfaces in interfaces.go, and render the result as JSON.
// Every failure goes through errors.ErrorHandler and reaches the client as
// RFC 7807 problem details carrying an error_code extension.
//
// # Surfaces
//
//	/api/redeem, /api/account/*   buyer session (RequireSession)
//	/api/telemetry                 anonymous, IP rate limited
//	/api/webhooks/payment          HMAC signed by the payment provider
//	/api/cron/sync                 cron bearer secret
//	/api/admin/*                   admin session (RequireAdmin)
//
// Authentication and rate limiting are applied by the router in
// internal/app, so handlers read the caller from auth.ClaimsFromContext.
//
// # Sync status codes
//
// The batch and cron sync endpoints answer 206 Partial Content while windows
// remain and 200 once the mirror is complete, so callers loop on the status.
package http
