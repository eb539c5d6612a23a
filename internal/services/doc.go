// Package services implements the business logic behind the HTTP handlers:
// key issuance, redemption, the subscription mirror, telemetry, payments
// and the admin dashboard.
//
// # Architecture
//
// Services depend on the small interfaces in interfaces.go rather than on
// concrete repositories and clients, so every flow can be tested with
// testify mocks. Optional collaborators (ledger, websocket hub, notifier)
// may be nil.
//
// # Available Services
//
//	- KeyService: generates, lists and deletes serial keys
//	- RedemptionService: links a serial to a licensing API account
//	- SyncService: mirrors licensing API users in fixed windows
//	- AccountService: subscription lookup and HWID reset for a buyer
//	- TelemetryService: stores execution events and summarizes them
//	- PaymentService: verifies payment webhooks and fulfils paid orders
//	- OverviewService: dashboard figures gathered concurrently
//	- ChangelogService: release announcements
//	- SessionService: admin login
//	- HealthService: liveness and dependency readiness
//
// # Error Handling
//
// Services return *errors.APIError values. Upstream and database failures
// are wrapped with errors.Upstream and errors.Database, which keep the
// original message so callers see it verbatim.
//
// # Testing
//
//	keys := new(mockKeyStore)
//	keys.On("FindRedeemable", mock.Anything, serial).Return(key, nil)
//	result, err := svc.Redeem(ctx, serial, discordID)
package services
