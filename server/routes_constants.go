package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Account & device session routes
	RouteAuthRegister  = "/api/auth/register"
	RouteAuthLogin     = "/api/auth/login"
	RouteAuthLogout    = "/api/auth/logout"
	RouteAuthLogoutAll = "/api/auth/logout-all"
	RouteAuthDevices   = "/api/auth/devices"
	RouteAuthDevice    = "/api/auth/devices/{fingerprint}"
	RouteAuthMe        = "/api/auth/me"

	// Upgraded-tier routes
	RoutePremiumPing = "/api/premium/ping"

	// Admin routes
	RouteAdminAccounts         = "/api/admin/accounts"
	RouteAdminAccount          = "/api/admin/accounts/{id}"
	RouteAdminAccountUpgrade   = "/api/admin/accounts/{id}/upgrade"
	RouteAdminAccountDowngrade = "/api/admin/accounts/{id}/downgrade"

	// CORS preflight for everything under /api/
	RouteAPIPreflight = "/api/"

	// Operational routes
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"
)
