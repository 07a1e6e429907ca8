package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteAuthLogin    = "/api/auth/login"
	RouteAuthCallback = "/api/auth/callback"
	RouteAuthToken    = "/api/auth/token"
	RouteAuthProfile  = "/api/auth/profile"
	RouteAuthLogout   = "/api/auth/logout"

	// Bucket Routes
	RouteBuckets      = "/api/buckets"
	RouteBucketCreate = "/api/buckets/create"
	RouteBucket       = "/api/buckets/{name}"

	// Model Routes
	RouteModels         = "/api/models"
	RouteModelStatus    = "/api/models/{urn}/status"
	RouteModelManifest  = "/api/models/{urn}/manifest"
	RouteHubs           = "/api/hubs"
	RouteHubProjects    = "/api/hubs/{hub}/projects"
	RouteProjectContent = "/api/hubs/{hub}/projects/{project}/contents"
	RouteItemVersions   = "/api/hubs/{hub}/projects/{project}/contents/{item}/versions"

	// Preflight catch-all for the API
	RouteAPIPrefix = "/api/"

	RouteHealth = "/healthz"
)
