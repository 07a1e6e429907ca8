package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// Browsers preflight every credentialed API call; CorsMiddleware answers them.
	s.RegisterRouteHandler("OPTIONS "+RouteAPIPrefix, ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	// AUTH
	s.RegisterRouteHandler("GET "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthCallback, ChainMiddleware(s.CallbackHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthToken, ChainMiddleware(s.TokenHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteAuthProfile, ChainMiddleware(s.ProfileHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(false), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(true), s.APIMiddleware()...))

	// BUCKETS
	s.RegisterRouteHandler("GET "+RouteBuckets, ChainMiddleware(s.ListBucketsHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteBucketCreate, ChainMiddleware(s.CreateBucketHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("DELETE "+RouteBucket, ChainMiddleware(s.DeleteBucketHandler(), s.APIMiddleware(s.RequireSession())...))

	// MODELS
	s.RegisterRouteHandler("GET "+RouteModels, ChainMiddleware(s.ListModelsHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteModels, ChainMiddleware(s.UploadModelHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteModelStatus, ChainMiddleware(s.ModelStatusHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteModelManifest, ChainMiddleware(s.ModelManifestHandler(), s.APIMiddleware(s.RequireSession())...))

	// HUBS
	s.RegisterRouteHandler("GET "+RouteHubs, ChainMiddleware(s.HubsHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteHubProjects, ChainMiddleware(s.ProjectsHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteProjectContent, ChainMiddleware(s.ProjectContentsHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteItemVersions, ChainMiddleware(s.ItemVersionsHandler(), s.APIMiddleware(s.RequireSession())...))
}
