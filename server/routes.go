package server

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("POST "+RouteStartAuth, ChainMiddleware(s.StartAuthHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteVerifyCode, ChainMiddleware(s.VerifyCodeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware()...))

	s.RegisterRouteHandler("POST "+RouteSendMessage, ChainMiddleware(s.SendMessageHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSendAudio, ChainMiddleware(s.SendAudioHandler(), s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteSessionStatus, ChainMiddleware(s.SessionStatusHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.RecoverMiddleware))

	// Browser preflight for the POST endpoints
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))
}
