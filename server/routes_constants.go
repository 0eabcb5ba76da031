package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Login handshake
	RouteStartAuth  = "/start_auth"
	RouteVerifyCode = "/verify_code"
	RouteSignOut    = "/sign_out"

	// Messaging
	RouteSendMessage = "/send_message"
	RouteSendAudio   = "/send_audio_message"

	// Introspection
	RouteSessionStatus = "/sessions/{phone}"
	RouteHealth        = "/healthz"
)
