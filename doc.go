/*
Package gateway provides the API gateway of the assessment platform.

The gateway receives every inbound HTTP request, decides per path
prefix which downstream service owns it, authenticates it via one of
the pluggable principal resolution strategies, and forwards it either
through a buffering HTTP client or through a raw streaming relay for
Server-Sent Events.

The root package only wires the parts together. The forwarding core
lives in the proxy package, principal resolution in the auth package,
and the command line entry point in cmd/gateway.

Starting the gateway from code:

	err := gateway.Run(gateway.Options{
		Address:              ":9090",
		Environment:          "production",
		TokenSecret:          secret,
		PrimaryAPIURL:        "http://api.internal:3000",
		CredentialManagerURL: "https://credentials.internal",
	})

Run blocks until SIGTERM or SIGINT, then drains the in-flight
requests.
*/
package gateway
