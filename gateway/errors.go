package gateway

// AuthError reports a failure to obtain an access token from the OAuth
// endpoint. Dependent calls proceed with an empty bearer and surface the
// provider's rejection instead of failing locally.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "mpesa auth: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// GatewayError reports a transport failure or undecodable response from
// the Daraja API. No local state is mutated when one is returned.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return "mpesa " + e.Op + ": " + e.Err.Error() }
func (e *GatewayError) Unwrap() error { return e.Err }
