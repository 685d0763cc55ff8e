package port

import "time"

// RequestCarrier reads session tokens from an inbound request.
type RequestCarrier interface {
	AccessToken() (string, bool)
	RefreshToken() (string, bool)
	AntiCsrfToken() (string, bool)
}

// ResponseCarrier writes session tokens to an outbound response.
type ResponseCarrier interface {
	AttachAccessToken(token string, expiry time.Time, domain, path string, secure bool)
	AttachRefreshToken(token string, expiry time.Time, domain, path string, secure bool)
	SetIDRefreshToken(token string, expiry time.Time)
	SetAntiCsrfToken(token string)
	ClearSessionTokens(domain string, secure bool, accessPath, refreshPath string)
}
