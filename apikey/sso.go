package apikey

// Wildcard in a session's SSO scope allows any key of the tenant.
const Wildcard = "*"

// CanShareSession reports whether the requesting key may use a session
// carrying the given SSO scope.
//
// A session created without any API key (requestingKeyID empty) is
// always shareable: direct-OTP flows predate SSO scoping. For everyone
// else an absent or empty scope denies by default; a wildcard entry
// allows any key of the tenant; otherwise explicit membership is
// required.
func CanShareSession(requestingKeyID string, scope []string) bool {
	if requestingKeyID == "" {
		return true
	}
	for _, entry := range scope {
		if entry == Wildcard || entry == requestingKeyID {
			return true
		}
	}
	return false
}
