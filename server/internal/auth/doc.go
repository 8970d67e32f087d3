// Package auth decides which role a joining connection receives and guards the
// ops surfaces with an API key.
//
// Policy resolves the role for an init request. Two modes exist:
//
//   - static: the privileged role is granted only to tokens listed in the admin
//     key set (loaded from the environment, hot-reloadable via SetKeys).
//   - first_joiner: the token that first joined a room owns it and always
//     receives the privileged role there.
//
// In either mode a token that asks for a privileged role it is not entitled to
// gets ErrPrivilegeDenied; observers are always admitted.
//
// APIKeyMiddleware and APIKeyInterceptor check a shared key on the HTTP ops API
// and the gRPC health service. An empty key disables the check.
package auth
