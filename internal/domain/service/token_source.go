package service

// TokenSource is the external session store. The core never decides how
// credentials are obtained; it only reacts to their presence or absence and to
// server-issued replacements.
type TokenSource interface {
	// Token returns the current bearer credential, or false if the session
	// store has none (user logged out, session expired).
	Token() (string, bool)
}
