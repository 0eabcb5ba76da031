package sessions

// State names as reported by the status endpoint.
const (
	StateNew        = "new"
	StateCodeSent   = "code_sent"
	StateAuthorized = "authorized"
)

// State is the handshake position of a Record. The only implementations are
// CodeSent and Authorized, so a verification handle cannot exist outside
// CodeSent.
type State interface {
	Name() string
	isState()
}

// CodeSent means a login code was requested and not yet redeemed.
type CodeSent struct {
	// Handle is the phone code hash returned with the code request. It may be
	// empty when the code was requested out of band.
	Handle string
	// PasswordRequired is set once the code was accepted and Telegram asked
	// for the two-factor password.
	PasswordRequired bool
}

func (CodeSent) Name() string { return StateCodeSent }
func (CodeSent) isState()     {}

// Authorized means the connection is signed in.
type Authorized struct{}

func (Authorized) Name() string { return StateAuthorized }
func (Authorized) isState()     {}
