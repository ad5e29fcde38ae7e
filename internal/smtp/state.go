package smtp

// State is the reply the session is currently waiting for. Every state has
// exactly one handler in Session.handle.
type State int

const (
	// StateNew is a session that has not been connected yet.
	StateNew State = iota

	StateAwaitGreeting
	StateAwaitEhlo
	StateAwaitHelo

	// StateAwaitAuthPlain waits for the single AUTH PLAIN reply.
	StateAwaitAuthPlain
	// StateAwaitLoginUser waits for the "Username:" challenge.
	StateAwaitLoginUser
	// StateAwaitLoginPass waits for the "Password:" challenge.
	StateAwaitLoginPass
	// StateAwaitXOAuth2 waits for the AUTH XOAUTH2 reply.
	StateAwaitXOAuth2
	// StateAwaitAuthComplete waits for the final reply of any mechanism.
	StateAwaitAuthComplete

	StateIdle
	StateAwaitMailAck
	StateAwaitRcptAck
	StateAwaitDataAck

	// StateData is data mode: the caller streams the body and no reply is
	// expected until End.
	StateData
	StateAwaitStreamAck

	StateAwaitRsetAck
	StateAwaitQuitAck

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateAwaitGreeting:
		return "AwaitGreeting"
	case StateAwaitEhlo:
		return "AwaitEhlo"
	case StateAwaitHelo:
		return "AwaitHelo"
	case StateAwaitAuthPlain:
		return "AwaitAuthPlain"
	case StateAwaitLoginUser:
		return "AwaitLoginUser"
	case StateAwaitLoginPass:
		return "AwaitLoginPass"
	case StateAwaitXOAuth2:
		return "AwaitXOAuth2"
	case StateAwaitAuthComplete:
		return "AwaitAuthComplete"
	case StateIdle:
		return "Idle"
	case StateAwaitMailAck:
		return "AwaitMailAck"
	case StateAwaitRcptAck:
		return "AwaitRcptAck"
	case StateAwaitDataAck:
		return "AwaitDataAck"
	case StateData:
		return "Data"
	case StateAwaitStreamAck:
		return "AwaitStreamAck"
	case StateAwaitRsetAck:
		return "AwaitRsetAck"
	case StateAwaitQuitAck:
		return "AwaitQuitAck"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Authenticating reports whether s belongs to the auth sub-machine.
func (s State) Authenticating() bool {
	switch s {
	case StateAwaitAuthPlain, StateAwaitLoginUser, StateAwaitLoginPass, StateAwaitXOAuth2, StateAwaitAuthComplete:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateClosed
}
