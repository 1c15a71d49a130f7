package voicesession

// SessionState is the lifecycle state of the audio pipeline.
type SessionState int

const (
	// StateIdle means no audio pipeline is active.
	StateIdle SessionState = iota
	// StateListening means the frame source is running and a recognition stream is open.
	StateListening
	// StateStopping is the transient state while the pipeline is torn down.
	StateStopping
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// CallState is the most recent call-lifecycle edge reported by the CallMonitor.
type CallState int

const (
	CallIdle CallState = iota
	CallDialing
	CallIncoming
	CallConnected
	CallDisconnected
)

func (c CallState) String() string {
	switch c {
	case CallIdle:
		return "idle"
	case CallDialing:
		return "dialing"
	case CallIncoming:
		return "incoming"
	case CallConnected:
		return "connected"
	case CallDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Active reports whether a call is initiating or in progress.
func (c CallState) Active() bool {
	switch c {
	case CallDialing, CallIncoming, CallConnected:
		return true
	default:
		return false
	}
}

// AuthorizationStatus is the recognition engine's answer to an authorization request.
type AuthorizationStatus int

const (
	AuthNotDetermined AuthorizationStatus = iota
	AuthAuthorized
	AuthDenied
	AuthRestricted
)

func (a AuthorizationStatus) String() string {
	switch a {
	case AuthAuthorized:
		return "authorized"
	case AuthDenied:
		return "denied"
	case AuthRestricted:
		return "restricted"
	default:
		return "not_determined"
	}
}
