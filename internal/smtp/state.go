package smtp

import "fmt"

type SessionState int

const (
	StateDisconnected SessionState = iota
	StateGreeted
	StateIdentified
	StateEncryptionNegotiating
	StateEncryptionEstablished
	StateAuthenticated
	StateReady
	StateClosed
	StateFailed
)

var stateNames = map[SessionState]string{
	StateDisconnected:          "Disconnected",
	StateGreeted:               "Greeted",
	StateIdentified:            "Identified",
	StateEncryptionNegotiating: "EncryptionNegotiating",
	StateEncryptionEstablished: "EncryptionEstablished",
	StateAuthenticated:         "Authenticated",
	StateReady:                 "Ready",
	StateClosed:                "Closed",
	StateFailed:                "Failed",
}

func (s SessionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}
