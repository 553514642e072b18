package sink

import "strings"

type Session struct {
	Hostname     string
	RemoteAddr   string
	TLSActive    bool
	HeloReceived bool
	Mail         Mail
	AuthLogin    AuthLogin
}

type Mail struct {
	// Started is set by MAIL FROM; From may legitimately be empty.
	Started     bool
	From        string
	To          []string
	DataBuffer  []string
	ReadingData bool
	TooLarge    bool
}

func (m *Mail) Data() string {
	return strings.Join(m.DataBuffer, "\r\n")
}

// Size counts the data received so far, line terminators included.
func (m *Mail) Size() int {
	size := 0
	for _, line := range m.DataBuffer {
		size += len(line) + 2
	}
	return size
}

func (m *Mail) Reset() {
	*m = Mail{}
}

type AuthLogin struct {
	RequestedUsername bool
	Username          string
	RequestedPassword bool
	Password          string
	IsAuthenticated   bool
}
