package mails

import "time"

// Delivery is what the sink hands over at the end of DATA.
type Delivery struct {
	From     string
	To       []string
	Data     string
	TLS      bool
	AuthUser string
}

type Mail struct {
	ID         string            `json:"id"`
	From       string            `json:"from"`
	To         []string          `json:"to"`
	Subject    string            `json:"subject"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Size       int               `json:"size"`
	ReceivedAt time.Time         `json:"received_at"`
	TLS        bool              `json:"tls"`
	AuthUser   string            `json:"auth_user,omitempty"`
}
