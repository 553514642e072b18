package mailhandler

type SendMailReq struct {
	From     string            `json:"from"`
	FromName string            `json:"from_name,omitempty"`
	To       []string          `json:"to"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Headers  map[string]string `json:"headers,omitempty"`
}
