package sink

type Command struct {
	Name      string
	Structure string
	Prefix    string
}

var (
	CmdEhlo = Command{
		Name:   "EHLO",
		Prefix: "EHLO ",
	}

	CmdHelo = Command{
		Name:   "HELO",
		Prefix: "HELO ",
	}

	CmdStartTls = Command{
		Name:      "STARTTLS",
		Prefix:    "STARTTLS",
		Structure: "STARTTLS",
	}

	CmdMailFrom = Command{
		Name:   "MAIL FROM",
		Prefix: "MAIL FROM:",
	}

	CmdRcptTo = Command{
		Name:   "RCPT TO",
		Prefix: "RCPT TO:",
	}

	CmdData = Command{
		Name:   "DATA",
		Prefix: "DATA",
	}

	CmdRset = Command{
		Name:   "RSET",
		Prefix: "RSET",
	}

	CmdNoop = Command{
		Name:   "NOOP",
		Prefix: "NOOP",
	}

	CmdQuit = Command{
		Name:   "QUIT",
		Prefix: "QUIT",
	}

	// extensions
	CmdAuthLogin = Command{
		Name:      "AUTH LOGIN",
		Prefix:    "AUTH LOGIN",
		Structure: "AUTH LOGIN PLAIN",
	}

	CmdAuthPlain = Command{
		Name:   "AUTH PLAIN",
		Prefix: "AUTH PLAIN",
	}
)
