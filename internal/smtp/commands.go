package smtp

import "fmt"

type Command struct {
	Name      string
	Structure string
	// Secret commands carry credentials; only Name shows up in traces and errors.
	Secret bool
}

func (c Command) Line(args ...any) string {
	if len(args) == 0 {
		return c.Structure
	}
	return fmt.Sprintf(c.Structure, args...)
}

var (
	CmdEhlo = Command{
		Name:      "EHLO",
		Structure: "EHLO %s",
	}

	CmdStartTLS = Command{
		Name:      "STARTTLS",
		Structure: "STARTTLS",
	}

	CmdAuthLogin = Command{
		Name:      "AUTH LOGIN",
		Structure: "AUTH LOGIN",
	}

	CmdAuthUsername = Command{
		Name:      "AUTH LOGIN username",
		Structure: "%s",
		Secret:    true,
	}

	CmdAuthPassword = Command{
		Name:      "AUTH LOGIN password",
		Structure: "%s",
		Secret:    true,
	}

	CmdMailFrom = Command{
		Name:      "MAIL FROM",
		Structure: "MAIL FROM:<%s>",
	}

	CmdRcptTo = Command{
		Name:      "RCPT TO",
		Structure: "RCPT TO:<%s>",
	}

	CmdData = Command{
		Name:      "DATA",
		Structure: "DATA",
	}

	CmdDataEnd = Command{
		Name:      "end of data",
		Structure: ".",
	}

	CmdQuit = Command{
		Name:      "QUIT",
		Structure: "QUIT",
	}
)
