package smtp

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

type Reply struct {
	Code  int
	Lines []string
	Final bool
}

func (r *Reply) Text() string {
	return strings.Join(r.Lines, "\n")
}

// readReply reads lines until the one whose code is followed by a space.
// Every continuation line must repeat the code of the first.
func (c *conn) readReply(deadline time.Time) (*Reply, error) {
	reply := &Reply{}

	for !reply.Final {
		line, err := c.readLine(deadline)
		if err != nil {
			var connErr *ConnectionError
			if len(reply.Lines) == 0 && errors.As(err, &connErr) && errors.Is(err, io.EOF) {
				return nil, &ProtocolError{Msg: "empty response"}
			}
			return nil, err
		}

		code, text, final, err := parseReplyLine(line)
		if err != nil {
			return nil, err
		}

		if len(reply.Lines) > 0 && code != reply.Code {
			return nil, &ProtocolError{Msg: "code mismatch in continuation", Line: line}
		}

		reply.Code = code
		reply.Lines = append(reply.Lines, text)
		reply.Final = final
	}

	return reply, nil
}

func parseReplyLine(line string) (code int, text string, final bool, err error) {
	if len(line) < 4 {
		return 0, "", false, &ProtocolError{Msg: "reply line too short", Line: line}
	}

	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return 0, "", false, &ProtocolError{Msg: "reply code is not 3 digits", Line: line}
		}
	}

	code, _ = strconv.Atoi(line[:3])

	return code, line[4:], line[3] == ' ', nil
}
