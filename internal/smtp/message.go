package smtp

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/idgen"
)

func formatMessage(env Envelope, localName, productName string, now time.Time) []byte {
	var buf bytes.Buffer

	to := make([]string, len(env.To))
	for i, rcpt := range env.To {
		to[i] = rcpt.String()
	}

	fmt.Fprintf(&buf, "From: %s\r\n", env.From.String())
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", env.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", newMessageID(localName, now))
	fmt.Fprintf(&buf, "X-Mailer: %s\r\n", productName)
	for _, h := range env.ExtraHeaders {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	buf.WriteString("\r\n")

	buf.WriteString(toCRLF(env.BodyHTML))

	return buf.Bytes()
}

// newMessageID combines the send time with a random part, so two messages
// created in the same nanosecond still differ.
func newMessageID(host string, now time.Time) string {
	return fmt.Sprintf("<%d.%s@%s>", now.UnixNano(), idgen.GenerateID(16), host)
}

func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// dataLines splits a formatted message into the lines sent after DATA.
func dataLines(msg []byte) []string {
	return strings.Split(strings.TrimSuffix(string(msg), "\r\n"), "\r\n")
}
