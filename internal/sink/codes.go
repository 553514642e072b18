package sink

const (
	StatusServiceReady  = "220 %s SMTP service ready" // server hostname
	StatusReadyStarting = "220 Ready to start TLS"
	StatusConnClosed    = "221 %s closing connection" // server hostname
	StatusAuthSuccess   = "235 Authentication successful"
	StatusOK            = "250 OK"
	StatusGreeting      = "%s greets %s" // server hostname, client hostname

	StatusAuthUsername   = "334 VXNlcm5hbWU6" // Base64 encoded "Username:"
	StatusAuthPassword   = "334 UGFzc3dvcmQ6" // Base64 encoded "Password:"
	StatusStartMailInput = "354 Start mail input; end with <CRLF>.<CRLF>"

	StatusInternalServerError = "451 Requested action aborted: local error in processing"
	StatusTooManyRecipients   = "452 Too many recipients"

	StatusBadCommand           = "500 Unrecognized command"
	StatusLineTooLong          = "500 Line too long"
	StatusInvalidBase64        = "501 Invalid base64 encoding"
	StatusInvalidAddress       = "501 Invalid address"
	StatusNotImplemented       = "502 Command not implemented"
	StatusBadSequence          = "503 Bad sequence: '%s' required first" // required command
	StatusAlreadyTLS           = "503 TLS already active"
	StatusPipelinedStartTLS    = "503 Commands pipelined after STARTTLS"
	StatusAuthRequired         = "530 Authentication required"
	StatusAuthenticationFailed = "535 Authentication failed"
	StatusEncryptionRequired   = "538 Encryption required for requested authentication mechanism"
	StatusNoSuchUser           = "550 No such user here"
	StatusMessageTooLarge      = "552 Message exceeds fixed maximum message size"
)
