package smtptest

const (
	StatusServiceReady = "220 %s ESMTP service ready" // server hostname
	StatusConnClosed   = "221 2.0.0 %s closing connection"
	StatusAuthSuccess  = "235 2.7.0 Authentication successful"
	StatusOK           = "250 2.0.0 OK"
	StatusQueued       = "250 2.0.0 OK: queued as %s" // message id
	StatusGreeting     = "250 %s greets %s"           // server hostname, client hostname

	StatusAuthUsername   = "334 VXNlcm5hbWU6" // Base64 encoded "Username:"
	StatusAuthPassword   = "334 UGFzc3dvcmQ6" // Base64 encoded "Password:"
	StatusAuthEmpty      = "334 "
	StatusStartMailInput = "354 Start mail input; end with <CRLF>.<CRLF>"

	StatusLocalError = "451 4.3.0 Requested action aborted: local error in processing"

	StatusBadCommand           = "500 5.5.1 Unrecognized command"
	StatusInvalidBase64        = "501 5.5.2 Invalid base64 encoding"
	StatusNotImplemented       = "502 5.5.1 Command not implemented"
	StatusBadSequence          = "503 5.5.1 Bad sequence: '%s' required first" // required command
	StatusUnknownMechanism     = "504 5.5.4 Unrecognized authentication type"
	StatusAuthRequired         = "530 5.7.0 Authentication required"
	StatusAuthenticationFailed = "535 5.7.8 Authentication failed"
	StatusNoSuchUser           = "550 5.1.1 No such user here"
	StatusMessageTooLarge      = "552 5.3.4 Message size exceeds fixed limit"
	StatusSenderNotOwned       = "553 5.7.1 Sender address rejected: not owned by user"
)

// xoauth2Error is the base64 JSON challenge sent on a failed XOAUTH2 attempt.
const xoauth2Error = "eyJzdGF0dXMiOiI0MDEiLCJzY2hlbWVzIjoiYmVhcmVyIn0="
