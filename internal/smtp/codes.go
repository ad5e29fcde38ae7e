package smtp

const (
	CodeServiceReady   = 220
	CodeServiceClosing = 221
	CodeAuthSuccess    = 235
	CodeOK             = 250
	CodeAuthContinue   = 334
	CodeStartMailInput = 354
)

const (
	challengeUsername = "VXNlcm5hbWU6" // Base64 encoded "Username:"
	challengePassword = "UGFzc3dvcmQ6" // Base64 encoded "Password:"
)

const (
	cmdEhlo     = "EHLO %s"
	cmdHelo     = "HELO %s"
	cmdAuth     = "AUTH %s"
	cmdMailFrom = "MAIL FROM:<%s>"
	cmdRcptTo   = "RCPT TO:<%s>"
	cmdData     = "DATA"
	cmdRset     = "RSET"
	cmdQuit     = "QUIT"
)
