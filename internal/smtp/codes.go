package smtp

const (
	CodeServiceReady    = 220
	CodeServiceClosing  = 221
	CodeAuthSuccess     = 235
	CodeOK              = 250
	CodeAuthContinue    = 334
	CodeStartMailInput  = 354
	CodeTransientFailed = 400
	CodePermanentFailed = 500
)
