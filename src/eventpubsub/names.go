package eventpubsub

const (
	UserRegisteredEvent         = "UserRegisteredEvent"
	UserApprovedEvent           = "UserApprovedEvent"
	UserRejectedEvent           = "UserRejectedEvent"
	PasswordResetRequestedEvent = "PasswordResetRequestedEvent"
	BacktestCompletedEvent      = "BacktestCompletedEvent"
	BacktestFailedEvent         = "BacktestFailedEvent"
	Error                       = "DefaultError"
)
