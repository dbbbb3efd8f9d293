package email

const (
	subjectDeadLetterFmt = "[outbox] %s delivery to %s failed permanently"
)
