package models

// Intent is a side-effect request emitted by a session transition. The state
// machine never performs side effects itself; it hands intents to the
// dispatcher, which forwards them to the document engine or the reply
// channel. Like WorkflowContext this is a closed set of variants: exactly
// one field is populated.
type Intent struct {
	// Reply asks the dispatcher to send a message back to the user
	Reply *OutboundReply

	// Submit asks the dispatcher to start a document engine job
	Submit *Job

	// CancelJob asks the dispatcher to abandon the user's in-flight job
	CancelJob bool
}

// ReplyIntent builds a reply intent.
func ReplyIntent(userID, text string) Intent {
	return Intent{Reply: &OutboundReply{UserID: userID, Text: text}}
}

// SubmitIntent builds a job submission intent.
func SubmitIntent(job *Job) Intent {
	return Intent{Submit: job}
}

// CancelIntent builds a job cancellation intent.
func CancelIntent() Intent {
	return Intent{CancelJob: true}
}
