// Package session implements the per-user workflow state machine and its
// store. The machine itself is pure: a transition takes the current session,
// one admitted event, and the workflow rules, and returns the next state plus
// the side-effect intents the dispatcher must execute. The machine never
// calls the document engine or the transport.
package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/constants"
)

// Slash commands understood by the workflow machine.
const (
	CommandStart     = "/start"
	CommandHelp      = "/help"
	CommandCancel    = "/cancel"
	CommandUnlock    = "/unlock"
	CommandDelete    = "/delete"
	CommandWatermark = "/watermark"
	CommandMerge     = "/merge"
	CommandDone      = "/done"
)

// User-facing prompts. The dispatcher sends these verbatim.
const (
	promptHelp = "Send /unlock, /delete <pages>, /watermark or /merge to start, " +
		"/cancel to abandon the current operation."
	promptSendFile       = "Send the document to process."
	promptSendPassword   = "Send the password for this document."
	promptWrongPassword  = "Wrong password, try again (%d/%d)."
	promptTooManyTries   = "Too many failed passwords. Operation abandoned."
	promptSendWatermark  = "Send the text to stamp on every page."
	promptBatchStarted   = "Send the documents to merge, then /done."
	promptBatchAdded     = "Added (%d). Send more or /done."
	promptBatchFull      = "Batch limit reached (%d). Confirm to merge or cancel."
	promptBatchConfirm   = "Merge %d documents?"
	promptBatchTooSmall  = "Need at least two documents to merge."
	promptBatchDiscarded = "Batch discarded."
	promptDeleteUsage    = "Usage: /delete <pages>, e.g. /delete 2-4,7"
	promptProcessing     = "Still working on your document."
	promptCancelled      = "Operation cancelled."
	promptNothingActive  = "Nothing to cancel."
	promptJobDone        = "Done. Your document is ready."
	promptJobFailed      = "Processing failed: %s."
)

// Rules carries the per-event workflow parameters. Batch size comes from the
// caller's tier; the password attempt cap is global.
type Rules struct {
	MaxBatchSize        int
	MaxPasswordAttempts int
}

// Transition applies one admitted event to the session in place and returns
// the resulting state, intents, and whether the event was a no-op for the
// current state. Every (state, event) pair is defined; irrelevant events
// produce an explicit ignored outcome, never an error.
func Transition(s *models.UserSession, event models.InboundEvent, rules Rules) service.SessionResult {
	if rules.MaxBatchSize <= 0 {
		rules.MaxBatchSize = constants.DefaultMaxBatchSize
	}
	if rules.MaxPasswordAttempts <= 0 {
		rules.MaxPasswordAttempts = constants.DefaultMaxPasswordAttempts
	}

	// Cancellation is honored in every state.
	if event.Type == constants.EventCommand && event.Command == CommandCancel {
		return cancel(s, event)
	}

	switch s.State {
	case constants.StateIdle:
		return fromIdle(s, event)
	case constants.StateAwaitingFile:
		return fromAwaitingFile(s, event)
	case constants.StateAwaitingPassword:
		return fromAwaitingPassword(s, event)
	case constants.StateCollectingBatch:
		return fromCollectingBatch(s, event, rules)
	case constants.StateAwaitingBatchConfirm:
		return fromAwaitingBatchConfirm(s, event)
	case constants.StateAwaitingWatermarkText:
		return fromAwaitingWatermarkText(s, event)
	case constants.StateProcessing:
		return fromProcessing(s, event, rules)
	default:
		// Unknown states cannot be constructed through the API; treat a
		// corrupted record as abandoned.
		s.Reset()
		return ignored(s, models.ReplyIntent(s.UserID, promptHelp))
	}
}

func cancel(s *models.UserSession, event models.InboundEvent) service.SessionResult {
	if s.State == constants.StateIdle {
		return ignored(s, models.ReplyIntent(s.UserID, promptNothingActive))
	}
	intents := []models.Intent{}
	if s.State == constants.StateProcessing {
		intents = append(intents, models.CancelIntent())
	}
	intents = append(intents, models.ReplyIntent(s.UserID, promptCancelled))
	s.Reset()
	return service.SessionResult{State: s.State, Intents: intents}
}

func fromIdle(s *models.UserSession, event models.InboundEvent) service.SessionResult {
	switch event.Type {
	case constants.EventCommand:
		switch event.Command {
		case CommandStart, CommandHelp:
			return done(s, models.ReplyIntent(s.UserID, promptHelp))
		case CommandUnlock:
			s.State = constants.StateAwaitingFile
			s.Context = models.WorkflowContext{PendingOp: &models.PendingOpContext{Op: constants.JobUnlock}}
			return done(s, models.ReplyIntent(s.UserID, promptSendFile))
		case CommandDelete:
			if len(event.Args) == 0 {
				return ignored(s, models.ReplyIntent(s.UserID, promptDeleteUsage))
			}
			s.State = constants.StateAwaitingFile
			s.Context = models.WorkflowContext{PendingOp: &models.PendingOpContext{
				Op:    constants.JobDeletePages,
				Pages: strings.Join(event.Args, ","),
			}}
			return done(s, models.ReplyIntent(s.UserID, promptSendFile))
		case CommandWatermark:
			s.State = constants.StateAwaitingFile
			s.Context = models.WorkflowContext{PendingOp: &models.PendingOpContext{Op: constants.JobWatermark}}
			return done(s, models.ReplyIntent(s.UserID, promptSendFile))
		case CommandMerge:
			s.State = constants.StateCollectingBatch
			s.Context = models.WorkflowContext{Batch: &models.BatchContext{}}
			return done(s, models.ReplyIntent(s.UserID, promptBatchStarted))
		}
		return ignored(s, models.ReplyIntent(s.UserID, promptHelp))
	case constants.EventFileUpload:
		// A bare upload with no operation chosen yet.
		return ignored(s, models.ReplyIntent(s.UserID, promptHelp))
	default:
		return ignored(s)
	}
}

func fromAwaitingFile(s *models.UserSession, event models.InboundEvent) service.SessionResult {
	if event.Type != constants.EventFileUpload || event.File == nil {
		return ignored(s, models.ReplyIntent(s.UserID, promptSendFile))
	}

	op := s.Context.PendingOp
	switch op.Op {
	case constants.JobUnlock:
		s.State = constants.StateAwaitingPassword
		s.Context = models.WorkflowContext{Unlock: &models.UnlockContext{File: *event.File}}
		return done(s, models.ReplyIntent(s.UserID, promptSendPassword))
	case constants.JobDeletePages:
		job := &models.Job{
			ID:         jobID(event),
			UserID:     s.UserID,
			Type:       constants.JobDeletePages,
			Source:     event.File,
			Parameters: map[string]string{"pages": op.Pages},
		}
		s.State = constants.StateProcessing
		s.Context = models.WorkflowContext{Processing: &models.ProcessingContext{JobID: job.ID, Type: job.Type}}
		return done(s, models.SubmitIntent(job))
	case constants.JobWatermark:
		s.State = constants.StateAwaitingWatermarkText
		s.Context = models.WorkflowContext{Watermark: &models.WatermarkContext{File: *event.File}}
		return done(s, models.ReplyIntent(s.UserID, promptSendWatermark))
	}

	s.Reset()
	return ignored(s, models.ReplyIntent(s.UserID, promptHelp))
}

func fromAwaitingPassword(s *models.UserSession, event models.InboundEvent) service.SessionResult {
	if event.Type != constants.EventTextMessage || event.Text == "" {
		return ignored(s, models.ReplyIntent(s.UserID, promptSendPassword))
	}

	unlock := s.Context.Unlock
	job := &models.Job{
		ID:         jobID(event),
		UserID:     s.UserID,
		Type:       constants.JobUnlock,
		Source:     &unlock.File,
		Parameters: map[string]string{"password": event.Text},
	}
	s.State = constants.StateProcessing
	s.Context = models.WorkflowContext{Processing: &models.ProcessingContext{
		JobID:  job.ID,
		Type:   job.Type,
		Unlock: unlock,
	}}
	return done(s, models.SubmitIntent(job))
}

func fromCollectingBatch(s *models.UserSession, event models.InboundEvent, rules Rules) service.SessionResult {
	batch := s.Context.Batch
	switch {
	case event.Type == constants.EventFileUpload && event.File != nil:
		batch.Files = append(batch.Files, *event.File)
		if len(batch.Files) >= rules.MaxBatchSize {
			s.State = constants.StateAwaitingBatchConfirm
			return done(s, models.ReplyIntent(s.UserID, fmt.Sprintf(promptBatchFull, len(batch.Files))))
		}
		return done(s, models.ReplyIntent(s.UserID, fmt.Sprintf(promptBatchAdded, len(batch.Files))))
	case event.Type == constants.EventCommand && event.Command == CommandDone:
		if len(batch.Files) < 2 {
			return ignored(s, models.ReplyIntent(s.UserID, promptBatchTooSmall))
		}
		s.State = constants.StateAwaitingBatchConfirm
		return done(s, models.ReplyIntent(s.UserID, fmt.Sprintf(promptBatchConfirm, len(batch.Files))))
	default:
		return ignored(s, models.ReplyIntent(s.UserID, promptBatchStarted))
	}
}

func fromAwaitingBatchConfirm(s *models.UserSession, event models.InboundEvent) service.SessionResult {
	if event.Type != constants.EventCallbackAction {
		return ignored(s, models.ReplyIntent(s.UserID, fmt.Sprintf(promptBatchConfirm, len(s.Context.Batch.Files))))
	}

	switch event.Action {
	case models.ActionConfirmBatch:
		job := &models.Job{
			ID:      jobID(event),
			UserID:  s.UserID,
			Type:    constants.JobMerge,
			Sources: s.Context.Batch.Files,
		}
		s.State = constants.StateProcessing
		s.Context = models.WorkflowContext{Processing: &models.ProcessingContext{JobID: job.ID, Type: job.Type}}
		return done(s, models.SubmitIntent(job))
	case models.ActionCancelBatch:
		s.Reset()
		return done(s, models.ReplyIntent(s.UserID, promptBatchDiscarded))
	default:
		return ignored(s, models.ReplyIntent(s.UserID, fmt.Sprintf(promptBatchConfirm, len(s.Context.Batch.Files))))
	}
}

func fromAwaitingWatermarkText(s *models.UserSession, event models.InboundEvent) service.SessionResult {
	if event.Type != constants.EventTextMessage || event.Text == "" {
		return ignored(s, models.ReplyIntent(s.UserID, promptSendWatermark))
	}

	job := &models.Job{
		ID:         jobID(event),
		UserID:     s.UserID,
		Type:       constants.JobWatermark,
		Source:     &s.Context.Watermark.File,
		Parameters: map[string]string{"text": event.Text},
	}
	s.State = constants.StateProcessing
	s.Context = models.WorkflowContext{Processing: &models.ProcessingContext{JobID: job.ID, Type: job.Type}}
	return done(s, models.SubmitIntent(job))
}

func fromProcessing(s *models.UserSession, event models.InboundEvent, rules Rules) service.SessionResult {
	if event.Type != constants.EventJobResult || event.Result == nil {
		return ignored(s, models.ReplyIntent(s.UserID, promptProcessing))
	}

	proc := s.Context.Processing
	result := event.Result
	if result.JobID != proc.JobID {
		// A stale result from a job that was already superseded.
		return ignored(s)
	}

	if result.Success {
		s.Reset()
		return done(s, models.ReplyIntent(s.UserID, promptJobDone))
	}

	// A rejected password resumes the prompt until the attempt cap.
	if result.ErrorKind == models.JobErrorBadPassword && proc.Unlock != nil {
		unlock := proc.Unlock
		unlock.Attempts++
		if unlock.Attempts >= rules.MaxPasswordAttempts {
			s.Reset()
			return done(s, models.ReplyIntent(s.UserID, promptTooManyTries))
		}
		s.State = constants.StateAwaitingPassword
		s.Context = models.WorkflowContext{Unlock: unlock}
		return done(s, models.ReplyIntent(s.UserID,
			fmt.Sprintf(promptWrongPassword, unlock.Attempts, rules.MaxPasswordAttempts)))
	}

	s.Reset()
	return done(s, models.ReplyIntent(s.UserID, fmt.Sprintf(promptJobFailed, failureText(result.ErrorKind))))
}

func failureText(kind models.JobErrorKind) string {
	switch kind {
	case models.JobErrorCorruptFile:
		return "the document could not be read"
	case models.JobErrorCancelled:
		return "the operation was cancelled"
	default:
		return "an internal error occurred"
	}
}

// jobID derives the job identifier from the triggering event so a replayed
// event sequence produces identical jobs.
func jobID(event models.InboundEvent) string {
	if event.ID != "" {
		return event.ID
	}
	return uuid.NewString()
}

func done(s *models.UserSession, intents ...models.Intent) service.SessionResult {
	return service.SessionResult{State: s.State, Intents: intents}
}

func ignored(s *models.UserSession, intents ...models.Intent) service.SessionResult {
	return service.SessionResult{State: s.State, Intents: intents, Ignored: true}
}
