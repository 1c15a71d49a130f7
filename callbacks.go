package voicesession

// UIState is published whenever the controller changes what the start control
// should look like.
type UIState struct {
	State   SessionState
	Enabled bool
	Label   string
	Prompt  string // text to show while listening, empty otherwise
}

// Callbacks are invoked from the controller's event loop goroutine, one at a
// time and never after Close returns. They must not call back into the
// Controller synchronously. All fields are optional (nil is allowed).
type Callbacks struct {
	OnStateChanged func(UIState)

	// OnTranscription receives every update of the active stream, final or not.
	OnTranscription func(TranscriptionUpdate)

	// OnTrigger fires after the trigger word was recognized and the response
	// handed to the synthesizer.
	OnTrigger func(word, response string)

	OnError func(err error)
}
