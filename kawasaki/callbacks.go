package kawasaki

// Callbacks provides hooks for backup session events.
// All callbacks are optional - nil callbacks use default behavior.
type Callbacks struct {
	// OnStatus is called with human-readable phase updates, one line per
	// session milestone (connecting, handshake steps, streaming, done).
	OnStatus func(message string)

	// OnProgress is called once for every progress interval boundary the
	// output file crosses, with the boundary value in bytes. Boundaries
	// arrive in increasing order and never exceed the bytes written.
	OnProgress func(bytesWritten int64)

	// OnError is called exactly once with the session failure before
	// Client.Run returns it.
	OnError func(err error)

	// OnComplete is called after a successful backup with the path of the
	// decoded backup file and the path of the raw debug capture.
	OnComplete func(outputPath, debugPath string)
}

// defaultCallbacks returns a set of callbacks with default implementations.
func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnStatus:   func(string) {},
		OnProgress: func(int64) {},
		OnError:    func(error) {},
		OnComplete: func(string, string) {},
	}
}

// mergeCallbacks merges user callbacks with defaults.
// User callbacks override defaults, nil callbacks use defaults.
func mergeCallbacks(user *Callbacks) *Callbacks {
	if user == nil {
		return defaultCallbacks()
	}

	def := defaultCallbacks()

	result := &Callbacks{}

	// Status
	if user.OnStatus != nil {
		result.OnStatus = user.OnStatus
	} else {
		result.OnStatus = def.OnStatus
	}

	// Progress
	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	} else {
		result.OnProgress = def.OnProgress
	}

	// Error
	if user.OnError != nil {
		result.OnError = user.OnError
	} else {
		result.OnError = def.OnError
	}

	// Complete
	if user.OnComplete != nil {
		result.OnComplete = user.OnComplete
	} else {
		result.OnComplete = def.OnComplete
	}

	return result
}

// The emit helpers isolate the session from its observers: a panic inside a
// callback is swallowed so a broken progress bar cannot abort a transfer
// that is otherwise healthy.

func (c *Callbacks) emitStatus(message string) {
	defer func() { _ = recover() }()
	c.OnStatus(message)
}

func (c *Callbacks) emitProgress(bytesWritten int64) {
	defer func() { _ = recover() }()
	c.OnProgress(bytesWritten)
}

func (c *Callbacks) emitError(err error) {
	defer func() { _ = recover() }()
	c.OnError(err)
}

func (c *Callbacks) emitComplete(outputPath, debugPath string) {
	defer func() { _ = recover() }()
	c.OnComplete(outputPath, debugPath)
}
