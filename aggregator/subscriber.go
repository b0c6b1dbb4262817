package aggregator

// Subscriber handles event subscriptions.
type Subscriber struct {
	done                     chan struct{}
	bootstrapDeferredHandler func(BootstrapDeferred)
	bootstrapDoneHandler     func(BootstrapCompleted)
	configMissingHandler     func(ConfigMissing)
	windowDeferredHandler    func(WindowDeferred)
	emptyWindowHandler       func(EmptyWindow)
	windowAggregatedHandler  func(WindowAggregated)
	broadcastFailedHandler   func(BroadcastFailed)
	invocationDoneHandler    func(InvocationDone)
}

// OnBootstrapDeferred sets the handler for BootstrapDeferred events
func OnBootstrapDeferred(fn func(BootstrapDeferred)) func(*Subscriber) {
	return func(s *Subscriber) { s.bootstrapDeferredHandler = fn }
}

// OnBootstrapCompleted sets the handler for BootstrapCompleted events
func OnBootstrapCompleted(fn func(BootstrapCompleted)) func(*Subscriber) {
	return func(s *Subscriber) { s.bootstrapDoneHandler = fn }
}

// OnConfigMissing sets the handler for ConfigMissing events
func OnConfigMissing(fn func(ConfigMissing)) func(*Subscriber) {
	return func(s *Subscriber) { s.configMissingHandler = fn }
}

// OnWindowDeferred sets the handler for WindowDeferred events
func OnWindowDeferred(fn func(WindowDeferred)) func(*Subscriber) {
	return func(s *Subscriber) { s.windowDeferredHandler = fn }
}

// OnEmptyWindow sets the handler for EmptyWindow events
func OnEmptyWindow(fn func(EmptyWindow)) func(*Subscriber) {
	return func(s *Subscriber) { s.emptyWindowHandler = fn }
}

// OnWindowAggregated sets the handler for WindowAggregated events
func OnWindowAggregated(fn func(WindowAggregated)) func(*Subscriber) {
	return func(s *Subscriber) { s.windowAggregatedHandler = fn }
}

// OnBroadcastFailed sets the handler for BroadcastFailed events
func OnBroadcastFailed(fn func(BroadcastFailed)) func(*Subscriber) {
	return func(s *Subscriber) { s.broadcastFailedHandler = fn }
}

// OnInvocationDone sets the handler for InvocationDone events
func OnInvocationDone(fn func(InvocationDone)) func(*Subscriber) {
	return func(s *Subscriber) { s.invocationDoneHandler = fn }
}

// NewSubscriber creates a Subscriber with the given options and starts the dispatch loop.
// Returns a closer function that waits for all events to be processed.
//
// The subscriber processes events until the events channel closes, then the
// closer function confirms all processing is complete. Use defer closer()
// immediately to guarantee cleanup before function exit:
//
//	closer := aggregator.NewSubscriber(svc.Events(),
//	  aggregator.OnWindowAggregated(func(e WindowAggregated) { ... }),
//	)
//	defer closer()
func NewSubscriber(events <-chan Event, opts ...func(*Subscriber)) func() {
	s := &Subscriber{
		done:                     make(chan struct{}),
		bootstrapDeferredHandler: func(BootstrapDeferred) {},  // nop by default
		bootstrapDoneHandler:     func(BootstrapCompleted) {}, // nop by default
		configMissingHandler:     func(ConfigMissing) {},      // nop by default
		windowDeferredHandler:    func(WindowDeferred) {},     // nop by default
		emptyWindowHandler:       func(EmptyWindow) {},        // nop by default
		windowAggregatedHandler:  func(WindowAggregated) {},   // nop by default
		broadcastFailedHandler:   func(BroadcastFailed) {},    // nop by default
		invocationDoneHandler:    func(InvocationDone) {},     // nop by default
	}

	for _, opt := range opts {
		opt(s)
	}

	// Start the dispatch loop immediately
	go func() {
		defer close(s.done)
		for ev := range events {
			switch e := ev.(type) {
			case BootstrapDeferred:
				s.bootstrapDeferredHandler(e)
			case BootstrapCompleted:
				s.bootstrapDoneHandler(e)
			case ConfigMissing:
				s.configMissingHandler(e)
			case WindowDeferred:
				s.windowDeferredHandler(e)
			case EmptyWindow:
				s.emptyWindowHandler(e)
			case WindowAggregated:
				s.windowAggregatedHandler(e)
			case BroadcastFailed:
				s.broadcastFailedHandler(e)
			case InvocationDone:
				s.invocationDoneHandler(e)
			}
		}
	}()

	return func() {
		<-s.done
	}
}
