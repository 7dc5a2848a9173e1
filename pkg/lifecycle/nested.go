package lifecycle

// AsComponent exposes l as a component of another lifecycle. Starting it
// runs l with cfg; shutting it down shuts l down and reports the combined
// shutdown error. Pass a Config without ShutdownSignals unless the nested
// lifecycle should react to signals on its own.
func (l *Lifecycle) AsComponent(cfg Config) Component {
	return Callback(l.label,
		func(done func(error)) {
			l.Start(cfg, done)
		},
		func(done func(error)) {
			l.Shutdown(func(errs ShutdownErrors) {
				done(errs.Err())
			})
		})
}
