package congestion

// emit sends an event to the installed sink, recovering from a panicking
// sink so a telemetry bug never takes down the transport.
func (c *Controller) emit(name string, fields map[string]any) {
	if c.sink == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	c.sink.Event(name, fields)
}
