package crawler

// ProgressSink receives advisory progress reports from a crawl run. Calls are
// made synchronously, in order, from the goroutine driving the run.
type ProgressSink interface {
	Report(percent int, message string)
}

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc func(percent int, message string)

// Report calls f.
func (f ProgressFunc) Report(percent int, message string) { f(percent, message) }

// DiscardProgress drops every report.
var DiscardProgress ProgressSink = ProgressFunc(func(int, string) {})
