// Package progress carries crawl run lifecycle events from the crawl service
// to pluggable sinks. Events are batched on a background goroutine by a
// non-blocking Hub so a slow sink never stalls a run.
package progress
