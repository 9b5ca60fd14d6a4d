// Package store defines the persistence contracts used by the crawl pipeline:
// the sitemap and article caches, the latest ranked snapshot per source and
// the crawl run history. Implementations live in other packages; this package
// must not import database drivers or concrete clients.
package store
