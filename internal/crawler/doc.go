// Package crawler defines the types and contracts shared by the news crawl
// pipeline: site adapters, fetchers, progress sinks and the records that flow
// between the sitemap, catalog, engagement and ranking stages.
package crawler
