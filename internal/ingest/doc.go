// Package ingest holds the domain model shared by the ingestion pipeline: sources,
// articles, financial observations, the typed intermediate structures produced by
// the feed and HTML parsers, the error taxonomy, and the collaborator interfaces
// (store, blob archive, publisher, clock, hasher, id generator) that the fetchers,
// scrapers, ingestor and scheduler are constructed with.
package ingest
