// Package ingest turns raw sources into indexed chunks.
//
// The ingest package feeds the vector store: it reads documents from
// directories and web pages, splits them into overlapping chunks sized
// for embedding, and upserts the chunks through the store.
//
// # Architecture
//
//	DirectoryReader / WebReader (Source)
//	     |
//	     +-- concurrent reads (jobs.Run)
//	     +-- HTML text extraction (readability, goquery fallback)
//	     |
//	     v
//	Splitter
//	     |
//	     +-- rune-window chunks, paragraph > sentence > space boundaries
//	     |
//	     v
//	Pipeline
//	     |
//	     +-- file lock (one ingest run at a time)
//	     +-- stale chunk cleanup + Upsert per source
//	     |
//	     v
//	vector store
//
// # Chunk Identity
//
// A document's chunks are keyed "<doc id>#<index>", and every chunk
// carries its parent's Source. Re-ingesting a source first deletes the
// chunks stored under the same Source, so a shrunken document leaves no
// stale tail behind.
//
// # Concurrency
//
// Readers fan out over files and URLs concurrently. The Pipeline itself
// serializes whole runs with a file lock so overlapping re-index jobs
// cannot interleave their deletes and writes.
package ingest
