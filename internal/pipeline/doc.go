// Package pipeline composes the lifecycle engine with a source, the site
// renderer and the archive policy into runnable jobs.
//
// Jobs are safe to run repeatedly: ingestion is idempotent on source id,
// rendering skips unchanged posts and publishing an already published
// message is a no-op. Store outages are retried with backoff; anything else
// is reported per message and the job moves on.
package pipeline
