// Package services defines shared utilities consumed by the pipeline stages
// and the external collaborator adapters.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, topic IDs, and stage names for
//     logging and correlation.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (configuration, malformed model output, external outages)
//     without parsing messages.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
