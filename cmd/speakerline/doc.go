// Command speakerline runs and talks to the transcription service.
//
// `speakerline serve` starts the HTTP API, which accepts uploads, segments
// them and queues one task per segment. `speakerline worker` loads the
// speech models and processes queued segments; run as many worker processes
// as the hardware allows. Both read the same configuration file and share the
// queue database.
//
// The client commands (submit, status, cleanup, health) talk to a running
// server over HTTP. The queue commands open the database directly.
package main
