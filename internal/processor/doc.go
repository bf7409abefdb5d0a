// Package processor turns one audio segment into speaker-attributed text.
//
// Diarization runs once over the whole segment. Each diarized turn is then
// cut from the decoded waveform and transcribed on its own. Turns shorter
// than half a second, and turns that transcribe to nothing, are dropped.
// Speaker labels are left as the diarizer produced them; they only become
// globally consistent when the aggregator reconciles a finished job.
//
// Models are owned by the caller. A worker loads one Models value per slot
// at startup and passes it to every Process call; the processor never loads
// or caches models itself.
package processor
