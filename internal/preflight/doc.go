// Package preflight provides readiness checks for the filesystem paths and
// external binaries speakerline depends on.
//
// The serve and worker commands run RunAll at startup and refuse to start
// when a required check fails. The job dispatcher calls CheckDiskSpace before
// accepting each upload.
package preflight
