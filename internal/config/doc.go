// Package config loads, normalizes, and validates speakerline configuration.
//
// Configuration comes from a TOML file (default ~/.config/speakerline/config.toml
// or ./speakerline.toml) layered over Default(), followed by environment
// overrides for secrets and deployment knobs. Both the request-serving process
// and the inference workers load the same file so they agree on the queue
// database location, the job temp root, and the chunk length.
package config
