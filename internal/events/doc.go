// Package events publishes job and segment lifecycle events to Kafka.
//
// Publishing is optional. With events disabled, or no brokers configured, the
// publisher runs in log-only mode: events are encoded and logged at debug
// level, and nothing is sent.
package events
