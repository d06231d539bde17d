// Package vuflow simulates many virtual users talking to a pub/sub broker.
//
// A run file holds a Config and a Scenario. Compile turns the scenario into a
// Pipeline of step functions once, and a Runner executes that pipeline for
// every virtual user: each user gets its own connection, variable mapping and
// correlation engine, so acknowledges are matched to the request that caused
// them even when responses arrive out of order.
//
// # Transports
//
// The transport is selected by Config.PubSubSystem:
//   - channel: in-memory Go channels, useful together with an echo Responder
//   - nats: core NATS with reconnect reporting
//   - kafka: one consumer group per virtual user
//   - rabbitmq: non-durable queues suffixed per virtual user
//   - aws: SNS/SQS with LocalStack support
//
// # Steps
//
// Scenarios are built from publish, think, log, function and loop steps.
// Publish steps may carry an acknowledge block that waits for a correlated
// response, captures values from it and matches it against expectations.
// Functions, beforeRequest hooks and whileTrue predicates are looked up by
// name in a Registry; RegisterBuiltins adds a few general purpose ones.
//
// # Events
//
// Every virtual user reports counters, rates, latencies, match results and
// errors to a Sink. The Recorder aggregates them into a Snapshot, LogSink
// writes them to a ServiceLogger and PrometheusSink exports them.
package vuflow
