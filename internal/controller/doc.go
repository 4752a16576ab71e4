// Package controller provides the concurrency skeleton for an interactive
// application: a generic runtime that reads input events, translates them to
// actions, applies those actions one at a time against shared state, and runs
// background tasks whose results feed back in as more actions.
//
// The runtime is parameterized over the application's state type S and input
// event type E, and knows nothing about what the application actually does.
// Three roles cooperate:
//   - Handler: maps one input event to zero or more dispatched actions
//   - Action: performs one synchronous, exclusive state mutation
//   - Task: performs asynchronous work and reports results only via actions
//
// Four loops run concurrently over bounded channels: input capture, input
// translation, task execution, and the main action-application loop, which is
// the only code that touches state. Shutdown is cooperative: a shared Token
// stops the main loop immediately, while the input stream ending drains
// remaining work first. Either way Run returns only after every loop and every
// started task has finished.
package controller
