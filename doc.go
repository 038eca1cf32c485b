// Package fsm holds the shared vocabulary of the state machine engine:
// the Record contract, fire Results and Outcomes, structured errors built on
// go-errors, panic recovery and the Logger interface.
//
// Machines live in the machine subpackage, the publish/subscribe hub in
// eventbus and optimistic-locking persistence in store. The brokerage
// package wires them into the mandate, inquiry, offer and opportunity
// lifecycles.
package fsm
