// Package events publishes task lifecycle notifications.
//
// The queue and the runner emit a TaskEvent whenever a task changes sets or
// the identifier space is reset. Handlers are registered on an emitter and
// receive every event; a failing handler never affects the queue itself.
package events
