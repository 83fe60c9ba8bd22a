// Package api serves the admin HTTP API of the task queue: token issue,
// task inspection and management, manual pumping and queue settings. It
// translates HTTP concerns to task.Queue and task.Runner operations.
package api
