// Package mysql implements the task store on MySQL 8 using
// go-sql-driver/mysql.
//
// MySQL has no table-level lock that can be held for the duration of a
// transaction without committing it, so queue mutations serialise on a single
// task_meta row selected FOR UPDATE instead.
package mysql
