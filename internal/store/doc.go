// Package store holds the persistence primitives shared by the database-backed
// task stores: the DBTX abstraction, transaction handling and the sentinel
// errors every backend maps its driver errors onto.
package store
