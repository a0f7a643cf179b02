/*
Package session implements session management and checkpoint orchestration.

It serializes turns of one research session, within a process through
reference-counted mutexes and across replicas through an optional distributed
lock, while independent sessions proceed concurrently.
*/
package session
