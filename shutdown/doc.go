// Package shutdown coordinates graceful teardown of the communication
// substrate. Steps are registered at phases that run in order: agents stop
// producing, then the bus stops its loops, then the transports disconnect.
// Steps within one phase run concurrently.
package shutdown
