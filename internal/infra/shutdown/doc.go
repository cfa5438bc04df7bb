// Package shutdown coordinates graceful termination of long-running
// commands.
//
// Hooks run in reverse order of registration once SIGINT or SIGTERM
// arrives, the context passed to Wait ends, or Trigger is called. Every
// hook shares one deadline.
package shutdown
