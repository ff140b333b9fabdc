// Package bootstrap assembles a runnable application around the
// framework.
//
// From one configuration it builds the logger, the execution host, the
// runtime with its event pools, the clock ticker and the monitor
// server, and manages them together with any user services through a
// dependency-ordered lifecycle. A small container carries the shared
// pieces so services can reach the runtime and configuration without
// globals.
package bootstrap
