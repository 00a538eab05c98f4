// Package mcp implements the tool-process integration layer: it launches
// external tool servers as subprocesses, speaks newline-delimited JSON-RPC
// 2.0 with them over stdin/stdout, and exposes their declared tools as
// callable functions to the agent loop.
//
// A [Manager] owns one [Handle] per configured server. Each handle spawns
// its process, discovers tools once via tools/list, and serializes
// tools/call round trips on its single stdio channel. Discovered tools are
// wrapped as [Function] values and aggregated into a flat [Registry].
//
// Failures are contained per server: a process that cannot be spawned,
// exits early, or returns a bad tool list contributes zero tools without
// affecting its siblings. Tool invocation failures are reported to the
// caller as text, never as panics or hangs.
//
// The package also contains a minimal server side ([Server]) used by the
// demo tool binary and by the package tests.
package mcp
