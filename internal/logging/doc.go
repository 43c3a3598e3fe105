// Package logging configures structured JSON logging for kbindex.
//
// Commands log to stderr at info level by default. With --debug, or when
// serving MCP over stdio, logs also go to a rotating file under
// ~/.kbindex/logs/, which `kbindex logs` can tail and follow.
package logging
