/*
Package wire implements the link and framing layer shared by the manager and
worker daemons: a deadline-bounded TCP wrapper (Link) and the ASCII
line-oriented message set they exchange.

# Link

Link never blocks indefinitely; every read or write takes an explicit
deadline, matching the single-threaded, cooperative event loops that use it
(pkg/dispatcher, pkg/workerd). ReadLine and ReadExact surface ErrTimeout and
ErrEndOfStream as sentinels so callers can distinguish "peer is just slow"
from "peer is gone."

# Messages

Most verbs are one line of whitespace-separated fields, parsed generically
by ParseLine into a Message and then decoded by a per-verb Decode function
(DecodeReady, DecodeResult, ...). The "task" verb is the exception: it opens
a multi-line block terminated by "end", handled by EncodeTaskBlock and
DecodeTaskBlock.

Fields that may contain embedded spaces (cache-invalid's error message, a
task's shell command, putcmd's template, task env keys and values) are
escaped with url.QueryEscape before being placed on the line, and reversed
with url.QueryUnescape on decode. This keeps every message a single line
without introducing a quoting grammar.
*/
package wire
