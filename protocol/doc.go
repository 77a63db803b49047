// Package protocol implements the frames Beacon exchanges with its clients and
// their wire encoding.
//
// The encoding is the Redis serialization protocol (RESP2). Anything that
// speaks RESP2 can talk to Beacon and the other way round.
//
// === Frames
//
// Every frame starts with a one byte prefix naming its type. Lines are `\r\n`
// delimited.
//
//   ```
//     +OK\r\n                        Simple
//     -ERR unknown command\r\n       Error
//     :1000\r\n                      Integer
//     $-1\r\n                        Null
//     $5\r\nhello\r\n                Bulk
//     *2\r\n$3\r\nGET\r\n$3\r\nkey\r\n   Array of two bulks
//   ```
//
// - Simple and Error frames are a single line and may not contain CR or LF.
// - Integers are signed 64 bit decimals. Leading zeros are not allowed.
// - A Bulk declares its length, then carries exactly that many bytes, then a
//   delimiter. The payload is binary safe.
// - A Null is a bulk with a length of -1. `*-1\r\n`, the RESP2 null array, is
//   also read as Null.
// - An Array declares its element count and is followed by that many frames.
//   There is nothing after the last element.
//
// === Reading
//
// Reading is split in two so that a stream reader can find frame boundaries
// without copying partial data.
//
// - `Check` scans a Cursor over buffered bytes and returns Complete,
//   Incomplete or Malformed. It never allocates.
// - `Parse` copies the frame Check found into an owned Frame value.
//
// Incomplete is not an error, it means read more bytes and check again.
//
// === Writing
//
// `WriteFrame` encodes into a buffered Writer so that a frame is handed to the
// stream with a single flush.
package protocol
