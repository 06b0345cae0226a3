// Package websocket pushes license status to local UI clients.
//
// A Hub owns the connected clients. Each Client runs a read pump, which only
// drains heartbeats and control frames, and a write pump, which forwards
// queued messages and pings. Broadcast never blocks the caller: a full hub
// queue drops the message and a client whose buffer is full is disconnected.
package websocket
