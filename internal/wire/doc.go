// Package wire holds what the chat client and the companion server agree on:
// STOMP frame encoding, destination names, payload shapes and the frame
// connections that carry them (websocket, or SSE downstream plus POST upstream
// when a socket cannot be opened).
package wire
