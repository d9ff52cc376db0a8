// Package transport moves encrypted requests between the client and a
// device over TCP or UDP.
//
// # Sockets
//
// A Socket performs one request/reply exchange at a time and queues the
// rest in arrival order. TCPSocket dials per send and reassembles a reply
// split over any number of segments using the 4-byte length header.
// UDPSocket binds an ephemeral port and returns the first datagram
// received. When a send times out or its context is cancelled the socket
// is destroyed.
//
// # Connections
//
// A Connection is bound to one device address. Each send finishes, socket
// cleanup included, before the next send acquires a socket. UDP connections
// can reuse a shared socket, closed by an idle timer between uses:
//
//	conn := transport.NewUDPConnection("192.168.1.40", 9999, nil, nil)
//	defer conn.Close()
//	reply, err := conn.Send(ctx, body, transport.SendOptions{
//	    Timeout:             5 * time.Second,
//	    UseSharedSocket:     true,
//	    SharedSocketTimeout: 20 * time.Second,
//	})
//
// # Errors
//
// Failures are returned as *Error with an ErrorType. Use IsTimeout,
// IsFraming and ShortMessage rather than matching message text.
package transport
