// Package transport creates chat links: the Listener admits inbound peers and
// the Dialer opens outbound ones. Both register every link in the shared
// peer.Registry before its read loop starts, and both wire the same event
// handling, so a link is removed from the registry when it closes however it
// was created.
package transport
