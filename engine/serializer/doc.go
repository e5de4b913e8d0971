// Package serializer provides codecs for protocol messages.
//
// Three implementations exist: a custom binary format (the wire
// default), JSON (readable, for debugging) and gob. All implement
// IMessageSerializer and are interchangeable as long as both ends of a
// connection agree.
package serializer
