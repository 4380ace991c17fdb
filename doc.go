// Package nrbf reads and writes the .NET Remoting Binary Format (NRBF), the
// wire format of BinaryFormatter payloads.
//
// Decoding is safe for untrusted input: a payload is turned into a graph of
// plain records (classes, strings, arrays and primitive values) and no
// type named in the payload is ever bound, loaded or constructed. Object ids
// are indexed through a hash keyed with a per-decode random seed, so a
// payload cannot choose colliding ids. Malformed input fails with an *Error
// whose cause matches one of the package's Err* sentinels.
//
//	g, err := nrbf.DecodeGraph(r, nil)
//	if err != nil {
//		return err
//	}
//	root, err := nrbf.RootAs[*nrbf.ClassRecord](g)
//
// Encoding writes a record graph back to the wire. Records are written
// where they are first reached and referenced by id afterwards, equal
// strings are written once, and nothing reaches the writer unless the whole
// graph encodes. The Write* helpers build the layouts the framework itself
// uses for primitives, lists, arrays, hashtables and drawing types.
package nrbf
