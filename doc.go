// Package plist implements encoding and decoding of Apple's "property list" format.
// Property lists come in three sorts: XML, binary version 00 and binary version 15.
// plist reads and writes all three.
// The mapping between property list and Go objects is described in the documentation for the Marshal and Unmarshal functions.
package plist
