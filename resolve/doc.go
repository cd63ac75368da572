// Package resolve decides, per optional argument, what the foreign call sees.
//
// A host caller expresses "use the default" by not setting an Opt. The
// foreign engine expresses it either by the argument being absent or by an
// explicit null-like sentinel (foreign.Nothing). Each parameter declares which
// one applies with a Spec:
//
//	PolicyOmit      unset -> argument left out of the call
//	PolicySentinel  unset -> argument sent as foreign.Nothing
//
// PolicyOmit is required whenever the foreign default cannot be written down
// on the host side; the resolver never synthesizes a guessed literal.
// Parameters that accept null as a real input set AcceptsNull so that
// Null() ("pass nothing explicitly") stays distinct from the unset state.
//
// Resolution itself never fails. Contradictory declarations are rejected when
// a Signature is built, with an ArgumentShape error.
package resolve
