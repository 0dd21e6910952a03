// Package credential turns a raw secret into a storable credential and
// checks a raw secret against a stored one.
//
// There are five strategies, picked once when the process starts:
//
//	plaintext   stored as given
//	encryption  NaCl secretbox under a key derived from a static shared secret
//	md5         hex encoded MD5 digest, no salt
//	bcrypt      bcrypt with an embedded random salt and cost 10
//	delegated   PBKDF2-SHA256 with a random salt, the same scheme session-based
//	            auth libraries use, paired with a server side session
//
// Only plaintext and md5 are deterministic, every other strategy embeds fresh
// randomness (salt or nonce) in each encoded value.
//
// Verify never fails loudly, a stored value that cannot be parsed by the
// active strategy simply does not match.
package credential
