// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides key, code and identifier generation utilities.

# Admin Keys

Admin keys use HMAC-SHA256 to create deterministic, verifiable keys:

	adminKey := auth.GenerateAdminKey(sessionID, salt)
	err := auth.ValidateAdminKey(sessionID, adminKey, salt)

The key is URL-safe base64 encoded without padding. Since it's deterministic,
the same session ID and salt always produce the same key. This allows
validation without storing the key in the database.

The operator key guarding dead-letter routes is the admin key of the fixed
subject "operator":

	key := auth.GenerateOperatorKey(salt)

# Join Codes

Join codes are six characters drawn from an alphabet without 0, 1, I or O:

	code, err := auth.GenerateJoinCode()
	code, err = auth.NormalizeJoinCode("abc234") // "ABC234"

# ID Generation

Random hex IDs for database records:

	id, err := auth.GenerateID(16)  // 32 hex characters

# IP Hashing

Voter identifiers are derived from the client address:

	identifier := auth.HashIP(ipAddress, salt)

Returns first 8 bytes (16 hex chars) of HMAC-SHA256.
*/
package auth
