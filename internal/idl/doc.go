// Package idl owns the message-contract language front end.
//
// Ownership boundary:
// - grammar and parser producing a Definition
// - declaration model (constants, enums, structs, messages, comments)
// - optional reference validation over a parsed Definition
//
// The parser never resolves type references; a Definition is a flat,
// ordered list of declarations exactly as written. Validate is a separate
// pass for callers that want unresolved names reported up front.
//
// Example source unit:
//
//	namespace Postal.Test;
//
//	enum Result { UnknownError; Success; CouldNotFindKey = 0x10; }
//
//	message GetStrings {
//		request  { mandatory string[] Names; }
//		response { mandatory Result ErrCode; string Message; string[] Values; }
//	}
package idl
