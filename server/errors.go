package server

// Client-visible error messages. Messages with a leading '-' carry their
// own error code token; the RESP builder passes them through verbatim.
const (
	errNoAuth           = "-NOAUTH Authentication required."
	errReadOnly         = "-READONLY You can't write against a read only replica."
	errExecAbort        = "-EXECABORT Transaction discarded because of previous errors"
	errScriptNotFound   = "-NOSCRIPT No matching script. Please use EVAL."
	errInvalidInt       = "value is not an integer or out of range"
	errNoScriptCmd      = "This Redis command is not allowed from script"
	errUndeclaredKey    = "script tried accessing undeclared key"
	errNestedMulti      = "MULTI calls can not be nested"
	errExecWithoutMulti = "EXEC without MULTI"
	errAdminInMulti     = "Can not run admin commands under transactions"
	errSelectInMulti    = "Can not call SELECT within a transaction"
	errLuaStackLimit    = "reached lua stack limit"
	errDbIndexRange     = "DB index is out of range"
	errWrongType        = "Operation against a key holding the wrong kind of value"
)
