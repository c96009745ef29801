package qjs

// Value tags, from the engine's public header. Only the tags the wrapper
// inspects are listed; the big-number tags are deliberately absent.
const (
	TagSymbol           = -8
	TagString           = -7
	TagModule           = -3
	TagFunctionBytecode = -2
	TagObject           = -1
	TagInt              = 0
	TagBool             = 1
	TagNull             = 2
	TagUndefined        = 3
	TagUninitialized    = 4
	TagCatchOffset      = 5
	TagException        = 6
	TagFloat64          = 7
)

// JS_Eval input types and flags.
const (
	EvalTypeGlobal      = 0
	EvalTypeModule      = 1
	EvalFlagStrict      = 1 << 3
	EvalFlagCompileOnly = 1 << 5
)

// JS_ReadObject / JS_WriteObject flags.
const (
	ReadObjBytecode  = 1 << 0
	WriteObjBytecode = 1 << 0
)

// Promise states as reported by JS_PromiseState.
const (
	PromisePending   = 0
	PromiseFulfilled = 1
	PromiseRejected  = 2
)
