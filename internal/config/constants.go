package config

const SourceFileExt = ".yaml"

// SourceFileExtensions are all recognized library source extensions
var SourceFileExtensions = []string{".yaml", ".yml"}

// CoreLibraryURI is the URI of the built-in library present in every program.
const CoreLibraryURI = "lib:core"

// Built-in class names of the core library
const (
	ObjectClassName    = "Object"
	StopwatchClassName = "Stopwatch"
	EnumClassName      = "Enum"
)

// Built-in function names
const (
	IdenticalFuncName = "identical"
	ConstantFuncName  = "constant"
	StrFuncName       = "str"
	ThrowFuncName     = "throw"
	CallFuncName      = "call"
	ReloadFuncName    = "reload"
	PrintFuncName     = "print"
	IsFuncName        = "is"
	ToStringName      = "toString"
)

// Implicit member names
const (
	ThisName       = "this"
	SuperName      = "super"
	HashCodeName   = "hashCode"
	IndexFieldName = "index"
	NameFieldName  = "_name"
	ValuesName     = "values"
)

// DeletedEnumName is the name carried by enum values whose member was removed.
const DeletedEnumName = "Deleted enum value from "

// Limits
const (
	// MaxFrameCount bounds the call stack depth of a thread.
	MaxFrameCount = 4096
	// MaxCallArity is the highest argument count a call site may use.
	MaxCallArity = 8
)

// Type names understood by the runtime type checks
const (
	DynamicTypeName  = "dynamic"
	ObjectTypeName   = "Object"
	NumTypeName      = "num"
	IntTypeName      = "int"
	DoubleTypeName   = "double"
	StringTypeName   = "String"
	BoolTypeName     = "bool"
	ListTypeName     = "List"
	MapTypeName      = "Map"
	FunctionTypeName = "Function"
	NullTypeName     = "Null"
)
