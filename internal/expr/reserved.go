package expr

// reserved holds names a program may not declare: CEL keywords, macros,
// type identifiers and functions of the standard and string libraries.
var reserved = map[string]struct{}{}

func init() {
	for _, n := range []string{
		// keywords
		"as", "break", "const", "continue", "else", "false", "for", "function",
		"if", "import", "in", "let", "loop", "package", "namespace", "null",
		"return", "true", "var", "void", "while",
		// macros
		"has", "all", "exists", "exists_one", "map", "filter",
		// type identifiers
		"bool", "bytes", "double", "int", "uint", "string", "list", "null_type",
		"type", "dyn",
		// standard library
		"size", "contains", "startsWith", "endsWith", "matches", "duration",
		"timestamp", "getFullYear", "getMonth", "getDayOfYear", "getDayOfMonth",
		"getDate", "getDayOfWeek", "getHours", "getMinutes", "getSeconds",
		"getMilliseconds",
		// strings extension
		"charAt", "indexOf", "lastIndexOf", "lowerAscii", "replace", "split",
		"substring", "trim", "upperAscii", "join", "format", "quote", "reverse",
		"strings", "google",
	} {
		reserved[n] = struct{}{}
	}
}

// Reserved reports whether name cannot be declared by a program.
func Reserved(name string) bool {
	_, ok := reserved[name]
	return ok
}
