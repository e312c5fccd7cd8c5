package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/funvibe/hotreload/internal/config"
)

// sourceLibrary is the YAML form of one library.
type sourceLibrary struct {
	Library   string           `yaml:"library"`
	Imports   []sourceImport   `yaml:"imports"`
	Exports   []sourceImport   `yaml:"exports"`
	Variables []sourceVariable `yaml:"variables"`
	Functions []sourceFunction `yaml:"functions"`
	Typedefs  []sourceTypedef  `yaml:"typedefs"`
	Classes   []sourceClass    `yaml:"classes"`
}

type sourceImport struct {
	URI  string   `yaml:"uri"`
	As   string   `yaml:"as"`
	Show []string `yaml:"show"`
	Hide []string `yaml:"hide"`
}

type sourceVariable struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Final bool   `yaml:"final"`
	Const bool   `yaml:"const"`
	Late  bool   `yaml:"late"`
	Init  string `yaml:"init"`
	Line  int    `yaml:"-"`
}

func (v *sourceVariable) UnmarshalYAML(n *yaml.Node) error {
	type plain sourceVariable
	if err := n.Decode((*plain)(v)); err != nil {
		return err
	}
	v.Line = n.Line
	return nil
}

type sourceStep struct {
	Let    string  `yaml:"let"`
	Do     string  `yaml:"do"`
	Assign string  `yaml:"assign"`
	Set    string  `yaml:"set"`
	Field  string  `yaml:"field"`
	Expr   string  `yaml:"expr"`
	Return *string `yaml:"return"`
	Line   int     `yaml:"-"`
}

func (s *sourceStep) UnmarshalYAML(n *yaml.Node) error {
	type plain sourceStep
	if err := n.Decode((*plain)(s)); err != nil {
		return err
	}
	s.Line = n.Line
	return nil
}

type sourceFunction struct {
	Name     string       `yaml:"name"`
	Params   []string     `yaml:"params"`
	Body     []sourceStep `yaml:"body"`
	Returns  *string      `yaml:"returns"`
	Static   bool         `yaml:"static"`
	Getter   bool         `yaml:"getter"`
	Abstract bool         `yaml:"abstract"`
	Line     int          `yaml:"-"`
}

func (f *sourceFunction) UnmarshalYAML(n *yaml.Node) error {
	type plain sourceFunction
	if err := n.Decode((*plain)(f)); err != nil {
		return err
	}
	f.Line = n.Line
	return nil
}

type sourceTypedef struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
	Type   string   `yaml:"type"`
}

type sourceField struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Final bool   `yaml:"final"`
	Late  bool   `yaml:"late"`
	Init  string `yaml:"init"`
	Line  int    `yaml:"-"`
}

func (f *sourceField) UnmarshalYAML(n *yaml.Node) error {
	type plain sourceField
	if err := n.Decode((*plain)(f)); err != nil {
		return err
	}
	f.Line = n.Line
	return nil
}

type sourceClass struct {
	Name        string           `yaml:"name"`
	TypeParams  []string         `yaml:"type_params"`
	Extends     string           `yaml:"extends"`
	With        []string         `yaml:"with"`
	Abstract    bool             `yaml:"abstract"`
	Const       bool             `yaml:"const"`
	Enum        []string         `yaml:"enum"`
	Constructor []string         `yaml:"constructor"`
	Fields      []sourceField    `yaml:"fields"`
	Statics     []sourceVariable `yaml:"statics"`
	Methods     []sourceFunction `yaml:"methods"`
	Line        int              `yaml:"-"`
	isEnum      bool
}

func (c *sourceClass) UnmarshalYAML(n *yaml.Node) error {
	type plain sourceClass
	if err := n.Decode((*plain)(c)); err != nil {
		return err
	}
	c.Line = n.Line
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "enum" {
			c.isEnum = true
		}
	}
	return nil
}

// Hash returns the sha256 of a library source.
func Hash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// LibraryURI extracts the `library:` key of a source without decoding the
// rest of it.
func LibraryURI(src []byte) (string, error) {
	var head struct {
		Library string `yaml:"library"`
	}
	if err := yaml.Unmarshal(src, &head); err != nil {
		return "", err
	}
	if head.Library == "" {
		return "", fmt.Errorf("missing library URI")
	}
	return head.Library, nil
}

// LoadDir reads every library source in dir, keyed by library URI.
func LoadDir(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading sources %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isSourceFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	sources := make(map[string][]byte, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		uri, err := LibraryURI(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if _, dup := sources[uri]; dup {
			return nil, fmt.Errorf("%s: library %q defined twice", path, uri)
		}
		sources[uri] = data
	}
	return sources, nil
}

func isSourceFile(name string) bool {
	if name == config.ConfigFileName || strings.HasPrefix(name, "hotreload.") {
		return false
	}
	for _, ext := range config.SourceFileExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
