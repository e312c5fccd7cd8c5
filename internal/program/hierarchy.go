package program

import "strconv"

// ShapeField is one instance-field slot of a flattened class shape.
type ShapeField struct {
	Name  string
	Type  string
	Owner ClassKey
	Field *Field
}

// Superclass returns the direct superclass of c or nil for Object.
func (p *Program) Superclass(c *Class) *Class {
	if c == nil || c.Super.IsZero() {
		return nil
	}
	return p.Class(c.Super)
}

// Linearization returns the method lookup order of a class: the class
// itself, its mixins last-applied first, then the superclass linearization.
func (p *Program) Linearization(key ClassKey) []*Class {
	if v, ok := p.lin.Load(key); ok {
		return v.([]*Class)
	}
	var out []*Class
	seen := map[ClassKey]bool{}
	for c := p.Class(key); c != nil && !seen[c.Key()]; c = p.Superclass(c) {
		seen[c.Key()] = true
		out = append(out, c)
		for i := len(c.Mixins) - 1; i >= 0; i-- {
			if m := p.Class(c.Mixins[i]); m != nil {
				out = append(out, m)
			}
		}
	}
	p.lin.Store(key, out)
	return out
}

// Shape returns the flattened instance-field layout of a class: inherited
// fields first, then mixin fields, then its own. A redeclared field keeps
// the slot of the declaration it overrides.
func (p *Program) Shape(key ClassKey) []ShapeField {
	if v, ok := p.shapes.Load(key); ok {
		return v.([]ShapeField)
	}
	shape := p.buildShape(key, map[ClassKey]bool{})
	p.shapes.Store(key, shape)
	return shape
}

func (p *Program) buildShape(key ClassKey, visiting map[ClassKey]bool) []ShapeField {
	c := p.Class(key)
	if c == nil || visiting[key] {
		return nil
	}
	visiting[key] = true
	var shape []ShapeField
	if !c.Super.IsZero() {
		shape = append(shape, p.buildShape(c.Super, visiting)...)
	}
	add := func(owner ClassKey, f *Field) {
		for i := range shape {
			if shape[i].Name == f.Name {
				shape[i] = ShapeField{Name: f.Name, Type: f.Type, Owner: owner, Field: f}
				return
			}
		}
		shape = append(shape, ShapeField{Name: f.Name, Type: f.Type, Owner: owner, Field: f})
	}
	for _, mk := range c.Mixins {
		if m := p.Class(mk); m != nil {
			for _, f := range m.Fields {
				add(mk, f)
			}
		}
	}
	for _, f := range c.Fields {
		add(key, f)
	}
	if c.IsEnum {
		add(key, &Field{Name: "index", Type: "int", Final: true})
		add(key, &Field{Name: "_name", Type: "String", Final: true})
	}
	return shape
}

// ShapeNames returns the ordered field names of a class shape.
func (p *Program) ShapeNames(key ClassKey) []string {
	shape := p.Shape(key)
	names := make([]string, len(shape))
	for i, f := range shape {
		names[i] = f.Name
	}
	return names
}

// ShapeField looks up one slot of a class shape.
func (p *Program) ShapeField(key ClassKey, name string) (ShapeField, bool) {
	for _, f := range p.Shape(key) {
		if f.Name == name {
			return f, true
		}
	}
	return ShapeField{}, false
}

// TypeArgVector returns the flattened type-parameter slots of a class: the
// superclass vector followed by the class's own parameters.
func (p *Program) TypeArgVector(key ClassKey) []string {
	return p.typeArgs(key, func(_ int, name string) string { return name })
}

// TypeArgLayout is TypeArgVector with every parameter named by its position
// in its declaring class. Renaming a parameter leaves the layout unchanged.
func (p *Program) TypeArgLayout(key ClassKey) []string {
	return p.typeArgs(key, func(i int, _ string) string { return strconv.Itoa(i) })
}

func (p *Program) typeArgs(key ClassKey, slot func(i int, name string) string) []string {
	var chain []*Class
	seen := map[ClassKey]bool{}
	for c := p.Class(key); c != nil && !seen[c.Key()]; c = p.Superclass(c) {
		seen[c.Key()] = true
		chain = append(chain, c)
	}
	var vec []string
	for i := len(chain) - 1; i >= 0; i-- {
		for j, tp := range chain[i].TypeParams {
			vec = append(vec, chain[i].Name+"."+slot(j, tp))
		}
	}
	return vec
}

// IsSubtype reports whether sub is sup or inherits from it through the
// superclass chain or applied mixins.
func (p *Program) IsSubtype(sub, sup ClassKey) bool {
	if sup == ObjectKey {
		return true
	}
	for _, c := range p.Linearization(sub) {
		if c.Key() == sup {
			return true
		}
	}
	return false
}

// ResolveMethod finds an instance method (or getter) along the
// linearization of key, starting after skip when skip is non-zero.
func (p *Program) ResolveMethod(key ClassKey, name string, skip ClassKey) (*Function, *Class) {
	lin := p.Linearization(key)
	start := 0
	if !skip.IsZero() {
		start = len(lin)
		for i, c := range lin {
			if c.Key() == skip {
				start = i + 1
				break
			}
		}
	}
	for _, c := range lin[start:] {
		if m := c.Method(name); m != nil && !m.Static {
			return m, c
		}
	}
	return nil, nil
}

// ResolveStatic finds a static variable or static method along the
// superclass chain of key.
func (p *Program) ResolveStatic(key ClassKey, name string) (*Variable, *Function, *Class) {
	seen := map[ClassKey]bool{}
	for c := p.Class(key); c != nil && !seen[c.Key()]; c = p.Superclass(c) {
		seen[c.Key()] = true
		if v := c.Static(name); v != nil {
			return v, nil, c
		}
		if m := c.Method(name); m != nil && m.Static {
			return nil, m, c
		}
	}
	return nil, nil, nil
}

// DirectSubclasses lists the classes whose superclass is key, in program
// order.
func (p *Program) DirectSubclasses(key ClassKey) []*Class {
	var out []*Class
	for _, c := range p.Classes() {
		if c.Super == key {
			out = append(out, c)
		}
	}
	return out
}
