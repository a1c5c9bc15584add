package main

// Object holds everything parsed from one translation unit: a command-line
// .obj file or a module extracted from a library.
type Object struct {
	Data []byte

	// Path is the file's base name or "<lib>@<page>" label used for diagnostics
	// before THEADR has been parsed; Name is set from THEADR itself.
	Path string
	Name string

	LNames  indexMap
	SegDefs omfVec[*SegDef]
	GrpDefs indexMap
	ExtDefs omfVec[string]
}

func NewObject(data []byte) *Object {
	return &Object{Data: data}
}

// DisplayName is the best name available for diagnostics.
func (o *Object) DisplayName() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Path
}
