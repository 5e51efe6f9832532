// Package config provides a schema-driven object model over configuration
// and state files.
//
// A file is read into a raw tree of primitives (objects, arrays, strings,
// numbers, booleans and null). Typed views are built on top of that tree:
// a Model reads and writes the keys declared by its Schema, a List or Dict
// presents an array or object, and every value passes through the Field
// that declared it on the way in and out.
//
// # Architecture
//
//	┌─────────────────────────────┐
//	│  Root                       │  ← owns the file, the dirty flag
//	├─────────────────────────────┤
//	│  Model / List / Dict        │  ← typed views, per-node cache
//	├─────────────────────────────┤
//	│  Field                      │  ← convert raw ⇄ value
//	├─────────────────────────────┤
//	│  store.Strategy             │  ← JSON, YAML, TOML (ro), bolt
//	└─────────────────────────────┘
//
// The raw tree is the single source of truth. Views cache converted values
// and drop them on write; every write marks the Root dirty and nothing
// reaches the disk until Root.Write.
//
// # Sub-packages
//
//   - store: file store strategies and the primitive set
//   - reference: fields resolving ids and names through an external directory
//   - notify: change notification and observer pattern
//   - watcher: file watching for live reload
//
// # Basic Usage
//
//	root, err := config.OpenFile("guild.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = root.Register("guild", config.NewSchema("guild",
//	    &config.StringField{Base: config.Base{Name: "prefix", Default: "!"}},
//	    &config.ListField{Base: config.Base{Name: "admins", Default: []any{}},
//	        Elem: &config.IntegerField{}},
//	), true)
//
//	guild, _ := root.GetModel("guild")
//	prefix, _ := guild.GetString("prefix")
//
//	admins, _ := guild.GetList("admins")
//	_ = admins.Append(1234)
//	_ = root.Write()
//
// # Runtime Attributes
//
// Fields may need values that are only known at run time, such as a handle
// to an external service. SetRuntimeAttributes installs them on any node
// for a field Kind; conversions below that node receive the merged
// attributes for their kind chain, with nearer nodes and more specific
// kinds taking precedence.
//
// # Error Handling
//
// Every error matches one of the package sentinels with errors.Is:
//
//   - ErrKeyNotFound: key or path absent and no default applies
//   - ErrNameInvalid: key uses a reserved prefix ("_" or "cfg_")
//   - ErrReadOnly: write attempted on a read-only root
//   - ErrConversion: a field failed to convert or serialize a value
//   - ErrRange: value or container length outside its bounds
//   - ErrTypeMismatch: value of an unacceptable type
//   - ErrInvalidValue: value of the right type that fails validation
//
// Conversion failures also match their cause, so a range violation found
// while reading a key matches both ErrConversion and ErrRange. Located
// failures are *Error values carrying the file, path and key.
package config
