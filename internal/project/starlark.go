package project

import (
	"fmt"
	"os"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// ParseStarlark evaluates a laspad.star script once and reads its globals:
//
//	dependencies = ["4292CDEC", ...]
//	source_dir = "source"            # optional
//	output_dir = "output"            # optional
//	branches = {"master": branch(name = "My Mod", tags = ["Gameplay"])}
//
// The predeclared branch() builtin and plain dicts are both accepted as branch values.
func ParseStarlark(filename string, src []byte) (*Config, error) {
	thread := &starlark.Thread{
		Name:  "laspad-config",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	predeclared := starlark.StringDict{
		"branch": starlark.NewBuiltin("branch", branchBuiltin),
		"env":    starlark.NewBuiltin("env", envBuiltin),
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, filename, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("could not evaluate %s: %w", ScriptFile, err)
	}

	cfg := &Config{format: FormatStarlark, branches: map[string]Branch{}}

	if v, ok := globals["dependencies"]; ok {
		items, err := stringList(v, "dependencies")
		if err != nil {
			return nil, err
		}
		for _, s := range items {
			id, err := ParseItemID(s)
			if err != nil {
				return nil, fmt.Errorf("%s: dependencies: %w", ScriptFile, err)
			}
			cfg.deps = append(cfg.deps, id)
		}
	}

	sourceDir, err := optionalString(globals, "source_dir")
	if err != nil {
		return nil, err
	}
	outputDir, err := optionalString(globals, "output_dir")
	if err != nil {
		return nil, err
	}
	if sourceDir != "" || outputDir != "" {
		cfg.override = &SourceOverride{SourceDir: sourceDir, OutputDir: outputDir}
	}

	if v, ok := globals["branches"]; ok {
		dict, ok := v.(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s: branches must be a dict, got %s", ScriptFile, v.Type())
		}
		for _, kv := range dict.Items() {
			name, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("%s: branch names must be strings", ScriptFile)
			}
			b, err := branchFromValue(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: branch %q: %w", ScriptFile, name, err)
			}
			cfg.branches[name] = b
		}
	}

	return cfg, nil
}

func branchBuiltin(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name, description, descriptionStr, preview, website, item string
		tags                                                      *starlark.List
		autodescription                                           = starlark.Value(starlark.None)
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"name", &name,
		"tags?", &tags,
		"description?", &description,
		"description_str?", &descriptionStr,
		"preview?", &preview,
		"website?", &website,
		"item?", &item,
		"autodescription?", &autodescription,
	); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = starlark.NewList(nil)
	}
	return starlarkstruct.FromStringDict(starlark.String("branch"), starlark.StringDict{
		"name":            starlark.String(name),
		"tags":            tags,
		"description":     starlark.String(description),
		"description_str": starlark.String(descriptionStr),
		"preview":         starlark.String(preview),
		"website":         starlark.String(website),
		"item":            starlark.String(item),
		"autodescription": autodescription,
	}), nil
}

func envBuiltin(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, def string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "key", &key, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(key); ok {
		return starlark.String(v), nil
	}
	return starlark.String(def), nil
}

// attrGetter looks up one named field of a branch value.
type attrGetter func(name string) (starlark.Value, bool)

func branchFromValue(v starlark.Value) (Branch, error) {
	var get attrGetter
	switch t := v.(type) {
	case *starlarkstruct.Struct:
		get = func(name string) (starlark.Value, bool) {
			val, err := t.Attr(name)
			return val, err == nil && val != nil
		}
	case *starlark.Dict:
		get = func(name string) (starlark.Value, bool) {
			val, found, err := t.Get(starlark.String(name))
			return val, err == nil && found
		}
	default:
		return Branch{}, fmt.Errorf("expected branch() or dict, got %s", v.Type())
	}

	str := func(name string) (string, error) {
		val, ok := get(name)
		if !ok || val == starlark.None {
			return "", nil
		}
		s, ok := starlark.AsString(val)
		if !ok {
			return "", fmt.Errorf("%s must be a string", name)
		}
		return s, nil
	}

	var b Branch
	var err error
	if b.Name, err = str("name"); err != nil {
		return b, err
	}
	if b.Name == "" {
		return b, fmt.Errorf("name is required")
	}
	if b.Description, err = str("description"); err != nil {
		return b, err
	}
	if b.DescriptionText, err = str("description_str"); err != nil {
		return b, err
	}
	if b.Preview, err = str("preview"); err != nil {
		return b, err
	}
	if b.Website, err = str("website"); err != nil {
		return b, err
	}

	item, err := str("item")
	if err != nil {
		return b, err
	}
	if item != "" {
		id, err := ParseItemID(item)
		if err != nil {
			return b, err
		}
		b.Item = &id
	}

	if tags, ok := get("tags"); ok && tags != starlark.None {
		if b.Tags, err = stringList(tags, "tags"); err != nil {
			return b, err
		}
	}

	if auto, ok := get("autodescription"); ok && auto != starlark.None {
		flag, ok := auto.(starlark.Bool)
		if !ok {
			return b, fmt.Errorf("autodescription must be a bool")
		}
		val := bool(flag)
		b.AutoDescription = &val
	}

	return b, nil
}

func stringList(v starlark.Value, field string) ([]string, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: %s must be a list of strings", ScriptFile, field)
	}
	it := iterable.Iterate()
	defer it.Done()

	var out []string
	var elem starlark.Value
	for it.Next(&elem) {
		s, ok := starlark.AsString(elem)
		if !ok {
			return nil, fmt.Errorf("%s: %s must contain only strings, got %s", ScriptFile, field, elem.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalString(globals starlark.StringDict, name string) (string, error) {
	v, ok := globals[name]
	if !ok || v == starlark.None {
		return "", nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s: %s must be a string, got %s", ScriptFile, name, v.Type())
	}
	return s, nil
}
