package structural

import (
	"sort"
	"strconv"
)

// node is one visited value of the raw tree.
type node struct {
	// Key is the property name holding the value. Array items carry the
	// key of their array.
	Key string
	// ParentKey is the property name of the object that holds Key.
	ParentKey string
	// Path is the index-precise element path (Bundle.entry[1].resource.id).
	Path string
	// ResourceType is the nearest enclosing resource type.
	ResourceType string
	// Parent is the object that holds Key.
	Parent map[string]any
	Value  any
	// ExtDepth counts the extension arrays enclosing this node.
	ExtDepth int
}

// walkTree visits every value beneath root in a deterministic order: object
// keys sorted, array items by index. Each grammar family performs its own
// walk with its own visitor.
func walkTree(root map[string]any, visit func(n *node)) {
	rt, _ := root["resourceType"].(string)
	walkObject(root, "", rootPath, rt, 0, visit)
}

const rootPath = "Bundle"

func walkObject(obj map[string]any, objKey, objPath, resourceType string, extDepth int, visit func(n *node)) {
	if rt, ok := obj["resourceType"].(string); ok && rt != "" {
		resourceType = rt
	}
	for _, k := range sortedKeys(obj) {
		v := obj[k]
		childPath := objPath + "." + k
		childExt := extDepth
		if k == "extension" || k == "modifierExtension" {
			childExt++
		}

		if arr, ok := v.([]any); ok {
			for i, item := range arr {
				n := &node{
					Key:          k,
					ParentKey:    objKey,
					Path:         childPath + "[" + strconv.Itoa(i) + "]",
					ResourceType: resourceType,
					Parent:       obj,
					Value:        item,
					ExtDepth:     childExt,
				}
				visit(n)
				if m, ok := item.(map[string]any); ok {
					walkObject(m, k, n.Path, resourceType, childExt, visit)
				}
			}
			continue
		}

		n := &node{
			Key:          k,
			ParentKey:    objKey,
			Path:         childPath,
			ResourceType: resourceType,
			Parent:       obj,
			Value:        v,
			ExtDepth:     childExt,
		}
		visit(n)
		if m, ok := v.(map[string]any); ok {
			walkObject(m, k, childPath, resourceType, childExt, visit)
		}
	}
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
