package config

import "reflect"

// structToMap converts cfg into a nested map keyed by each field's
// "mapstructure" tag, the same key shape viper decodes from YAML. Used
// only for the runtime overlay's deep-merge-then-revalidate path.
func structToMap(cfg *Config) map[string]interface{} {
	return valueToMap(reflect.ValueOf(*cfg)).(map[string]interface{})
}

func valueToMap(v reflect.Value) interface{} {
	switch v.Kind() {
	case reflect.Struct:
		out := make(map[string]interface{})
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			tag := field.Tag.Get("mapstructure")
			if tag == "" {
				tag = field.Name
			}
			out[tag] = valueToMap(v.Field(i))
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, v.Len())
		for _, key := range v.MapKeys() {
			out[key.String()] = valueToMap(v.MapIndex(key))
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = valueToMap(v.Index(i))
		}
		return out
	default:
		return v.Interface()
	}
}

// deepMerge merges src into dst in place, recursing into nested maps and
// overwriting any other value type.
func deepMerge(dst, src map[string]interface{}) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}
