package tools

// Schema helpers for building JSON Schema definitions.

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty creates a string property with optional description.
func StringProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// NonEmptyStringProperty creates a string property that must have at least one character.
func NonEmptyStringProperty(description string) map[string]interface{} {
	prop := StringProperty(description)
	prop["minLength"] = 1
	return prop
}

// StringEnumProperty creates a string property with allowed values.
func StringEnumProperty(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// NumberProperty creates a number property bounded to [min, max] with a default.
func NumberProperty(description string, min, max, def float64) map[string]interface{} {
	return map[string]interface{}{
		"type":        "number",
		"description": description,
		"minimum":     min,
		"maximum":     max,
		"default":     def,
	}
}

// IntegerProperty creates an integer property bounded to [min, max] with a default.
func IntegerProperty(description string, min, max, def int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"minimum":     min,
		"maximum":     max,
		"default":     def,
	}
}

// WithOwner adds the required user_id property to an existing schema.
func WithOwner(schema map[string]interface{}) map[string]interface{} {
	// Clone schema
	result := make(map[string]interface{})
	for k, v := range schema {
		result[k] = v
	}

	props := make(map[string]interface{})
	if existing, ok := result["properties"].(map[string]interface{}); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props["user_id"] = NonEmptyStringProperty("Owner the operation is scoped to. Owners never see each other's data.")
	result["properties"] = props

	required, _ := result["required"].([]string)
	result["required"] = append([]string{"user_id"}, required...)

	return result
}

// BuildOwnedSchema creates an ObjectSchema and adds the owner field in one call.
func BuildOwnedSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	return WithOwner(ObjectSchema(properties, required...))
}
