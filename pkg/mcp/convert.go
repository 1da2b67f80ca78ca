package mcp

import (
	"github.com/jllopis/harness/pkg/capability"
	"github.com/mark3labs/mcp-go/mcp"
)

// toDescriptor converts a discovered tool. Parameter order follows the raw
// schema when the server sent one, otherwise it is sorted by name.
func toDescriptor(tool mcp.Tool, origin string) capability.Descriptor {
	desc := capability.Descriptor{
		Name:        tool.Name,
		Description: tool.Description,
		Origin:      origin,
	}
	if len(tool.RawInputSchema) > 0 {
		if schema, err := capability.ParseJSONSchema(tool.RawInputSchema); err == nil {
			desc.Params = schema
			return desc
		}
	}
	desc.Params = capability.SchemaFromProperties(tool.InputSchema.Properties, tool.InputSchema.Required)
	return desc
}
