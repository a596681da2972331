package turns

import "github.com/google/uuid"

// Convenience constructors for commonly used Block shapes.

// Role string constants used for roles in blocks.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// NewUserTextBlock returns a Block representing a user text message.
func NewUserTextBlock(text string) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindUser,
		Role:    RoleUser,
		Payload: map[string]any{PayloadKeyText: text},
	}
}

// NewSystemTextBlock returns a Block representing a system directive.
func NewSystemTextBlock(text string) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindSystem,
		Role:    RoleSystem,
		Payload: map[string]any{PayloadKeyText: text},
	}
}

// NewAssistantTextBlock returns a Block representing assistant text output.
func NewAssistantTextBlock(text string) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindText,
		Role:    RoleAssistant,
		Payload: map[string]any{PayloadKeyText: text},
	}
}

// NewReasoningBlock returns a Block holding reasoning/thinking text.
func NewReasoningBlock(text string) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindReasoning,
		Role:    RoleAssistant,
		Payload: map[string]any{PayloadKeyText: text},
	}
}

// NewToolCallBlock returns a Block requesting invocation of a tool. id is the
// provider-assigned identifier correlating the eventual result.
func NewToolCallBlock(id string, name string, args any) Block {
	return Block{
		ID:   id,
		Kind: BlockKindToolCall,
		Role: RoleAssistant,
		Payload: map[string]any{
			PayloadKeyID:   id,
			PayloadKeyName: name,
			PayloadKeyArgs: args,
		},
	}
}

// NewToolResultBlock returns a Block capturing the result of a tool execution.
// id must match the corresponding tool_call id.
func NewToolResultBlock(id string, result any) Block {
	return Block{
		ID:   uuid.NewString(),
		Kind: BlockKindToolResult,
		Role: RoleTool,
		Payload: map[string]any{
			PayloadKeyID:     id,
			PayloadKeyResult: result,
		},
	}
}

// NewToolErrorBlock returns a Block carrying a tool execution failure so the
// model can self-correct on the next turn.
func NewToolErrorBlock(id string, name string, errText string) Block {
	return Block{
		ID:   uuid.NewString(),
		Kind: BlockKindToolError,
		Role: RoleTool,
		Payload: map[string]any{
			PayloadKeyID:    id,
			PayloadKeyName:  name,
			PayloadKeyError: errText,
		},
	}
}

// NewSourceBlock returns a Block referencing a cited source.
func NewSourceBlock(id, title, url string) Block {
	if id == "" {
		id = uuid.NewString()
	}
	return Block{
		ID:   id,
		Kind: BlockKindSource,
		Role: RoleAssistant,
		Payload: map[string]any{
			PayloadKeySourceTitle: title,
			PayloadKeySourceURL:   url,
		},
	}
}

// NewFileBlock returns a Block referencing a generated file.
func NewFileBlock(id, mediaType, name, base64Data string) Block {
	if id == "" {
		id = uuid.NewString()
	}
	return Block{
		ID:   id,
		Kind: BlockKindFile,
		Role: RoleAssistant,
		Payload: map[string]any{
			PayloadKeyMediaType: mediaType,
			PayloadKeyName:      name,
			PayloadKeyData:      base64Data,
		},
	}
}

// WithBlockMetadata sets key/value pairs on a copy of the block's Metadata and
// returns it.
func WithBlockMetadata(b Block, kvs map[string]any) Block {
	if len(kvs) == 0 {
		return b
	}
	cloned := make(map[string]any, len(b.Metadata)+len(kvs))
	for k, v := range b.Metadata {
		cloned[k] = v
	}
	for k, v := range kvs {
		cloned[k] = v
	}
	b.Metadata = cloned
	return b
}

// BlockText returns the text payload of a block, or "".
func BlockText(b Block) string {
	if b.Payload == nil {
		return ""
	}
	if s, ok := b.Payload[PayloadKeyText].(string); ok {
		return s
	}
	return ""
}
